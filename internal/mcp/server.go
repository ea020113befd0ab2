// Package mcp exposes read-mostly lockwatch operations as MCP tools so an
// operator's assistant can inspect and reset a running instance.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/lockwatch/internal/locker"
	"github.com/ppiankov/lockwatch/internal/subject"
)

// Instance is the running lockwatch the tools act on. *client.Client
// satisfies it.
type Instance interface {
	Status(ctx context.Context) (locker.Status, error)
	Protected(ctx context.Context) ([]subject.ID, error)
	ResetSessions(ctx context.Context) error
}

// Config holds MCP server configuration.
type Config struct {
	Instance     Instance
	AuditLogPath string
	Version      string
}

// Server wraps the MCP SDK server.
type Server struct {
	mcpServer *mcpsdk.Server
	instance  Instance
	auditPath string
}

// New creates an MCP server with all lockwatch tools registered.
func New(cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		instance:  cfg.Instance,
		auditPath: cfg.AuditLogPath,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "lockwatch",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on stdio. Blocks until ctx is cancelled or the peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lockwatch_status",
		Description: "Report whether monitoring is on, how many subjects are protected, the visible prompt, and engine counters.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lockwatch_protected",
		Description: "List every app and virtual subject that has a credential.",
	}, s.handleProtected)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lockwatch_reset_sessions",
		Description: "Forget every app unlocked this session so each one prompts again.",
	}, s.handleResetSessions)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lockwatch_audit_verify",
		Description: "Verify the hash chain of the local audit log.",
	}, s.handleAuditVerify)
}
