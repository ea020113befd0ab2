package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/lockwatch/internal/audit"
	"github.com/ppiankov/lockwatch/internal/engine"
)

// EmptyInput is the argument type of tools that take no parameters.
type EmptyInput struct{}

// StatusOutput mirrors locker.Status.
type StatusOutput struct {
	SessionID     string       `json:"session_id"`
	Monitoring    bool         `json:"monitoring"`
	Protected     int          `json:"protected"`
	PromptSubject string       `json:"prompt_subject,omitempty"`
	Stats         engine.Stats `json:"stats"`
	Error         string       `json:"error,omitempty"`
}

// ProtectedOutput lists protected subject identifiers.
type ProtectedOutput struct {
	Subjects []string `json:"subjects"`
	Error    string   `json:"error,omitempty"`
}

// ResetOutput reports the outcome of a session reset.
type ResetOutput struct {
	Reset bool   `json:"reset"`
	Error string `json:"error,omitempty"`
}

// AuditVerifyOutput reports the audit chain check.
type AuditVerifyOutput struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Events    map[string]int `json:"events,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
}

func (s *Server) handleStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st, err := s.instance.Status(ctx)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, StatusOutput{Error: err.Error()}, nil
	}
	out := StatusOutput{
		SessionID:  st.SessionID,
		Monitoring: st.Monitoring,
		Protected:  st.Protected,
		Stats:      st.Stats,
	}
	if st.Prompt != nil {
		out.PromptSubject = string(st.Prompt.Subject)
	}
	return nil, out, nil
}

func (s *Server) handleProtected(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, ProtectedOutput, error) {
	ids, err := s.instance.Protected(ctx)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, ProtectedOutput{Error: err.Error()}, nil
	}
	out := ProtectedOutput{Subjects: make([]string, 0, len(ids))}
	for _, id := range ids {
		out.Subjects = append(out.Subjects, string(id))
	}
	return nil, out, nil
}

func (s *Server) handleResetSessions(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, ResetOutput, error) {
	if err := s.instance.ResetSessions(ctx); err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, ResetOutput{Error: err.Error()}, nil
	}
	return nil, ResetOutput{Reset: true}, nil
}

func (s *Server) handleAuditVerify(_ context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, AuditVerifyOutput, error) {
	if s.auditPath == "" {
		return &mcpsdk.CallToolResult{IsError: true}, AuditVerifyOutput{Error: "no audit log configured"}, nil
	}
	res := audit.Verify(s.auditPath)
	out := AuditVerifyOutput{
		Valid:     res.Valid,
		Lines:     res.Lines,
		Events:    res.Events,
		Error:     res.Error,
		ErrorLine: res.ErrorLine,
	}
	if !res.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}
