package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	lockmcp "github.com/ppiankov/lockwatch/internal/mcp"
)

var mcpAddr string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpAddr, "addr", "", "Bridge address (default from config)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for operator assistants",
	Long:  "Runs an MCP (Model Context Protocol) server over stdio backed by the\nrunning lockwatch. Tools: status, protected, reset_sessions, audit_verify.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mcpAddr != "" {
		remoteAddr = mcpAddr
	}
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	srv := lockmcp.New(lockmcp.Config{
		Instance:     c,
		AuditLogPath: cfg.AuditLogPath(),
		Version:      version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "lockwatch MCP server running on stdio")
	return srv.Run(ctx)
}
