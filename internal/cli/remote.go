package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockwatch/internal/bridge"
	"github.com/ppiankov/lockwatch/internal/client"
	"github.com/ppiankov/lockwatch/internal/subject"
)

var remoteAddr string

func init() {
	for _, c := range []*cobra.Command{eventCmd, keyguardCmd, submitCmd, dismissCmd, authorizeCmd, resetCmd, statusCmd, watchCmd} {
		c.Flags().StringVar(&remoteAddr, "addr", "", "Bridge address (default from config)")
		rootCmd.AddCommand(c)
	}
}

func dial() (*client.Client, error) {
	addr := remoteAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.Listen
	}
	return client.New(addr)
}

var eventCmd = &cobra.Command{
	Use:   "event <subject>",
	Short: "Report a foreground change to the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.ForegroundChanged(cmd.Context(), subject.ID(args[0]))
	},
}

var keyguardCmd = &cobra.Command{
	Use:       "keyguard <locked|unlocked>",
	Short:     "Report the device lock screen state",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"locked", "unlocked"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var locked bool
		switch args[0] {
		case "locked":
			locked = true
		case "unlocked":
		default:
			return fmt.Errorf("expected locked or unlocked, got %q", args[0])
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.SetKeyguard(cmd.Context(), locked)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <subject>",
	Short: "Enter the password for the visible prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := newSecretReader(cmd).read("Password")
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		res, err := c.Submit(cmd.Context(), subject.ID(args[0]), secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Outcome)
		if res.Message != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), res.Message)
		}
		return nil
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <subject>",
	Short: "Close the prompt without unlocking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		ok, err := c.Dismiss(cmd.Context(), subject.ID(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.ErrOrStderr(), "no prompt visible for that subject")
		}
		return nil
	},
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize <virtual-subject>",
	Short: "Open a prompt guarding a critical operation on the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		p, shown, err := c.Authorize(cmd.Context(), subject.ID(args[0]))
		if err != nil {
			return err
		}
		if !shown {
			fmt.Fprintln(cmd.OutOrStdout(), "no password set; operation performed")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "prompt %s open for %s\n", p.ID, p.Subject)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Lock every app again",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.ResetSessions(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Sessions reset")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running server's state as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(st, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream prompt instructions as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		enc := json.NewEncoder(cmd.OutOrStdout())
		return c.WatchPrompts(ctx, func(sig bridge.Signal) {
			if err := enc.Encode(sig); err != nil {
				fmt.Fprintf(os.Stderr, "watch: %v\n", err)
			}
		})
	},
}

