package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockwatch/internal/subject"
)

func init() {
	rootCmd.AddCommand(passwdCmd)
	passwdCmd.AddCommand(passwdSetCmd)
	passwdCmd.AddCommand(passwdDefaultCmd)
	passwdCmd.AddCommand(passwdListCmd)
	passwdCmd.AddCommand(passwdRemoveCmd)
	passwdCmd.AddCommand(passwdDeleteAllCmd)
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Manage per-app passwords",
	Long:  "Sets, lists and removes app passwords. These commands open the state\ndirectory directly and refuse to run while lockwatch serve is running.",
}

var passwdSetCmd = &cobra.Command{
	Use:   "set <subject>",
	Short: "Protect an app (or virtual subject) with a password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer l.Close()

		id := subject.ID(args[0])
		sr := newSecretReader(cmd)
		secret, err := readNewSecret(sr)
		if err != nil {
			return err
		}
		p, shown, err := l.SetPassword(cmd.Context(), id, secret)
		if err != nil {
			return err
		}
		if shown {
			if err := confirm(cmd, sr, l, p); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password set for %s\n", id)
		return nil
	},
}

var passwdDefaultCmd = &cobra.Command{
	Use:   "default <subject>...",
	Short: "Give several apps the same password in one step",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer l.Close()

		ids := make([]subject.ID, len(args))
		for i, a := range args {
			ids[i] = subject.ID(a)
		}
		sr := newSecretReader(cmd)
		secret, err := readNewSecret(sr)
		if err != nil {
			return err
		}
		p, shown, err := l.SetDefaultForAll(cmd.Context(), ids, secret)
		if err != nil {
			return err
		}
		if shown {
			if err := confirm(cmd, sr, l, p); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password set for %d subjects\n", len(ids))
		return nil
	},
}

var passwdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List protected subjects",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer l.Close()

		ids, err := l.Protected(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			kind := "app"
			if subject.IsVirtual(id) {
				kind = "virtual"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", kind, id)
		}
		return nil
	},
}

var passwdRemoveCmd = &cobra.Command{
	Use:   "remove <subject>",
	Short: "Stop protecting a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer l.Close()

		id := subject.ID(args[0])
		p, shown, err := l.Remove(cmd.Context(), id)
		if err != nil {
			return err
		}
		if shown {
			if err := confirm(cmd, newSecretReader(cmd), l, p); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password removed for %s\n", id)
		return nil
	},
}

var passwdDeleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every password and switch monitoring off",
	Long:  "Asks for the delete-all password. While monitoring is on it asks for the\ndisable-monitoring password instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer l.Close()

		p, shown, err := l.DeleteAll(cmd.Context())
		if err != nil {
			return err
		}
		if shown {
			if err := confirm(cmd, newSecretReader(cmd), l, p); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All passwords deleted; monitoring is off")
		return nil
	},
}

// readNewSecret reads a secret twice and requires both to match.
func readNewSecret(sr *secretReader) (string, error) {
	first, err := sr.read("New password")
	if err != nil {
		return "", err
	}
	second, err := sr.read("Repeat password")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}
