package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(monitoringCmd)
	monitoringCmd.AddCommand(monitoringEnableCmd)
	monitoringCmd.AddCommand(monitoringDisableCmd)
	monitoringCmd.AddCommand(monitoringStatusCmd)
}

var monitoringCmd = &cobra.Command{
	Use:   "monitoring",
	Short: "Turn app interception on or off",
}

var monitoringEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start intercepting protected apps",
	Long:  "Requires passwords on the disable-monitoring and critical-settings\nvirtual subjects so interception cannot be switched off silently.",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer l.Close()
		if err := l.EnableMonitoring(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Monitoring enabled")
		return nil
	},
}

var monitoringDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop intercepting (asks for the disable-monitoring password)",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer l.Close()

		p, shown, err := l.DisableMonitoring(cmd.Context())
		if err != nil {
			return err
		}
		if shown {
			if err := confirm(cmd, newSecretReader(cmd), l, p); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Monitoring disabled")
		return nil
	},
}

var monitoringStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether monitoring is on",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer l.Close()
		on, err := l.MonitoringEnabled(cmd.Context())
		if err != nil {
			return err
		}
		state := "off"
		if on {
			state = "on"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Monitoring: %s\n", state)
		return nil
	},
}
