// Package cli provides the reclaw command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reclaw/reclaw/internal/cli/commands"
	"github.com/reclaw/reclaw/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "reclaw",
	Short: "Reclaw - personal agent gateway",
	Long: `Reclaw is a single-process control plane for personal agents.
It exposes a WebSocket RPC surface for operator clients and paired
nodes, persists sessions, runs and cron jobs in SQLite, and bridges
external channels over HTTP.`,
	Version: version.Version,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(commands.NewGatewayCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewCallCommand())
	rootCmd.AddCommand(commands.NewSessionsCommand())
	rootCmd.AddCommand(commands.NewCronCommand())
	rootCmd.AddCommand(commands.NewConfigureCommand())
	rootCmd.AddCommand(commands.NewLogsCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ~/.reclaw/reclaw.json)")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
