// Package cli implements the openclaw command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "openclaw",
	Short: "Agent run orchestration daemon",
	Long: `openclaw serializes conversational agent runs onto named lanes,
streams their replies, and exposes them over a local WebSocket gateway.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.openclaw/openclaw.json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}
