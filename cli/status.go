package cli

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Reports the daemon version, uptime, and device/macro counts.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("status", nil)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
