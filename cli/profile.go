package cli

import (
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Profile management commands",
	Long:  `Commands for saving, loading, and deleting named macro profiles.`,
}

var profileSaveCmd = &cobra.Command{
	Use:   "save [name]",
	Short: "Save the current macro set as a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("profile_save", map[string]string{"name": args[0]})
	},
}

var profileLoadCmd = &cobra.Command{
	Use:   "load [name]",
	Short: "Load a profile, replacing the current macro set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("profile_load", map[string]string{"name": args[0]})
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("profiles", nil)
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("profile_delete", map[string]string{"name": args[0]})
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSaveCmd)
	profileCmd.AddCommand(profileLoadCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileDeleteCmd)
}
