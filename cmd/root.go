package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmforge",
	Short: "Provision short-lived VMs on isolated tenant networks",
	Long: `vmforge provisions short-lived virtual machines on a single host,
each confined to its tenant's VLAN-isolated network segment, and returns
the credentials needed to reach the new machine over SSH.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
