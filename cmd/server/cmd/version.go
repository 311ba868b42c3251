package cmd

import (
	"github.com/spf13/cobra"

	v "github.com/Brownie44l1/garbage-api/internal/version"
)

var versionCmd = &cobra.Command{
	Use: "version",
	// no config or logger needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("git: %s\n", v.GitRevision)
		cmd.Printf("version: %s\n", v.Version)
	},
}
