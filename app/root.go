// Package app assembles the questd command tree.
package app

import (
	"github.com/spf13/cobra"

	"github.com/questchain/node/cmd/version"
)

// RootCmd builds the questd root command.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "questd",
		Short:         "Off-chain game node: sessions, stat attestations and settlement tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(),
		newKeygenCmd(),
		newSignCmd(),
		newVerifyCmd(),
		version.NewVersionCmd(),
	)
	return cmd
}
