package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pawrelay",
		Short: "Relay avatar ids found in the VRChat cache to the PAW index",
		Long: `pawrelay watches the local VRChat cache, extracts avatar ids from newly
written cache entries and submits each one once to the PAW index.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newScanCommand())
	cmd.AddCommand(newHistoryCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "pawrelay", version)
			return err
		},
	}
}
