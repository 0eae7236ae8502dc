package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconbridge/internal/config"
)

func newSetupCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively create or update the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configDir)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg, os.Stdin, cmd.OutOrStdout())
		},
	}
}
