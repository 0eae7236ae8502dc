package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconbridge/internal/cli"
	"github.com/energizer-project/rconbridge/internal/saves"
)

func newSavesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "saves",
		Short: "List saves, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.configDir, appOptions{logOut: oneShotLogOutput()})
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.store.List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No saves in %s\n", a.store.Dir())
				return nil
			}

			cli.RenderSaves(cmd.OutOrStdout(), records)

			count, size, _ := a.store.Usage()
			fmt.Fprintf(cmd.OutOrStdout(), "%d saves, %s\n", count, saves.FormatBytes(size))
			return nil
		},
	}
}
