package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLoadCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <name>",
		Short: "Restart the game server on a save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.configDir, appOptions{logOut: oneShotLogOutput(), history: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.requireSwap(); err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a.orch.Init(ctx)
			res, err := a.orch.LoadSave(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %q in %s (operation %s)\n",
				res.Save, res.Duration.Round(time.Millisecond), res.OperationID)
			return nil
		},
	}
}
