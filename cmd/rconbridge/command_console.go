package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newConsoleCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Open an interactive console to the game server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.configDir, appOptions{history: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a.orch.Init(ctx)
			newConsole(a, os.Stdin, cmd.OutOrStdout()).Start(ctx)
			return nil
		},
	}
}
