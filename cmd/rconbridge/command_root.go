package main

import (
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconbridge/internal/config"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "1.0.0"

const Banner = `
  ____   ____ ___  _   _   ____       _     _
 |  _ \ / ___/ _ \| \ | | | __ ) _ __(_) __| | __ _  ___
 | |_) | |  | | | |  \| | |  _ \| '__| |/ _' |/ _' |/ _ \
 |  _ <| |__| |_| | |\  | | |_) | |  | | (_| | (_| |  __/
 |_| \_\\____\___/|_| \_| |____/|_|  |_|\__,_|\__, |\___|
                                              |___/  v%s
`

type rootOptions struct {
	configDir string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "rconbridge",
		Short:         "Remote console bridge for a game server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configDir, "config", "c", config.DefaultConfigDir, "configuration directory")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newExecCmd(opts))
	root.AddCommand(newSavesCmd(opts))
	root.AddCommand(newLoadCmd(opts))
	root.AddCommand(newConsoleCmd(opts))
	root.AddCommand(newSetupCmd(opts))

	return root
}
