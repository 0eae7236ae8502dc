package main

import (
	"io"

	"github.com/energizer-project/rconbridge/internal/cli"
	"github.com/energizer-project/rconbridge/internal/server"
)

func newConsole(a *app, in io.Reader, out io.Writer) *cli.CLI {
	var orch *server.Orchestrator
	if a.cfg.SwapEnabled() {
		orch = a.orch
	}
	return cli.NewCLI(cli.Options{
		Executor:     a.executor,
		Orchestrator: orch,
		Store:        a.store,
		History:      a.history,
		EventBus:     a.eventBus,
	}, in, out)
}
