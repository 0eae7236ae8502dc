package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconbridge/internal/api"
	"github.com/energizer-project/rconbridge/internal/connector"
	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/health"
	"github.com/energizer-project/rconbridge/internal/scheduler"
	"github.com/energizer-project/rconbridge/internal/telemetry"
	"github.com/energizer-project/rconbridge/internal/util"
)

// shutdownTimeout bounds the wait for background tasks after a stop request.
const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var withConsole bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, scheduler and telemetry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf(Banner, Version)
			fmt.Println()

			a, err := newApp(root.configDir, appOptions{logOut: os.Stdout, history: true})
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(cmd.Context(), a, withConsole)
		},
	}
	cmd.Flags().BoolVar(&withConsole, "console", false, "also run the interactive console on stdin")
	return cmd
}

func serve(parent context.Context, a *app, withConsole bool) error {
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("hostname", sysInfo.Hostname).
		Int("cpus", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("starting rconbridge")

	ctx, cancel := signalContext(parent)
	defer cancel()

	// A console "quit" stops the whole process.
	a.eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	if hook := a.cfg.GetApplicationData().Webhook; hook.URL != "" {
		notifier, err := connector.NewWebhookNotifier(hook)
		if err != nil {
			log.Warn().Err(err).Msg("webhook notifications disabled")
		} else {
			notifier.Attach(a.eventBus)
		}
	}

	state := a.orch.Init(ctx)
	log.Info().Str("state", state.String()).Msg("initial server state")

	appData := a.cfg.GetApplicationData()

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msgf("starting %s", name)
			fn()
		}()
	}

	if appData.API.Enabled {
		apiServer := api.NewServer(a.cfg, api.Deps{
			Executor:     a.executor,
			Orchestrator: a.orch,
			Store:        a.store,
			Process:      a.process,
			History:      a.history,
			Version:      Version,
		})
		run("REST API server", func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("API server stopped")
				cancel()
			}
		})
	}

	if appData.MQTT.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(appData.MQTT, a.eventBus, Version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			run("MQTT telemetry", func() {
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			})
		}
	}

	var pruner scheduler.Pruner
	if a.history != nil {
		pruner = a.history
	}
	sched := scheduler.NewScheduler(appData.Scheduler, a.executor, a.orch, pruner, a.store)
	run("task scheduler", func() { sched.Start(ctx) })

	healthMgr := health.NewManager(appData.Health, a.eventBus, a.orch, a.executor, a.store)
	run("health checks", func() { healthMgr.Start(ctx) })

	if withConsole {
		run("interactive console", func() {
			newConsole(a, os.Stdin, os.Stdout).Start(ctx)
		})
	}

	<-ctx.Done()
	log.Info().Msg("initiating graceful shutdown...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	log.Info().Msg("rconbridge stopped")
	return nil
}
