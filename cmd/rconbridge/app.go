package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconbridge/internal/config"
	"github.com/energizer-project/rconbridge/internal/db"
	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/rcon"
	"github.com/energizer-project/rconbridge/internal/saves"
	"github.com/energizer-project/rconbridge/internal/server"
	"github.com/energizer-project/rconbridge/internal/util"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	eventBus *events.EventBus
	executor *rcon.Executor
	store    *saves.Store
	process  *server.ProcessManager
	orch     *server.Orchestrator
	history  *db.History
}

type appOptions struct {
	// logOut receives console log output; nil disables it.
	logOut io.Writer
	// history opens the SQLite history and records bus events into it.
	history bool
}

// newApp loads configuration, sets up logging and wires the core components.
func newApp(configDir string, opts appOptions) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}

	logging := cfg.GetApplicationData().Logging
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    opts.logOut != nil,
		ConsoleOut: opts.logOut,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return nil, fmt.Errorf("configuration %s is invalid, fix the errors above or run 'rconbridge setup'", cfg.Path())
	}

	a := &app{
		cfg:      cfg,
		eventBus: events.NewEventBus(),
	}

	if opts.history {
		path := cfg.GetApplicationData().Database.Path
		if !filepath.IsAbs(path) && filepath.Dir(path) == config.DefaultConfigDir {
			path = filepath.Join(configDir, filepath.Base(path))
		}
		a.history, err = db.NewHistory(path)
		if err != nil {
			log.Warn().Err(err).Msg("history database unavailable, continuing without history")
		} else {
			a.history.Attach(a.eventBus)
		}
	}

	rc := cfg.GetRCON()
	srv := cfg.GetServer()

	a.executor = rcon.NewExecutor(rcon.Config{
		Host:            rc.Host,
		Port:            rc.Port,
		Password:        rc.Password,
		ConnectTimeout:  rc.ConnectTimeout(),
		ResponseTimeout: rc.ResponseTimeout(),
		MaxRetries:      rc.MaxRetries,
		RetryDelay:      rc.RetryDelay(),
	}, a.eventBus)

	a.store = saves.NewStore(srv.SaveDirectory)

	a.process = server.NewProcessManager(server.ProcessConfig{
		Executable:    srv.Executable,
		WorkDir:       srv.WorkDirectory,
		GamePort:      srv.GamePort,
		SettingsPath:  srv.SettingsPath,
		ModDirectory:  srv.ModDirectory,
		SaveDirectory: srv.SaveDirectory,
		RconHost:      rc.Host,
		RconPort:      rc.Port,
		RconPassword:  rc.Password,
		ProcessName:   srv.ProcessName,
	})

	a.orch = server.NewOrchestrator(server.OrchestratorConfig{
		SettleDelay:   srv.SettleDelay(),
		ProbeInterval: srv.ProbeInterval(),
		ProbeAttempts: srv.ProbeAttempts,
		LockFile:      srv.LockFile,
		UploadName:    srv.UploadName,
	}, a.store, a.process, a.executor, a.eventBus)

	return a, nil
}

// requireSwap fails when no server executable is configured.
func (a *app) requireSwap() error {
	if !a.cfg.SwapEnabled() {
		return fmt.Errorf("save loading is disabled: set server.executable in %s", a.cfg.Path())
	}
	return nil
}

// Close releases the connection, waits for event handlers and closes the
// history database.
func (a *app) Close() {
	a.executor.Close()
	a.eventBus.Stop()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close history database")
		}
	}
}

// oneShotLogOutput keeps logs off stdout so command output stays clean.
func oneShotLogOutput() io.Writer {
	return os.Stderr
}
