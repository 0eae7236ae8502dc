package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/rcon"
	"github.com/energizer-project/rconbridge/internal/saves"
)

// Defaults for OrchestratorConfig.
const (
	DefaultSettleDelay   = 3 * time.Second
	DefaultProbeInterval = 2 * time.Second
	DefaultProbeAttempts = 30
	DefaultUploadName    = "uploaded"
)

// recoverTimeout bounds the best-effort reconnect after a failed swap.
const recoverTimeout = 30 * time.Second

var (
	// ErrProcess is the errors.Is target for ProcessError.
	ErrProcess = errors.New("server process error")
	// ErrSwapInProgress rejects a swap requested while another one runs.
	ErrSwapInProgress = errors.New("save swap already in progress")
)

// ProcessError reports a swap in which the server never became ready.
type ProcessError struct {
	Save string
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("failed to load save %q: %v", e.Save, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func (e *ProcessError) Is(target error) bool { return target == ErrProcess }

// Supervisor is the process control capability the orchestrator needs.
type Supervisor interface {
	// Start launches the server on a save, detached from ctx.
	Start(ctx context.Context, save string) error
	// Stop terminates the server. No running server is not an error.
	Stop(ctx context.Context) error
	// IsListening reports whether the RCON port accepts connections.
	IsListening(ctx context.Context) bool
	// IsRunning reports whether the process started by Start is alive.
	IsRunning() bool
}

// OrchestratorConfig tunes the swap sequence.
type OrchestratorConfig struct {
	SettleDelay   time.Duration
	ProbeInterval time.Duration
	ProbeAttempts int
	// LockFile is removed after the settle delay if the old process left it.
	LockFile   string
	UploadName string
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = DefaultProbeAttempts
	}
	if c.UploadName == "" {
		c.UploadName = DefaultUploadName
	}
	return c
}

// SwapResult describes a completed save swap.
type SwapResult struct {
	Save        string        `json:"save"`
	OperationID string        `json:"operation_id"`
	Duration    time.Duration `json:"duration"`
}

// UploadResult describes a stored upload and the swap it triggered, if any.
type UploadResult struct {
	Record saves.Record `json:"record"`
	Swap   *SwapResult  `json:"swap,omitempty"`
}

// Orchestrator sequences save swaps: stop the server, restart it on another
// save, wait until it accepts RCON logins and reconnect the executor.
type Orchestrator struct {
	cfg        OrchestratorConfig
	store      *saves.Store
	supervisor Supervisor
	executor   *rcon.Executor
	eventBus   *events.EventBus
	state      *StateTracker
	logger     zerolog.Logger

	// probe checks readiness; replaced in tests.
	probe func(ctx context.Context) error

	swapMu   sync.Mutex
	swapping atomic.Bool
}

// NewOrchestrator wires the swap sequence. eventBus may be nil.
func NewOrchestrator(cfg OrchestratorConfig, store *saves.Store, supervisor Supervisor, executor *rcon.Executor, eventBus *events.EventBus) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg.withDefaults(),
		store:      store,
		supervisor: supervisor,
		executor:   executor,
		eventBus:   eventBus,
		state:      NewStateTracker(eventBus),
		logger:     log.With().Str("component", "orchestrator").Logger(),
	}
	o.probe = func(ctx context.Context) error {
		return rcon.Probe(ctx, executor.Config())
	}
	return o
}

// Init sets the initial state from whether the executor can reach a server.
func (o *Orchestrator) Init(ctx context.Context) events.ProcessState {
	if err := o.executor.Reconnect(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("no RCON server reachable at startup")
		o.state.Set(ctx, "", events.StateStopped, "")
		return events.StateStopped
	}
	o.state.Set(ctx, "", events.StateRunning, "")
	return events.StateRunning
}

// Refresh logs in to the server and reconciles the state with the result.
// A reachable server ends RUNNING with the executor connected; an
// unreachable one ends STOPPED with the connection dropped. Refresh never
// runs during a swap.
func (o *Orchestrator) Refresh(ctx context.Context) (events.ProcessState, error) {
	if !o.swapMu.TryLock() {
		return o.state.Get(), ErrSwapInProgress
	}
	defer o.swapMu.Unlock()

	current := o.state.Get()
	if err := o.probe(ctx); err != nil {
		if current != events.StateStopped {
			o.logger.Warn().Err(err).Str("state", current.String()).Msg("server unreachable")
			o.executor.Disconnect()
			o.state.Set(ctx, "", events.StateStopped, "")
		}
		return events.StateStopped, err
	}

	if !o.executor.Connected() {
		if err := o.executor.Reconnect(ctx); err != nil {
			return current, err
		}
	}
	if current != events.StateRunning {
		o.logger.Info().Str("state", current.String()).Msg("server reachable again")
		o.state.Set(ctx, "", events.StateRunning, "")
	}
	return events.StateRunning, nil
}

// State returns the current process state.
func (o *Orchestrator) State() events.ProcessState {
	return o.state.Get()
}

// Snapshot returns the state along with the current save and swap flag.
func (o *Orchestrator) Snapshot() StateSnapshot {
	snap := o.state.Snapshot()
	snap.Swapping = o.swapping.Load()
	return snap
}

// Store returns the save store.
func (o *Orchestrator) Store() *saves.Store {
	return o.store
}

// LoadSave restarts the server on the named save. It fails with a
// saves.NotFoundError before touching the process if the save is unknown,
// with ErrSwapInProgress if another swap runs, and with a *ProcessError if
// the restarted server never accepts RCON logins.
//
// Once started, a swap runs to completion even if ctx is cancelled; ctx
// only carries values such as the request logger fields.
func (o *Orchestrator) LoadSave(ctx context.Context, name string) (*SwapResult, error) {
	if !o.swapMu.TryLock() {
		return nil, ErrSwapInProgress
	}
	defer o.swapMu.Unlock()

	o.swapping.Store(true)
	defer o.swapping.Store(false)

	return o.loadSave(context.WithoutCancel(ctx), name)
}

// UploadSave stores r as the canonical upload and optionally loads it. The
// swap is detached from ctx like LoadSave.
func (o *Orchestrator) UploadSave(ctx context.Context, r io.Reader, autoLoad bool) (*UploadResult, error) {
	if !o.swapMu.TryLock() {
		return nil, ErrSwapInProgress
	}
	defer o.swapMu.Unlock()

	rec, err := o.store.Put(o.cfg.UploadName, r)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	o.emit(events.EventSaveUploaded, events.SaveUploadedPayload{
		Name:      rec.Name,
		SizeBytes: rec.SizeBytes,
		AutoLoad:  autoLoad,
	})

	result := &UploadResult{Record: rec}
	if !autoLoad {
		return result, nil
	}

	o.swapping.Store(true)
	defer o.swapping.Store(false)

	swap, err := o.loadSave(context.WithoutCancel(ctx), rec.Name)
	if err != nil {
		return result, err
	}
	result.Swap = swap
	return result, nil
}

func (o *Orchestrator) loadSave(ctx context.Context, name string) (*SwapResult, error) {
	rec, err := o.store.Get(name)
	if err != nil {
		return nil, err
	}

	opID := uuid.NewString()
	start := time.Now()
	logger := o.logger.With().Str("operation_id", opID).Str("save", rec.Name).Logger()
	logger.Info().Msg("save swap started")

	// STOPPING: release the connection before the process goes away.
	o.state.Set(ctx, opID, events.StateStopping, "")
	o.executor.Disconnect()
	if err := o.supervisor.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("stopping server reported an error")
	}

	if err := sleepCtx(ctx, o.cfg.SettleDelay); err != nil {
		return nil, o.fail(opID, rec.Name, start, err)
	}
	o.removeStaleLock(logger)
	o.state.Set(ctx, opID, events.StateStopped, "")

	// STARTING
	o.state.Set(ctx, opID, events.StateStarting, rec.Name)
	if err := o.supervisor.Start(ctx, rec.Name); err != nil {
		return nil, o.fail(opID, rec.Name, start, err)
	}

	if err := o.waitReady(ctx, logger); err != nil {
		return nil, o.fail(opID, rec.Name, start, err)
	}
	o.state.Set(ctx, opID, events.StateReady, "")

	if err := o.executor.Reconnect(ctx); err != nil {
		return nil, o.fail(opID, rec.Name, start, err)
	}
	o.state.Set(ctx, opID, events.StateRunning, "")

	took := time.Since(start)
	o.emit(events.EventSaveLoaded, events.SaveLoadedPayload{
		OperationID: opID,
		Save:        rec.Name,
		Success:     true,
		StartedAt:   start,
		Duration:    took,
	})
	logger.Info().Dur("duration", took).Msg("save swap completed")

	return &SwapResult{Save: rec.Name, OperationID: opID, Duration: took}, nil
}

// waitReady polls until a full RCON login succeeds or the attempt budget
// runs out. The started process must stay alive throughout: whatever else
// answers on the RCON port is not the server that was asked for.
func (o *Orchestrator) waitReady(ctx context.Context, logger zerolog.Logger) error {
	lastErr := errors.New("server not listening")
	for attempt := 1; attempt <= o.cfg.ProbeAttempts; attempt++ {
		if err := sleepCtx(ctx, o.cfg.ProbeInterval); err != nil {
			return err
		}
		if !o.supervisor.IsRunning() {
			return ErrProcessExited
		}

		if o.supervisor.IsListening(ctx) {
			lastErr = o.probe(ctx)
			if lastErr == nil && !o.supervisor.IsRunning() {
				return ErrProcessExited
			}
			if lastErr == nil {
				logger.Info().Int("attempt", attempt).Msg("server accepted RCON login")
				return nil
			}
		} else {
			lastErr = errors.New("server not listening")
		}

		logger.Debug().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", o.cfg.ProbeAttempts).
			Msg("server not ready yet")
	}
	return fmt.Errorf("server not ready after %d attempts: %w", o.cfg.ProbeAttempts, lastErr)
}

// fail reconnects to whatever server may still be listening, records the
// outcome and returns the cause as a *ProcessError.
func (o *Orchestrator) fail(opID, save string, start time.Time, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), recoverTimeout)
	defer cancel()

	logger := o.logger.With().Str("operation_id", opID).Str("save", save).Logger()
	logger.Error().Err(cause).Msg("save swap failed, attempting to reconnect")

	if err := o.executor.Reconnect(ctx); err != nil {
		logger.Warn().Err(err).Msg("reconnect after failed swap failed")
		o.state.Set(ctx, opID, events.StateStopped, "")
	} else {
		logger.Info().Msg("reconnected after failed swap")
		o.state.Set(ctx, opID, events.StateRunning, "")
	}

	err := &ProcessError{Save: save, Err: cause}
	o.emit(events.EventSaveLoaded, events.SaveLoadedPayload{
		OperationID: opID,
		Save:        save,
		Success:     false,
		Error:       err.Error(),
		StartedAt:   start,
		Duration:    time.Since(start),
	})
	return err
}

func (o *Orchestrator) removeStaleLock(logger zerolog.Logger) {
	if o.cfg.LockFile == "" {
		return
	}
	if err := os.Remove(o.cfg.LockFile); err == nil {
		logger.Warn().Str("lock_file", o.cfg.LockFile).Msg("removed stale lock file")
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("lock_file", o.cfg.LockFile).Msg("failed to remove lock file")
	}
}

func (o *Orchestrator) emit(typ events.EventType, payload interface{}) {
	if o.eventBus == nil {
		return
	}
	o.eventBus.Emit(context.Background(), events.Event{
		Type:    typ,
		Source:  "orchestrator",
		Payload: payload,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
