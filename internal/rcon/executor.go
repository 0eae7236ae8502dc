package rcon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconbridge/internal/events"
)

// Status is the outcome of an executed command.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the normalized command outcome. Protocol failures are reported
// here and never returned as errors.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// OK reports whether the command succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// ErrExecutorClosed is reported after Close.
var ErrExecutorClosed = errors.New("rcon executor closed")

// Executor owns the single live Conn and serializes every command through it.
type Executor struct {
	cfg      Config
	eventBus *events.EventBus
	logger   zerolog.Logger

	// sem is a one-slot semaphore guarding conn; it is held for the whole
	// connect + send + receive cycle.
	sem  chan struct{}
	conn *Conn

	connected atomic.Bool
	closed    atomic.Bool
}

// NewExecutor creates an executor. The connection is opened lazily on the
// first command. eventBus may be nil.
func NewExecutor(cfg Config, eventBus *events.EventBus) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		cfg:      cfg,
		eventBus: eventBus,
		sem:      make(chan struct{}, 1),
		logger: log.With().
			Str("component", "executor").
			Str("addr", cfg.Addr()).
			Logger(),
	}
}

// Config returns the effective connection settings.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute sends one command and waits for its response. Concurrent callers
// queue; a caller whose context ends while queued gets a cancelled result.
func (e *Executor) Execute(ctx context.Context, command string) Result {
	start := time.Now()

	body, err := e.execute(ctx, command)

	var res Result
	if err != nil {
		res = errorResult(err)
		e.logger.Warn().
			Err(err).
			Str("command", command).
			Str("kind", res.Kind).
			Msg("rcon command failed")
	} else {
		res = Result{Status: StatusSuccess, Message: body}
	}

	e.emit(command, res, time.Since(start))
	return res
}

func (e *Executor) execute(ctx context.Context, command string) (string, error) {
	if err := e.acquire(ctx); err != nil {
		return "", err
	}
	defer e.release()

	if e.closed.Load() {
		return "", ErrExecutorClosed
	}

	if err := e.ensureConnected(ctx); err != nil {
		return "", err
	}

	body, err := e.conn.Send(command)
	if err != nil {
		// A failed send leaves the socket in an unknown state: drop it and
		// report, never resend.
		e.dropConn()
		return "", err
	}
	return body, nil
}

// Reconnect replaces the current connection with a freshly authenticated one,
// applying the retry policy.
func (e *Executor) Reconnect(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if e.closed.Load() {
		return ErrExecutorClosed
	}

	e.dropConn()
	return e.ensureConnected(ctx)
}

// Disconnect closes the live connection, waiting for any in-flight command.
// The next Execute reconnects.
func (e *Executor) Disconnect() {
	e.sem <- struct{}{}
	defer e.release()
	e.dropConn()
}

// Connected reports whether an authenticated connection is currently held.
func (e *Executor) Connected() bool {
	return e.connected.Load()
}

// Close disconnects and rejects all further commands.
func (e *Executor) Close() {
	e.closed.Store(true)
	e.Disconnect()
	e.logger.Info().Msg("rcon executor closed")
}

// ensureConnected makes one initial attempt plus up to MaxRetries retries,
// sleeping retryDelay(attempt) between them. Must hold sem.
func (e *Executor) ensureConnected(ctx context.Context) error {
	if e.conn != nil && e.conn.Authenticated() {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt, e.cfg.RetryDelay)
			e.logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Int("max_retries", e.cfg.MaxRetries).
				Dur("delay", delay).
				Msg("rcon connect failed, retrying")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %w", errContextDone, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = e.connectOnce(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errContextDone) {
			return lastErr
		}
	}

	e.logger.Error().Err(lastErr).Int("attempts", e.cfg.MaxRetries+1).Msg("rcon connect retries exhausted")
	return lastErr
}

func (e *Executor) connectOnce(ctx context.Context) error {
	conn := NewConn(e.cfg)
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	if err := conn.Authenticate(); err != nil {
		conn.Close()
		return err
	}
	e.conn = conn
	e.connected.Store(true)
	return nil
}

func (e *Executor) dropConn() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connected.Store(false)
}

func (e *Executor) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errContextDone, ctx.Err())
	}
}

func (e *Executor) release() {
	<-e.sem
}

func (e *Executor) emit(command string, res Result, took time.Duration) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventCommandExecuted,
		Source: "executor",
		Payload: events.CommandExecutedPayload{
			Command:  command,
			Status:   string(res.Status),
			Kind:     res.Kind,
			Duration: took,
		},
	})
}

// retryDelay is the wait before retry number attempt (1-based).
func retryDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(attempt) * base
}

func errorResult(err error) Result {
	kind := Classify(err)
	if errors.Is(err, ErrExecutorClosed) {
		kind = KindConnection
	}
	return Result{
		Status:  StatusError,
		Message: kindMessages[kind],
		Kind:    kind,
		Details: err.Error(),
	}
}
