// Package scheduler runs the bridge's periodic background tasks: server-side
// autosaves, daily history pruning and save directory statistics.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconbridge/internal/config"
	"github.com/energizer-project/rconbridge/internal/db"
	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/rcon"
	"github.com/energizer-project/rconbridge/internal/saves"
)

// Commander executes RCON commands.
type Commander interface {
	Execute(ctx context.Context, command string) rcon.Result
}

// Pruner deletes history recorded before a cutoff.
type Pruner interface {
	Prune(cutoff time.Time) (db.PruneResult, error)
}

// StateSource reports the process state so autosaves skip a stopped server.
type StateSource interface {
	State() events.ProcessState
}

// Scheduler manages periodic background tasks. Any dependency may be nil,
// which disables the tasks that need it.
type Scheduler struct {
	cfg       config.SchedulerConfig
	commander Commander
	state     StateSource
	pruner    Pruner
	store     *saves.Store
	logger    zerolog.Logger

	// now is replaced in tests.
	now func() time.Time

	wg sync.WaitGroup
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.SchedulerConfig, commander Commander, state StateSource, pruner Pruner, store *saves.Store) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		commander: commander,
		state:     state,
		pruner:    pruner,
		store:     store,
		logger:    log.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// Start runs every enabled task until ctx is cancelled, then waits for them.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	if s.commander != nil && s.cfg.AutosaveIntervalMin > 0 {
		s.spawn(func() { s.runAutosaveLoop(ctx, time.Duration(s.cfg.AutosaveIntervalMin)*time.Minute) })
	}
	if s.pruner != nil {
		s.spawn(func() { s.runCleanupLoop(ctx) })
	}
	if s.store != nil {
		s.spawn(func() { s.runStatsLoop(ctx) })
	}

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Scheduler) runAutosaveLoop(ctx context.Context, interval time.Duration) {
	s.logger.Info().Dur("interval", interval).Msg("autosave scheduled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Autosave(ctx)
		}
	}
}

// Autosave asks the server to save its current world. It reports whether a
// save command was sent and succeeded.
func (s *Scheduler) Autosave(ctx context.Context) bool {
	if s.state != nil {
		if st := s.state.State(); st != events.StateRunning {
			s.logger.Debug().Str("state", st.String()).Msg("server not running, autosave skipped")
			return false
		}
	}

	res := s.commander.Execute(ctx, rcon.SaveCommand(""))
	if !res.OK() {
		s.logger.Warn().Str("kind", res.Kind).Str("message", res.Message).Msg("autosave failed")
		return false
	}
	s.logger.Info().Msg("autosave completed")
	return true
}

// runCleanupLoop prunes history at the configured time each day.
func (s *Scheduler) runCleanupLoop(ctx context.Context) {
	for {
		nextRun := s.calculateNextCleanupTime()
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("history cleanup scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.CleanupHistory()
		}
	}
}

// CleanupHistory deletes history older than the retention period.
func (s *Scheduler) CleanupHistory() (db.PruneResult, error) {
	days := s.cfg.HistoryRetentionDays
	if days < 1 {
		days = 1
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	res, err := s.pruner.Prune(cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history cleanup failed")
		return res, err
	}

	s.logger.Info().
		Int64("commands", res.Commands).
		Int64("transitions", res.Transitions).
		Int64("swaps", res.Swaps).
		Time("cutoff", cutoff).
		Msg("history cleanup completed")
	return res, nil
}

// runStatsLoop logs save directory statistics once a day.
func (s *Scheduler) runStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectStats()
		}
	}
}

func (s *Scheduler) collectStats() {
	count, size, err := s.store.Usage()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to collect save stats")
		return
	}

	s.logger.Info().
		Int("save_count", count).
		Str("total_size", saves.FormatBytes(size)).
		Msg("daily stats collected")
}

// calculateNextCleanupTime returns the next occurrence of the configured
// HH:MM, falling back to 04:00.
func (s *Scheduler) calculateNextCleanupTime() time.Time {
	parts := strings.Split(s.cfg.HistoryCleanupTime, ":")

	hour, minute := 4, 0
	if len(parts) >= 2 {
		var h, m int
		if _, err := fmt.Sscanf(parts[0], "%d", &h); err == nil && h >= 0 && h < 24 {
			hour = h
		}
		if _, err := fmt.Sscanf(parts[1], "%d", &m); err == nil && m >= 0 && m < 60 {
			minute = m
		}
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
