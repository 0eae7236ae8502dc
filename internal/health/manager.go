// Package health runs periodic checks on the game server connection and
// the save volume, and publishes a heartbeat on the event bus.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconbridge/internal/config"
	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/server"
	"github.com/energizer-project/rconbridge/internal/util"
)

// Target is the orchestrator surface the checks need.
type Target interface {
	Refresh(ctx context.Context) (events.ProcessState, error)
	Snapshot() server.StateSnapshot
}

// Connection reports whether the RCON session is open.
type Connection interface {
	Connected() bool
}

// SaveCounter reports the number and total size of stored saves.
type SaveCounter interface {
	Usage() (int, int64, error)
	Dir() string
}

// Manager runs the periodic health checks.
type Manager struct {
	cfg      config.HealthConfig
	eventBus *events.EventBus
	target   Target
	conn     Connection
	saves    SaveCounter
	logger   zerolog.Logger
	started  time.Time

	// diskUsage is replaced in tests.
	diskUsage func(path string) (*util.DiskUsage, error)
	lastLevel string
}

// NewManager creates a health manager. conn and saves may be nil.
func NewManager(cfg config.HealthConfig, eventBus *events.EventBus, target Target, conn Connection, saves SaveCounter) *Manager {
	return &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		target:    target,
		conn:      conn,
		saves:     saves,
		logger:    log.With().Str("component", "health").Logger(),
		started:   time.Now(),
		diskUsage: util.GetDiskUsage,
	}
}

// Start runs every enabled check on its own ticker until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"connection", m.cfg.ConnectionCheckInterval(), m.checkConnection},
		{"disk_utilization", m.cfg.DiskCheckInterval(), m.checkDiskUtilization},
		{"heartbeat", m.cfg.HeartbeatInterval(), m.heartbeat},
	}

	done := make(chan struct{})
	running := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		if check.name == "disk_utilization" && m.saves == nil {
			continue
		}

		running++
		check := check
		go func() {
			defer func() { done <- struct{}{} }()

			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", running).Msg("health check manager started")

	<-ctx.Done()
	for i := 0; i < running; i++ {
		<-done
	}
	m.logger.Info().Msg("health check manager stopped")
}

// checkConnection reconciles the process state with a fresh RCON login.
func (m *Manager) checkConnection(ctx context.Context) {
	state, err := m.target.Refresh(ctx)
	switch {
	case errors.Is(err, server.ErrSwapInProgress):
		m.logger.Debug().Msg("save swap running, connection check skipped")
	case err != nil:
		m.logger.Debug().Err(err).Str("state", state.String()).Msg("connection check failed")
	default:
		m.logger.Trace().Str("state", state.String()).Msg("connection check passed")
	}
}

// DiskLevel maps a usage percentage to an alert level. Below 80% there is
// no alert.
func DiskLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 100:
		return "critical"
	case usedPercent >= 95:
		return "error"
	case usedPercent >= 90:
		return "warning"
	case usedPercent >= 80:
		return "info"
	default:
		return ""
	}
}

// checkDiskUtilization alerts when the save volume crosses a new threshold.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	usage, err := m.diskUsage(m.saves.Dir())
	if err != nil {
		m.logger.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	m.logger.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	level := DiskLevel(usage.UsedPercent)
	if level == m.lastLevel {
		return
	}
	m.lastLevel = level
	if level == "" {
		m.logger.Info().Float64("used_percent", usage.UsedPercent).Msg("disk usage back below alert threshold")
		return
	}

	message := fmt.Sprintf("Save volume usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)
	m.logger.Warn().Str("level", level).Msg(message)

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventDiskAlert,
		Source: "health_check",
		Payload: events.DiskAlertPayload{
			Level:       level,
			Message:     message,
			UsedPercent: usage.UsedPercent,
		},
	})
}

// Heartbeat builds the current status summary.
func (m *Manager) Heartbeat() events.HeartbeatPayload {
	snap := m.target.Snapshot()
	hb := events.HeartbeatPayload{
		State:  snap.State,
		Save:   snap.Save,
		Uptime: int64(time.Since(m.started).Seconds()),
	}
	if m.conn != nil {
		hb.Connected = m.conn.Connected()
	}
	if m.saves != nil {
		if count, _, err := m.saves.Usage(); err == nil {
			hb.SaveCount = count
		}
	}
	return hb
}

func (m *Manager) heartbeat(ctx context.Context) {
	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "heartbeat",
		Payload: m.Heartbeat(),
	})
}
