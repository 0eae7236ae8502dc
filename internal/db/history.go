package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconbridge/internal/events"
)

// History records bridge activity published on the event bus.
type History struct {
	db *Database
}

// CommandEntry is one executed RCON command.
type CommandEntry struct {
	ID         int64     `json:"id"`
	Command    string    `json:"command"`
	Status     string    `json:"status"`
	Kind       string    `json:"kind,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// TransitionEntry is one process state transition.
type TransitionEntry struct {
	ID          int64     `json:"id"`
	OperationID string    `json:"operation_id,omitempty"`
	FromState   string    `json:"from"`
	ToState     string    `json:"to"`
	Save        string    `json:"save,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SwapEntry is one finished save swap.
type SwapEntry struct {
	OperationID string    `json:"operation_id"`
	Save        string    `json:"save"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// PruneResult counts rows removed by Prune.
type PruneResult struct {
	Commands    int64 `json:"commands"`
	Transitions int64 `json:"transitions"`
	Swaps       int64 `json:"swaps"`
}

// Total returns the number of rows removed across all tables.
func (p PruneResult) Total() int64 {
	return p.Commands + p.Transitions + p.Swaps
}

// NewHistory opens the history database and migrates its schema.
func NewHistory(dbPath string) (*History, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	h := &History{db: database}
	if err := h.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_id TEXT NOT NULL DEFAULT '',
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			save TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS swaps (
			operation_id TEXT PRIMARY KEY,
			save TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_commands_created ON commands(created_at);
		CREATE INDEX IF NOT EXISTS idx_transitions_created ON transitions(created_at);
		CREATE INDEX IF NOT EXISTS idx_swaps_started ON swaps(started_at);
	`

	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("history schema migrated")
	return nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

// Attach subscribes the history to command, transition and swap events.
func (h *History) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventCommandExecuted, "history", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.CommandExecutedPayload)
		if !ok {
			return nil
		}
		return h.RecordCommand(p, time.Now())
	})
	bus.Subscribe(events.EventStateChanged, "history", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.StateChangedPayload)
		if !ok {
			return nil
		}
		return h.RecordTransition(p)
	})
	bus.Subscribe(events.EventSaveLoaded, "history", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SaveLoadedPayload)
		if !ok {
			return nil
		}
		return h.RecordSwap(p)
	})
}

// RecordCommand stores an executed command.
func (h *History) RecordCommand(p events.CommandExecutedPayload, at time.Time) error {
	_, err := h.db.Exec(
		"INSERT INTO commands (command, status, kind, duration_ms, created_at) VALUES (?, ?, ?, ?, ?)",
		p.Command, p.Status, p.Kind, p.Duration.Milliseconds(), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// RecordTransition stores a state transition.
func (h *History) RecordTransition(p events.StateChangedPayload) error {
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := h.db.Exec(
		"INSERT INTO transitions (operation_id, from_state, to_state, save, created_at) VALUES (?, ?, ?, ?, ?)",
		p.OperationID, p.From.String(), p.To.String(), p.Save, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// RecordSwap stores a finished swap. A repeated operation ID overwrites
// the earlier row.
func (h *History) RecordSwap(p events.SaveLoadedPayload) error {
	_, err := h.db.Exec(
		`INSERT OR REPLACE INTO swaps (operation_id, save, success, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.OperationID, p.Save, boolToInt(p.Success), p.Error, p.StartedAt.UnixMilli(), p.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record swap: %w", err)
	}
	return nil
}

// RecentCommands returns up to limit commands, newest first.
func (h *History) RecentCommands(limit int) ([]CommandEntry, error) {
	rows, err := h.db.Query(
		"SELECT id, command, status, kind, duration_ms, created_at FROM commands ORDER BY id DESC LIMIT ?",
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var out []CommandEntry
	for rows.Next() {
		var (
			e  CommandEntry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Command, &e.Status, &e.Kind, &e.DurationMS, &ms); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentTransitions returns up to limit transitions, newest first.
func (h *History) RecentTransitions(limit int) ([]TransitionEntry, error) {
	rows, err := h.db.Query(
		"SELECT id, operation_id, from_state, to_state, save, created_at FROM transitions ORDER BY id DESC LIMIT ?",
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionEntry
	for rows.Next() {
		var (
			e  TransitionEntry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.OperationID, &e.FromState, &e.ToState, &e.Save, &ms); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentSwaps returns up to limit swaps, most recently started first.
func (h *History) RecentSwaps(limit int) ([]SwapEntry, error) {
	rows, err := h.db.Query(
		"SELECT operation_id, save, success, error, started_at, duration_ms FROM swaps ORDER BY started_at DESC LIMIT ?",
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query swaps: %w", err)
	}
	defer rows.Close()

	var out []SwapEntry
	for rows.Next() {
		var (
			e       SwapEntry
			success int
			ms      int64
		)
		if err := rows.Scan(&e.OperationID, &e.Save, &success, &e.Error, &ms, &e.DurationMS); err != nil {
			return nil, err
		}
		e.Success = success != 0
		e.StartedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes every row recorded before cutoff.
func (h *History) Prune(cutoff time.Time) (PruneResult, error) {
	var res PruneResult
	ms := cutoff.UnixMilli()

	err := h.db.Transaction(func(tx *sql.Tx) error {
		var err error
		if res.Commands, err = deleteBefore(tx, "DELETE FROM commands WHERE created_at < ?", ms); err != nil {
			return err
		}
		if res.Transitions, err = deleteBefore(tx, "DELETE FROM transitions WHERE created_at < ?", ms); err != nil {
			return err
		}
		res.Swaps, err = deleteBefore(tx, "DELETE FROM swaps WHERE started_at < ?", ms)
		return err
	})
	if err != nil {
		return PruneResult{}, fmt.Errorf("failed to prune history: %w", err)
	}
	return res, nil
}

func deleteBefore(tx *sql.Tx, query string, ms int64) (int64, error) {
	result, err := tx.Exec(query, ms)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func clampLimit(limit int) int {
	switch {
	case limit < 1:
		return 50
	case limit > 1000:
		return 1000
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
