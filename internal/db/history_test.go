package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/rconbridge/internal/events"
)

func openHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(filepath.Join(t.TempDir(), "sub", "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryRecordsEventsFromBus(t *testing.T) {
	h := openHistory(t)
	bus := events.NewEventBus()
	h.Attach(bus)

	ctx := context.Background()
	if err := bus.EmitSync(ctx, events.Event{Type: events.EventCommandExecuted, Payload: events.CommandExecutedPayload{
		Command: "/time", Status: "success", Duration: 12 * time.Millisecond,
	}}); err != nil {
		t.Fatalf("emit command: %v", err)
	}
	if err := bus.EmitSync(ctx, events.Event{Type: events.EventStateChanged, Payload: events.StateChangedPayload{
		OperationID: "op-1", From: events.StateRunning, To: events.StateStopping, At: time.Now(),
	}}); err != nil {
		t.Fatalf("emit transition: %v", err)
	}
	if err := bus.EmitSync(ctx, events.Event{Type: events.EventSaveLoaded, Payload: events.SaveLoadedPayload{
		OperationID: "op-1", Save: "default", Success: true, StartedAt: time.Now(), Duration: time.Second,
	}}); err != nil {
		t.Fatalf("emit swap: %v", err)
	}

	cmds, err := h.RecentCommands(10)
	if err != nil || len(cmds) != 1 {
		t.Fatalf("commands = %v, err = %v", cmds, err)
	}
	if cmds[0].Command != "/time" || cmds[0].DurationMS != 12 {
		t.Fatalf("unexpected command row %+v", cmds[0])
	}

	trans, err := h.RecentTransitions(10)
	if err != nil || len(trans) != 1 {
		t.Fatalf("transitions = %v, err = %v", trans, err)
	}
	if trans[0].FromState != "RUNNING" || trans[0].ToState != "STOPPING" {
		t.Fatalf("unexpected transition row %+v", trans[0])
	}

	swaps, err := h.RecentSwaps(10)
	if err != nil || len(swaps) != 1 || !swaps[0].Success || swaps[0].DurationMS != 1000 {
		t.Fatalf("swaps = %+v, err = %v", swaps, err)
	}
}

func TestHistoryRecentIsNewestFirst(t *testing.T) {
	h := openHistory(t)
	now := time.Now()
	for _, cmd := range []string{"/a", "/b", "/c"} {
		if err := h.RecordCommand(events.CommandExecutedPayload{Command: cmd, Status: "success"}, now); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	cmds, err := h.RecentCommands(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(cmds) != 2 || cmds[0].Command != "/c" || cmds[1].Command != "/b" {
		t.Fatalf("unexpected order %+v", cmds)
	}
}

func TestHistoryPrune(t *testing.T) {
	h := openHistory(t)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	h.RecordCommand(events.CommandExecutedPayload{Command: "/old", Status: "success"}, old)
	h.RecordCommand(events.CommandExecutedPayload{Command: "/new", Status: "success"}, recent)
	h.RecordTransition(events.StateChangedPayload{From: events.StateStopped, To: events.StateRunning, At: old})
	h.RecordSwap(events.SaveLoadedPayload{OperationID: "a", Save: "x", StartedAt: old})
	h.RecordSwap(events.SaveLoadedPayload{OperationID: "b", Save: "y", StartedAt: recent})

	res, err := h.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if res.Commands != 1 || res.Transitions != 1 || res.Swaps != 1 || res.Total() != 3 {
		t.Fatalf("unexpected prune result %+v", res)
	}

	cmds, _ := h.RecentCommands(10)
	if len(cmds) != 1 || cmds[0].Command != "/new" {
		t.Fatalf("wrong rows survived: %+v", cmds)
	}
}
