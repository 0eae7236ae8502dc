package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/rcon"
	"github.com/energizer-project/rconbridge/internal/rcon/rcontest"
	"github.com/energizer-project/rconbridge/internal/saves"
)

type fakeSupervisor struct {
	mu        sync.Mutex
	calls     []string
	listening bool
	exited    bool
	startErr  error
	// block, when set, holds Start until closed.
	block chan struct{}
	// entered is closed when Start is first called.
	entered chan struct{}
}

func (f *fakeSupervisor) Start(ctx context.Context, save string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "start:"+save)
	entered, block := f.entered, f.block
	f.entered = nil
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	return f.startErr
}

func (f *fakeSupervisor) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	return nil
}

func (f *fakeSupervisor) IsListening(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *fakeSupervisor) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.exited
}

func (f *fakeSupervisor) setListening(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listening = v
}

func (f *fakeSupervisor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	srv   *rcontest.Server
	exec  *rcon.Executor
	sup   *fakeSupervisor
	orch  *Orchestrator
	dir   string
	trans []events.ProcessState
	mu    sync.Mutex
}

func newHarness(t *testing.T, files ...string) *harness {
	t.Helper()

	dir := t.TempDir()
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("world"), 0644); err != nil {
			t.Fatalf("write save: %v", err)
		}
	}

	h := &harness{
		srv: rcontest.NewServer("pw"),
		sup: &fakeSupervisor{listening: true},
		dir: dir,
	}
	t.Cleanup(h.srv.Close)

	bus := events.NewEventBus()
	bus.Subscribe(events.EventStateChanged, "test", func(ctx context.Context, e events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.trans = append(h.trans, e.Payload.(events.StateChangedPayload).To)
		return nil
	})

	h.exec = rcon.NewExecutor(h.srv.Config(), bus)
	t.Cleanup(h.exec.Close)

	h.orch = NewOrchestrator(OrchestratorConfig{
		SettleDelay:   time.Millisecond,
		ProbeInterval: 10 * time.Millisecond,
		ProbeAttempts: 3,
		LockFile:      filepath.Join(dir, ".lock"),
	}, saves.NewStore(dir), h.sup, h.exec, bus)

	return h
}

func (h *harness) transitions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.trans))
	for i, s := range h.trans {
		out[i] = s.String()
	}
	return out
}

func TestLoadSaveMissingTakesNoProcessAction(t *testing.T) {
	h := newHarness(t, "default.zip")
	if state := h.orch.Init(context.Background()); state != events.StateRunning {
		t.Fatalf("init state = %s", state)
	}

	_, err := h.orch.LoadSave(context.Background(), "missing")
	if !errors.Is(err, saves.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var nf *saves.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *saves.NotFoundError, got %T", err)
	}
	if calls := h.sup.Calls(); len(calls) != 0 {
		t.Fatalf("supervisor was called: %v", calls)
	}
	if h.orch.State() != events.StateRunning || !h.exec.Connected() {
		t.Fatalf("state disturbed: %s connected=%v", h.orch.State(), h.exec.Connected())
	}
}

func TestLoadSaveTransitionsThroughFullCycle(t *testing.T) {
	h := newHarness(t, "default.zip", "other.zip")
	h.orch.Init(context.Background())
	if err := os.WriteFile(filepath.Join(h.dir, ".lock"), nil, 0644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	res, err := h.orch.LoadSave(context.Background(), "default")
	if err != nil {
		t.Fatalf("load save: %v", err)
	}
	if res.Save != "default" || res.OperationID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	want := "RUNNING,STOPPING,STOPPED,STARTING,READY,RUNNING"
	if got := strings.Join(h.transitions(), ","); got != want {
		t.Fatalf("transitions = %s, want %s", got, want)
	}
	if calls := strings.Join(h.sup.Calls(), ","); calls != "stop,start:default" {
		t.Fatalf("supervisor calls = %s", calls)
	}
	if !h.exec.Connected() {
		t.Fatalf("executor not connected after swap")
	}
	if res := h.exec.Execute(context.Background(), "/time"); !res.OK() {
		t.Fatalf("command after swap failed: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(h.dir, ".lock")); !os.IsNotExist(err) {
		t.Fatalf("stale lock not removed: %v", err)
	}
	if snap := h.orch.Snapshot(); snap.Save != "default" || snap.Swapping {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestLoadSaveNeverReadyReconnectsAndFails(t *testing.T) {
	h := newHarness(t, "default.zip")
	h.orch.Init(context.Background())
	h.sup.listening = false

	_, err := h.orch.LoadSave(context.Background(), "default")
	if !errors.Is(err, ErrProcess) {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	var pe *ProcessError
	if !errors.As(err, &pe) || pe.Save != "default" {
		t.Fatalf("expected *ProcessError for default, got %#v", err)
	}

	// The fake RCON server is still up, so the best-effort reconnect wins.
	if h.orch.State() != events.StateRunning || !h.exec.Connected() {
		t.Fatalf("expected recovery to RUNNING, got %s connected=%v", h.orch.State(), h.exec.Connected())
	}
}

func TestLoadSaveFailsWhenStartedProcessExits(t *testing.T) {
	h := newHarness(t, "default.zip")
	h.orch.Init(context.Background())
	h.sup.exited = true

	_, err := h.orch.LoadSave(context.Background(), "default")
	if !errors.Is(err, ErrProcess) || !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcess wrapping ErrProcessExited, got %v", err)
	}
}

func TestLoadSaveSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t, "default.zip")
	h.orch.Init(context.Background())
	h.orch.cfg.ProbeAttempts = 50
	h.sup.setListening(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.orch.LoadSave(ctx, "default")
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(h.sup.Calls()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("swap never reached Start")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(15 * time.Millisecond)
	cancel()
	h.sup.setListening(true)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("swap failed after caller cancelled: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("swap did not finish")
	}

	got := strings.Join(h.transitions(), ",")
	if !strings.HasSuffix(got, "STARTING,READY,RUNNING") {
		t.Fatalf("transitions = %s", got)
	}
	if !h.exec.Connected() {
		t.Fatalf("executor not connected after swap")
	}
}

func TestLoadSaveFailureWithNothingListening(t *testing.T) {
	h := newHarness(t, "default.zip")
	h.orch.Init(context.Background())
	h.sup.startErr = errors.New("executable not found")
	h.srv.Close()

	_, err := h.orch.LoadSave(context.Background(), "default")
	if !errors.Is(err, ErrProcess) {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if h.orch.State() != events.StateStopped || h.exec.Connected() {
		t.Fatalf("expected STOPPED, got %s connected=%v", h.orch.State(), h.exec.Connected())
	}
}

func TestLoadSaveProbeFailureUsesBudget(t *testing.T) {
	h := newHarness(t, "default.zip")
	var probes int
	h.orch.probe = func(ctx context.Context) error {
		probes++
		return rcon.ErrAuthentication
	}

	if _, err := h.orch.LoadSave(context.Background(), "default"); !errors.Is(err, ErrProcess) {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if probes != 3 {
		t.Fatalf("probes = %d, want 3", probes)
	}
}

func TestConcurrentLoadSaveIsRejected(t *testing.T) {
	h := newHarness(t, "default.zip")
	h.sup.block = make(chan struct{})
	h.sup.entered = make(chan struct{})
	entered := h.sup.entered

	errCh := make(chan error, 1)
	go func() {
		_, err := h.orch.LoadSave(context.Background(), "default")
		errCh <- err
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first swap never reached Start")
	}

	if !h.orch.Snapshot().Swapping {
		t.Fatalf("snapshot does not report swap in progress")
	}
	if _, err := h.orch.LoadSave(context.Background(), "default"); !errors.Is(err, ErrSwapInProgress) {
		t.Fatalf("expected ErrSwapInProgress, got %v", err)
	}
	if _, err := h.orch.UploadSave(context.Background(), strings.NewReader("x"), false); !errors.Is(err, ErrSwapInProgress) {
		t.Fatalf("expected ErrSwapInProgress for upload, got %v", err)
	}

	close(h.sup.block)
	if err := <-errCh; err != nil {
		t.Fatalf("first swap failed: %v", err)
	}
}

func TestUploadSave(t *testing.T) {
	h := newHarness(t)
	h.orch.Init(context.Background())

	res, err := h.orch.UploadSave(context.Background(), strings.NewReader("zipdata"), false)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Record.Name != DefaultUploadName || res.Swap != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.sup.Calls()) != 0 {
		t.Fatalf("upload without auto-load touched the process")
	}

	res, err = h.orch.UploadSave(context.Background(), strings.NewReader("zipdata v2"), true)
	if err != nil {
		t.Fatalf("upload with auto-load: %v", err)
	}
	if res.Swap == nil || res.Swap.Save != DefaultUploadName {
		t.Fatalf("auto-load did not swap: %+v", res)
	}
	if calls := strings.Join(h.sup.Calls(), ","); calls != "stop,start:uploaded" {
		t.Fatalf("supervisor calls = %s", calls)
	}
}

func TestInitWithoutServer(t *testing.T) {
	h := newHarness(t)
	h.srv.Close()

	if state := h.orch.Init(context.Background()); state != events.StateStopped {
		t.Fatalf("init state = %s, want STOPPED", state)
	}
}

func TestProcessManagerArgs(t *testing.T) {
	pm := NewProcessManager(ProcessConfig{
		GamePort:      34197,
		SettingsPath:  "/opt/server/server-settings.json",
		SaveDirectory: "/opt/server/saves",
		RconPort:      27015,
		RconPassword:  "pw",
		ModDirectory:  "/opt/server/mods",
	})

	got := strings.Join(pm.Args("default"), " ")
	want := "--start-server /opt/server/saves/default.zip --port 34197 --server-settings /opt/server/server-settings.json --rcon-port 27015 --rcon-password pw --mod-directory /opt/server/mods"
	if got != want {
		t.Fatalf("args = %s\nwant  %s", got, want)
	}
}

func TestProcessManagerStopWithoutProcess(t *testing.T) {
	pm := NewProcessManager(ProcessConfig{RconPort: 1})
	if err := pm.Stop(context.Background()); err != nil {
		t.Fatalf("stop without process: %v", err)
	}
	if pm.IsRunning() || pm.Stats().Running {
		t.Fatalf("reported running without a process")
	}
}

func TestProcessManagerIsListening(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()

	pm := NewProcessManager(ProcessConfig{RconHost: srv.Host(), RconPort: srv.Port()})
	if !pm.IsListening(context.Background()) {
		t.Fatalf("expected listening")
	}
	srv.Close()
	if pm.IsListening(context.Background()) {
		t.Fatalf("expected not listening after close")
	}
}

func TestRefreshReconcilesState(t *testing.T) {
	h := newHarness(t, "default.zip")
	h.orch.Init(context.Background())

	down := errors.New("connection refused")
	h.orch.probe = func(ctx context.Context) error { return down }

	state, err := h.orch.Refresh(context.Background())
	if !errors.Is(err, down) || state != events.StateStopped {
		t.Fatalf("refresh on dead server = %s, %v", state, err)
	}
	if h.orch.State() != events.StateStopped || h.exec.Connected() {
		t.Fatalf("expected STOPPED and disconnected, got %s connected=%v", h.orch.State(), h.exec.Connected())
	}

	h.orch.probe = func(ctx context.Context) error { return nil }
	state, err = h.orch.Refresh(context.Background())
	if err != nil || state != events.StateRunning {
		t.Fatalf("refresh on live server = %s, %v", state, err)
	}
	if !h.exec.Connected() {
		t.Fatalf("executor not reconnected")
	}

	want := "RUNNING,STOPPED,RUNNING"
	if got := strings.Join(h.transitions(), ","); got != want {
		t.Fatalf("transitions = %s, want %s", got, want)
	}
}

func TestRefreshSkippedDuringSwap(t *testing.T) {
	h := newHarness(t, "default.zip")
	h.orch.Init(context.Background())

	h.orch.swapMu.Lock()
	defer h.orch.swapMu.Unlock()

	if _, err := h.orch.Refresh(context.Background()); !errors.Is(err, ErrSwapInProgress) {
		t.Fatalf("expected ErrSwapInProgress, got %v", err)
	}
}
