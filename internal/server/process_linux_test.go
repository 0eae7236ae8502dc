//go:build linux

package server

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/rconbridge/internal/events"
)

func newHelperManager(t *testing.T, mode string) (*ProcessManager, string) {
	t.Helper()
	ready := filepath.Join(t.TempDir(), "ready")
	pm := NewProcessManager(ProcessConfig{
		Executable: os.Args[0],
		RconPort:   1,
		EnvVars: map[string]string{
			helperEnv:      mode,
			helperReadyEnv: ready,
		},
	})
	t.Cleanup(func() { pm.Stop(context.Background()) })
	return pm, ready
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("helper process never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcessManagerDefaultsProcessName(t *testing.T) {
	pm := NewProcessManager(ProcessConfig{Executable: "/opt/server/bin/x64/factorio"})
	if got := pm.ProcessName(); got != "factorio" {
		t.Fatalf("process name = %q", got)
	}
	pm = NewProcessManager(ProcessConfig{Executable: "/opt/server/bin/x64/factorio", ProcessName: "headless"})
	if got := pm.ProcessName(); got != "headless" {
		t.Fatalf("explicit process name overridden: %q", got)
	}
}

func TestProcessManagerStartStop(t *testing.T) {
	pm, ready := newHelperManager(t, "run")
	if err := pm.Start(context.Background(), "default"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFile(t, ready)

	stats := pm.Stats()
	if !pm.IsRunning() || !stats.Running || stats.PID == 0 || stats.Save != "default" {
		t.Fatalf("unexpected stats after start %+v", stats)
	}
	if err := pm.Start(context.Background(), "default"); err == nil {
		t.Fatalf("second start succeeded while running")
	}

	begin := time.Now()
	if err := pm.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if took := time.Since(begin); took >= pm.grace {
		t.Fatalf("stop took %s, process was not stopped by interrupt", took)
	}
	if pm.IsRunning() || pm.Stats().Running {
		t.Fatalf("process still reported running after stop")
	}
}

func TestProcessManagerKillsAfterGracePeriod(t *testing.T) {
	pm, ready := newHelperManager(t, "ignore-interrupt")
	pm.grace = 200 * time.Millisecond

	if err := pm.Start(context.Background(), "default"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFile(t, ready)

	begin := time.Now()
	if err := pm.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if took := time.Since(begin); took < pm.grace {
		t.Fatalf("stop returned after %s, before the grace period", took)
	}
	if pm.IsRunning() {
		t.Fatalf("process survived the kill")
	}
}

func TestProcessManagerStopTerminatesUnownedServer(t *testing.T) {
	ready := filepath.Join(t.TempDir(), "ready")
	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(), helperEnv+"=run", helperReadyEnv+"="+ready)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start unowned server: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		cmd.Process.Kill()
		<-exited
	})
	waitForFile(t, ready)

	pm := NewProcessManager(ProcessConfig{Executable: os.Args[0], RconPort: 1})
	if err := pm.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatalf("unowned server process %d still running", cmd.Process.Pid)
	}
}

// An old server still answering on the RCON port must not be mistaken for
// the one the swap started.
func TestLoadSaveDetectsExitedProcessBehindLiveServer(t *testing.T) {
	h := newHarness(t, "default.zip")
	h.orch.Init(context.Background())

	pm := NewProcessManager(ProcessConfig{
		Executable: os.Args[0],
		RconHost:   h.srv.Host(),
		RconPort:   h.srv.Port(),
		EnvVars:    map[string]string{helperEnv: "exit"},
	})
	h.orch.supervisor = pm
	h.orch.cfg.ProbeInterval = 500 * time.Millisecond
	h.orch.cfg.ProbeAttempts = 5

	_, err := h.orch.LoadSave(context.Background(), "default")
	if !errors.Is(err, ErrProcess) {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
	if code := pm.Stats().ExitCode; code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	// The old server is still up, so the bridge falls back to it.
	if h.orch.State() != events.StateRunning {
		t.Fatalf("state = %s, want RUNNING", h.orch.State())
	}
}
