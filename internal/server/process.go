package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// stopGracePeriod is how long a process may take to exit after SIGINT.
const stopGracePeriod = 10 * time.Second

// ErrProcessExited reports a supervised server that died while it was
// expected to come up.
var ErrProcessExited = errors.New("server process exited")

// ProcessManager supervises the game server OS process. It satisfies
// Supervisor and owns the only exec.Cmd for the server.
type ProcessManager struct {
	mu     sync.Mutex
	cfg    ProcessConfig
	logger zerolog.Logger
	grace  time.Duration

	cmd  *exec.Cmd
	proc *process.Process
	pid  int
	done chan struct{}

	running   bool
	save      string
	startedAt time.Time
	exitCode  int
}

// ProcessConfig holds everything needed to build the server command line.
type ProcessConfig struct {
	Executable    string
	WorkDir       string
	GamePort      int
	SettingsPath  string
	ModDirectory  string
	SaveDirectory string
	RconHost      string
	RconPort      int
	RconPassword  string
	// ProcessName is used to find and terminate server processes this
	// manager did not start (left over from a previous run or launched by
	// hand). It defaults to the executable's base name.
	ProcessName string
	EnvVars     map[string]string
}

// ProcessStats is a point-in-time view of the supervised process.
type ProcessStats struct {
	Running    bool          `json:"running"`
	PID        int           `json:"pid,omitempty"`
	Save       string        `json:"save,omitempty"`
	Uptime     time.Duration `json:"uptime"`
	CPUPercent float64       `json:"cpu_percent"`
	MemoryMB   float64       `json:"memory_mb"`
	ExitCode   int           `json:"exit_code"`
}

// NewProcessManager creates a process manager. Nothing is started.
func NewProcessManager(cfg ProcessConfig) *ProcessManager {
	if cfg.RconHost == "" {
		cfg.RconHost = "127.0.0.1"
	}
	if cfg.ProcessName == "" && cfg.Executable != "" {
		cfg.ProcessName = filepath.Base(cfg.Executable)
	}
	return &ProcessManager{
		cfg:      cfg,
		grace:    stopGracePeriod,
		exitCode: -1,
		logger: log.With().
			Str("component", "process").
			Int("game_port", cfg.GamePort).
			Logger(),
	}
}

// Args builds the server command line for a save.
func (pm *ProcessManager) Args(save string) []string {
	savePath := save + ".zip"
	if pm.cfg.SaveDirectory != "" {
		savePath = filepath.Join(pm.cfg.SaveDirectory, savePath)
	}

	args := []string{
		"--start-server", savePath,
		"--port", strconv.Itoa(pm.cfg.GamePort),
		"--server-settings", pm.cfg.SettingsPath,
		"--rcon-port", strconv.Itoa(pm.cfg.RconPort),
		"--rcon-password", pm.cfg.RconPassword,
	}
	if pm.cfg.ModDirectory != "" {
		args = append(args, "--mod-directory", pm.cfg.ModDirectory)
	}
	return args
}

// Start launches the server with the given save. The process is detached
// from ctx: cancelling the caller never kills the server.
func (pm *ProcessManager) Start(ctx context.Context, save string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return fmt.Errorf("process already running (pid: %d)", pm.pid)
	}

	args := pm.Args(save)
	pm.logger.Info().
		Str("executable", pm.cfg.Executable).
		Str("save", save).
		Str("workdir", pm.cfg.WorkDir).
		Msg("starting game server process")

	cmd := exec.Command(pm.cfg.Executable, args...)
	cmd.Dir = pm.cfg.WorkDir
	cmd.Env = mergeEnv(os.Environ(), pm.cfg.EnvVars)
	setPlatformProcessAttrs(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	pm.cmd = cmd
	pm.pid = cmd.Process.Pid
	pm.done = make(chan struct{})
	pm.running = true
	pm.save = save
	pm.startedAt = time.Now()
	pm.exitCode = -1
	pm.proc = nil
	if p, err := process.NewProcessWithContext(ctx, int32(pm.pid)); err == nil {
		pm.proc = p
	}

	pm.logger.Info().Int("pid", pm.pid).Msg("game server process started")

	go pm.monitor(cmd, pm.done)
	return nil
}

// Stop interrupts the server and force-kills it after a grace period, then
// terminates any stray server processes found by name. A server that is not
// running is not an error.
func (pm *ProcessManager) Stop(ctx context.Context) error {
	pm.mu.Lock()
	cmd := pm.cmd
	done := pm.done
	running := pm.running
	pid := pm.pid
	pm.mu.Unlock()

	if running && cmd != nil && cmd.Process != nil {
		pm.logger.Info().Int("pid", pid).Msg("stopping game server process")

		if err := interruptPlatform(cmd); err != nil {
			pm.logger.Warn().Err(err).Msg("graceful shutdown failed, force killing")
			cmd.Process.Kill()
		}

		select {
		case <-done:
			pm.logger.Info().Msg("process stopped gracefully")
		case <-time.After(pm.grace):
			pm.logger.Warn().Dur("grace", pm.grace).Msg("process didn't stop in time, force killing")
			cmd.Process.Kill()
			<-done
		case <-ctx.Done():
			cmd.Process.Kill()
			<-done
			return ctx.Err()
		}
	}

	pm.terminateStrays(ctx)
	return nil
}

// IsListening reports whether something accepts TCP connections on the
// RCON port.
func (pm *ProcessManager) IsListening(ctx context.Context) bool {
	d := net.Dialer{Timeout: time.Second}
	addr := net.JoinHostPort(pm.cfg.RconHost, strconv.Itoa(pm.cfg.RconPort))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ProcessName returns the name used to find unowned server processes.
func (pm *ProcessManager) ProcessName() string {
	return pm.cfg.ProcessName
}

// IsRunning returns whether the supervised process is alive.
func (pm *ProcessManager) IsRunning() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.running
}

// Stats samples CPU and memory of the supervised process.
func (pm *ProcessManager) Stats() ProcessStats {
	pm.mu.Lock()
	stats := ProcessStats{
		Running:  pm.running,
		PID:      pm.pid,
		Save:     pm.save,
		ExitCode: pm.exitCode,
	}
	if pm.running {
		stats.Uptime = time.Since(pm.startedAt)
	}
	proc := pm.proc
	pm.mu.Unlock()

	if !stats.Running || proc == nil {
		return stats
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		stats.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	return stats
}

// terminateStrays stops every process named cfg.ProcessName. This covers
// servers started by a previous run of the bridge or by hand.
func (pm *ProcessManager) terminateStrays(ctx context.Context) {
	if pm.cfg.ProcessName == "" {
		return
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		pm.logger.Debug().Err(err).Msg("failed to list processes")
		return
	}

	self := int32(os.Getpid())
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if name != pm.cfg.ProcessName {
			exe, err := p.ExeWithContext(ctx)
			if err != nil || filepath.Base(exe) != pm.cfg.ProcessName {
				continue
			}
		}
		if err := p.TerminateWithContext(ctx); err != nil {
			pm.logger.Warn().Err(err).Int32("pid", p.Pid).Msg("failed to terminate stray server process")
			continue
		}
		pm.logger.Info().Int32("pid", p.Pid).Str("name", name).Msg("terminated stray server process")
	}
}

// monitor waits for the process and records its exit.
func (pm *ProcessManager) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	pm.mu.Lock()
	if pm.cmd == cmd {
		pm.running = false
		if cmd.ProcessState != nil {
			pm.exitCode = cmd.ProcessState.ExitCode()
		}
	}
	pid := cmd.Process.Pid
	exitCode := pm.exitCode
	pm.mu.Unlock()
	close(done)

	pm.logger.Info().
		Err(err).
		Int("pid", pid).
		Int("exit_code", exitCode).
		Msg("game server process exited")
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		key := e
		if i := strings.IndexByte(e, '='); i >= 0 {
			key = e[:i]
		}
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, e)
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
