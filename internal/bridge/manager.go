package bridge

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lhdbsbz/vetd/internal/config"
)

// Status reports the bridge process state for the operator API.
type Status struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Path      string    `json:"path"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Manager launches and supervises the single platform bridge process.
// The bridge gets the gateway WS URL, auth token and group ID via
// environment and connects back to /ws on its own.
type Manager struct {
	wsURL string
	token string

	mu   sync.Mutex
	proc *procEntry
}

type procEntry struct {
	id        string
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	startedAt time.Time
}

func NewManager(wsURL, token string) *Manager {
	return &Manager{wsURL: wsURL, token: token}
}

// Start launches the bridge described by cfg. Returns false (with a log
// line) on any setup or launch failure; the gateway keeps running and
// accepts a manually started bridge either way.
func (m *Manager) Start(ctx context.Context, cfg config.BridgeConfig) bool {
	if !cfg.Enabled || cfg.Path == "" {
		return false
	}
	manifest, err := LoadManifest(cfg.Path)
	if err != nil {
		slog.Warn("bridge manifest load failed", "id", cfg.ID, "dir", cfg.Path, "error", err)
		return false
	}
	if cfg.ID != "" && manifest.ID != cfg.ID {
		slog.Warn("bridge not started: config id must equal manifest id",
			"config_id", cfg.ID, "manifest_id", manifest.ID)
		return false
	}

	workDir := filepath.Join(cfg.Path, manifest.Cwd)
	env := m.buildEnv(manifest, workDir, cfg.Env)

	if len(manifest.Commands) == 0 {
		slog.Warn("bridge has no commands", "id", manifest.ID)
		return false
	}
	setupArgv := manifest.Commands[:len(manifest.Commands)-1]
	runArgv := manifest.Commands[len(manifest.Commands)-1]
	if len(runArgv) == 0 {
		slog.Warn("bridge last command is empty", "id", manifest.ID)
		return false
	}

	for i, argv := range setupArgv {
		if len(argv) == 0 {
			continue
		}
		setupCtx, cancelSetup := context.WithTimeout(ctx, 5*time.Minute)
		setupCmd := buildCmd(setupCtx, manifest, workDir, env, argv)
		setupCmd.Stdout = os.Stdout
		setupCmd.Stderr = os.Stderr
		if err := setupCmd.Run(); err != nil {
			slog.Warn("bridge setup command failed", "id", manifest.ID, "step", i+1, "argv", argv, "error", err)
			cancelSetup()
			return false
		}
		cancelSetup()
		slog.Info("bridge setup done", "id", manifest.ID, "step", i+1)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := buildCmd(procCtx, manifest, workDir, env, runArgv)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	m.mu.Lock()
	if m.proc != nil && m.proc.cancel != nil {
		m.proc.cancel()
		m.proc = nil
	}
	m.mu.Unlock()

	if err := cmd.Start(); err != nil {
		slog.Warn("bridge start failed", "id", manifest.ID, "error", err)
		cancel()
		return false
	}

	entry := &procEntry{id: manifest.ID, cmd: cmd, cancel: cancel, startedAt: time.Now()}
	m.mu.Lock()
	m.proc = entry
	m.mu.Unlock()
	slog.Info("bridge started", "id", manifest.ID, "pid", cmd.Process.Pid)

	go func() {
		_ = cmd.Wait()
		m.mu.Lock()
		if m.proc == entry {
			m.proc = nil
		}
		m.mu.Unlock()
		slog.Info("bridge exited", "id", manifest.ID)
	}()
	return true
}

// Stop terminates the running bridge process, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	entry := m.proc
	m.proc = nil
	m.mu.Unlock()
	if entry != nil && entry.cancel != nil {
		entry.cancel()
	}
}

// Restart stops the current process and starts from fresh config. Used by
// the config hot-reload callback.
func (m *Manager) Restart(ctx context.Context, cfg config.BridgeConfig) {
	m.Stop()
	m.Start(ctx, cfg)
}

// Status reports the current process state against cfg.
func (m *Manager) Status(cfg config.BridgeConfig) Status {
	m.mu.Lock()
	entry := m.proc
	m.mu.Unlock()

	s := Status{
		ID:      cfg.ID,
		Enabled: cfg.Enabled,
		Path:    cfg.Path,
	}
	if entry != nil && entry.cmd != nil && entry.cmd.Process != nil {
		s.Running = true
		s.PID = entry.cmd.Process.Pid
		s.StartedAt = entry.startedAt
	}
	if manifest, err := LoadManifest(cfg.Path); err == nil {
		s.Name = manifest.Name
	} else {
		s.Name = cfg.ID
	}
	return s
}

func (m *Manager) buildEnv(manifest *Manifest, workDir string, extraEnv map[string]string) []string {
	env := os.Environ()
	env = appendEnv(env, "VETD_WS_URL", m.wsURL)
	env = appendEnv(env, "VETD_TOKEN", m.token)
	env = appendEnv(env, "VETD_GROUP_ID", config.Get().Group.ID)
	for k, v := range extraEnv {
		env = appendEnv(env, k, v)
	}
	if manifest.EnvFile != "" {
		envPath := filepath.Join(workDir, manifest.EnvFile)
		if data, err := os.ReadFile(envPath); err == nil {
			env = parseEnvFile(data, env)
		}
	}
	return env
}

func buildCmd(ctx context.Context, manifest *Manifest, workDir string, env []string, argv []string) *exec.Cmd {
	var name string
	var args []string
	switch manifest.Runtime {
	case "python":
		name = "python"
		args = argv
	default: // node, exec, anything self-contained
		name = argv[0]
		args = argv[1:]
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	cmd.Env = env
	return cmd
}

func appendEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

func parseEnvFile(data []byte, base []string) []string {
	env := make([]string, len(base))
	copy(env, base)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.Index(line, "="); i > 0 {
			key := strings.TrimSpace(line[:i])
			val := strings.TrimSpace(line[i+1:])
			if key != "" {
				env = appendEnv(env, key, val)
			}
		}
	}
	return env
}
