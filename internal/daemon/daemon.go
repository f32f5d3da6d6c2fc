// Package daemon manages the background server process: pid file,
// detached start, and signal-based stop/reload.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/noxd/nox/internal/errors"
)

// Manager locates and controls the daemonized server process.
type Manager struct {
	dir string
}

// New creates a manager rooted in the user cache directory.
func New() (*Manager, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "nox")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to create state directory")
	}
	return &Manager{dir: dir}, nil
}

// PIDFile returns the pid file path.
func (m *Manager) PIDFile() string { return filepath.Join(m.dir, "nox.pid") }

// LogFile returns the daemon log file path.
func (m *Manager) LogFile() string { return filepath.Join(m.dir, "nox.log") }

// ReadPID returns the recorded pid, or 0 when no daemon is registered.
func (m *Manager) ReadPID() (int, error) {
	data, err := os.ReadFile(m.PIDFile())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, errors.KindInternal, "failed to read pid file")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "corrupt pid file")
	}
	return pid, nil
}

// WritePID records the current process as the running daemon.
func (m *Manager) WritePID() error {
	return os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// RemovePID clears the pid file.
func (m *Manager) RemovePID() error {
	if err := os.Remove(m.PIDFile()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Running reports the daemon pid if one is alive, else 0.
func (m *Manager) Running() (int, error) {
	pid, err := m.ReadPID()
	if err != nil || pid == 0 {
		return 0, err
	}
	if !processAlive(pid) {
		// Stale pid file from a crashed daemon.
		m.RemovePID()
		return 0, nil
	}
	return pid, nil
}

// StartBackground re-executes the current binary detached from the
// terminal, passing it the foreground run arguments.
func (m *Manager) StartBackground(args []string) (int, error) {
	if pid, err := m.Running(); err != nil {
		return 0, err
	} else if pid != 0 {
		return 0, errors.Newf(errors.KindInternal, "server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "cannot locate executable")
	}

	logFile, err := os.OpenFile(m.LogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "failed to open daemon log")
	}
	defer logFile.Close()

	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "failed to start daemon")
	}

	// The child writes its own pid file once it has bound the listener;
	// record ours as a fallback so stop works even if startup is slow.
	pid := cmd.Process.Pid
	if err := os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return pid, err
	}
	cmd.Process.Release()
	return pid, nil
}

// Stop signals the daemon to exit. With force it is killed outright.
func (m *Manager) Stop(force bool) error {
	pid, err := m.Running()
	if err != nil {
		return err
	}
	if pid == 0 {
		return errors.New(errors.KindNotFound, "server is not running")
	}

	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return errors.Wrap(err, errors.KindInternal, fmt.Sprintf("failed to signal pid %d", pid))
	}

	// Wait briefly for a graceful exit before reporting.
	for i := 0; i < 50; i++ {
		if !processAlive(pid) {
			m.RemovePID()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if force {
		m.RemovePID()
		return nil
	}
	return errors.Newf(errors.KindTimeout, "pid %d did not exit; retry with --force", pid)
}

// Reload sends SIGHUP so the daemon re-reads its configuration.
func (m *Manager) Reload() error {
	pid, err := m.Running()
	if err != nil {
		return err
	}
	if pid == 0 {
		return errors.New(errors.KindNotFound, "server is not running")
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to send reload signal")
	}
	return nil
}

// Status describes the daemon process state.
type Status struct {
	Running bool
	PID     int
	Since   time.Time
}

// CheckStatus reports whether the daemon is up and for how long.
func (m *Manager) CheckStatus() (Status, error) {
	pid, err := m.Running()
	if err != nil || pid == 0 {
		return Status{}, err
	}

	st := Status{Running: true, PID: pid}
	if info, err := os.Stat(m.PIDFile()); err == nil {
		st.Since = info.ModTime()
	}
	return st, nil
}

func processAlive(pid int) bool {
	// Signal 0 probes for existence without touching the process.
	return syscall.Kill(pid, 0) == nil
}
