package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return &Manager{dir: t.TempDir()}
}

func TestReadPIDMissing(t *testing.T) {
	m := testManager(t)
	pid, err := m.ReadPID()
	if err != nil || pid != 0 {
		t.Fatalf("pid = %d, err = %v", pid, err)
	}
}

func TestWriteAndReadPID(t *testing.T) {
	m := testManager(t)
	if err := m.WritePID(); err != nil {
		t.Fatal(err)
	}
	pid, err := m.ReadPID()
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPIDCorrupt(t *testing.T) {
	m := testManager(t)
	os.WriteFile(m.PIDFile(), []byte("not-a-number"), 0o600)
	if _, err := m.ReadPID(); err == nil {
		t.Fatal("expected error for corrupt pid file")
	}
}

func TestRunningDetectsCurrentProcess(t *testing.T) {
	m := testManager(t)
	m.WritePID()

	pid, err := m.Running()
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d", pid)
	}
}

func TestRunningClearsStalePID(t *testing.T) {
	m := testManager(t)
	// A pid that can't be a live process on this box.
	os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(1<<22-1)), 0o600)

	pid, err := m.Running()
	if err != nil {
		t.Fatal(err)
	}
	if pid != 0 {
		t.Errorf("pid = %d, want 0 for stale entry", pid)
	}
	if _, err := os.Stat(m.PIDFile()); !os.IsNotExist(err) {
		t.Error("stale pid file was not removed")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	m := testManager(t)
	if err := m.Stop(false); err == nil {
		t.Fatal("expected error when nothing is running")
	}
}

func TestPathsUnderStateDir(t *testing.T) {
	m := testManager(t)
	if filepath.Dir(m.PIDFile()) != m.dir || filepath.Dir(m.LogFile()) != m.dir {
		t.Errorf("paths escape state dir: %s %s", m.PIDFile(), m.LogFile())
	}
}
