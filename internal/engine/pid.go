package engine

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	liverrors "github.com/conneroisu/livegen/internal/errors"
)

// PIDFile enforces one daemon per configuration directory. Staleness is
// detected by probing process liveness, not by trusting the file.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PID file handle for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire writes the current process id, failing when another live daemon
// already holds the file. A stale file left by a dead process is replaced.
func (p *PIDFile) Acquire() error {
	if pid, ok := p.Read(); ok && processAlive(pid) && pid != os.Getpid() {
		return liverrors.NewConfigError("daemon_running",
			"daemon already running with pid "+strconv.Itoa(pid))
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Read returns the recorded pid, if the file exists and parses.
func (p *PIDFile) Read() (int, bool) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Running reports whether the recorded daemon process is alive.
func (p *PIDFile) Running() bool {
	pid, ok := p.Read()
	return ok && processAlive(pid)
}

// Release removes the PID file.
func (p *PIDFile) Release() error {
	err := os.Remove(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// processAlive probes liveness with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
