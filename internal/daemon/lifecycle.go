package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PIDFilePath returns the PID file location inside dataDir.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, "memcore.pid")
}

// PIDInfo is the content of a PID file: the owning process and the time it
// claimed the file.
type PIDInfo struct {
	PID     int
	Started time.Time
}

// PIDFile guards a data directory against two daemons serving it at once.
type PIDFile struct {
	path string
	pid  int
}

// NewPIDFile returns the PID file for dataDir owned by the current process.
func NewPIDFile(dataDir string) *PIDFile {
	return &PIDFile{path: PIDFilePath(dataDir), pid: os.Getpid()}
}

// Path returns the file location.
func (p *PIDFile) Path() string { return p.path }

// Acquire claims the file. A file naming a live process other than this one
// is an error; a stale file is replaced.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if info, err := ReadPIDFile(p.path); err == nil && info.PID != p.pid && ProcessAlive(info.PID) {
		return fmt.Errorf("daemon already running with PID %d", info.PID)
	}

	content := fmt.Sprintf("%d\n%s\n", p.pid, time.Now().UTC().Format(time.RFC3339))
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Release removes the file if this process still owns it.
func (p *PIDFile) Release() error {
	info, err := ReadPIDFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && info.PID != p.pid {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// ReadPIDFile parses a PID file. Files holding only a PID are accepted; the
// start time then falls back to the file's mtime.
func ReadPIDFile(path string) (PIDInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PIDInfo{}, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return PIDInfo{}, fmt.Errorf("invalid PID file: empty")
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return PIDInfo{}, fmt.Errorf("invalid PID file: %w", err)
	}

	info := PIDInfo{PID: pid}
	if len(fields) > 1 {
		info.Started, _ = time.Parse(time.RFC3339, fields[1])
	}
	if info.Started.IsZero() {
		if st, err := os.Stat(path); err == nil {
			info.Started = st.ModTime()
		}
	}
	return info, nil
}

// ReadPID returns only the PID recorded in path.
func ReadPID(path string) (int, error) {
	info, err := ReadPIDFile(path)
	return info.PID, err
}

// Running reports the PID file's contents when it names a live process.
func Running(path string) (PIDInfo, bool) {
	info, err := ReadPIDFile(path)
	if err != nil || !ProcessAlive(info.PID) {
		return PIDInfo{}, false
	}
	return info, true
}

// ProcessAlive probes pid with signal 0.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM means the process exists under another user.
	return err == nil || errors.Is(err, syscall.EPERM)
}
