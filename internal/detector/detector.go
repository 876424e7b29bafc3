package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/stackvisor/internal/process"
)

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// startSkew is how far the recorded start time may drift from the kernel's.
const startSkew = 2

// pidAlive reports whether pid names a live, non-zombie process.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	if st, err := p.Status(); err == nil && slices.Contains(st, gopsproc.Zombie) {
		return false
	}
	return true
}

// procStartUnix returns the process start time in Unix seconds, 0 if unknown.
func procStartUnix(pid int) int64 {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// PIDFileDetector detects a process via a PID file written by the supervisor.
// When the file records a start time, a live pid that started at a different
// time is treated as reused and reported dead.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, _, err := process.ReadPIDFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("invalid pidfile %s: %w", d.PIDFile, err)
	}
	if !pidAlive(pid) {
		return false, nil
	}
	if meta, ok := readMeta(d.PIDFile); ok && meta.StartUnix > 0 {
		if cur := procStartUnix(pid); cur > 0 && abs(cur-meta.StartUnix) > startSkew {
			return false, nil
		}
	}
	return true, nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return pidAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }

func readMeta(path string) (process.PIDMeta, bool) {
	var m process.PIDMeta
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return m, false
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	if len(lines) < 3 {
		return m, false
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(lines[2])), &m); err != nil {
		return m, false
	}
	return m, true
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
