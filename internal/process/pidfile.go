package process

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PIDMeta is the third line of a PID file.
type PIDMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile writes the pid on the first line, the JSON-encoded spec on the
// second and PIDMeta on the third, so external tooling can tell what the pid
// belongs to and detect pid reuse.
func WritePIDFile(path string, pid int, spec Spec, started time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	b, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	m, err := json.Marshal(PIDMeta{StartUnix: started.Unix()})
	if err != nil {
		return err
	}
	data := strconv.Itoa(pid) + "\n" + string(b) + "\n" + string(m) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// ReadPIDFile reads a PID file written by WritePIDFile.
// It returns the PID and, if present, the JSON-encoded Spec that follows.
// For files that contain only the PID, spec will be nil.
func ReadPIDFile(path string) (int, *Spec, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, nil, err
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, nil, err
	}
	var rest string
	if len(lines) > 1 {
		rest = strings.TrimSpace(lines[1])
	}
	if rest == "" {
		return pid, nil, nil
	}
	var spec Spec
	if err := json.Unmarshal([]byte(rest), &spec); err != nil {
		// Return PID even if spec cannot be parsed
		return pid, nil, nil
	}
	return pid, &spec, nil
}

// removePIDFileIfOwned deletes path only when it still records pid.
func removePIDFileIfOwned(path string, pid int) {
	if path == "" {
		return
	}
	got, _, err := ReadPIDFile(path)
	if err != nil || got != pid {
		return
	}
	_ = os.Remove(path)
}
