package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/stackvisor/internal/logger"
)

// Spec describes one child process. Args is the literal argument vector; no
// shell is involved unless Args names one.
type Spec struct {
	Name          string            `json:"name" mapstructure:"name"`
	Args          []string          `json:"args" mapstructure:"args"`
	WorkDir       string            `json:"work_dir" mapstructure:"work_dir"`
	Env           []string          `json:"env" mapstructure:"env"`                         // extra KEY=VALUE entries
	RestartOnExit bool              `json:"restart_on_exit" mapstructure:"restart_on_exit"` // relaunch after an unexpected exit
	MaxRestarts   int               `json:"max_restarts" mapstructure:"max_restarts"`       // 0 means unlimited
	StartDelay    time.Duration     `json:"start_delay" mapstructure:"start_delay"`         // settle time after the first launch
	PIDFile       string            `json:"pid_file" mapstructure:"pid_file"`
	Log           logger.FileConfig `json:"log" mapstructure:"log"` // rotated copy of combined output
}

var (
	ErrInvalidSpec     = errors.New("invalid process spec")
	ErrShutdownTimeout = errors.New("process did not exit within grace period")
)

// Validate checks the fields the supervisor relies on.
func (s Spec) Validate() error {
	if !IsSafeName(s.Name) {
		return fmt.Errorf("%w: name %q must match [A-Za-z0-9._-] without '..'", ErrInvalidSpec, s.Name)
	}
	if len(s.Args) == 0 || strings.TrimSpace(s.Args[0]) == "" {
		return fmt.Errorf("%w: %s: args must name an executable", ErrInvalidSpec, s.Name)
	}
	if s.MaxRestarts < 0 {
		return fmt.Errorf("%w: %s: max_restarts cannot be negative", ErrInvalidSpec, s.Name)
	}
	if s.StartDelay < 0 {
		return fmt.Errorf("%w: %s: start_delay cannot be negative", ErrInvalidSpec, s.Name)
	}
	for i, kv := range s.Env {
		if strings.IndexByte(kv, '=') <= 0 {
			return fmt.Errorf("%w: %s: env[%d] %q must be KEY=VALUE", ErrInvalidSpec, s.Name, i, kv)
		}
	}
	return nil
}

// BuildCommand constructs the *exec.Cmd for s with the given
// environment. An empty env inherits the supervisor's.
func (s Spec) BuildCommand(env []string) *exec.Cmd {
	// #nosec G204 argv comes from operator configuration
	cmd := exec.Command(s.Args[0], s.Args[1:]...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)
	return cmd
}

// CommandLine renders Args for logs.
func (s Spec) CommandLine() string { return strings.Join(s.Args, " ") }

// IsSafeName validates names used in file paths and metric labels.
// Allowed characters: A-Z a-z 0-9 . _ - and no "..".
func IsSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}
