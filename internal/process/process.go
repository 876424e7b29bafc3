package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// How long Wait may keep draining output pipes after the child exits, for
// grandchildren that inherited them.
const pipeDrainDelay = 2 * time.Second

// Process is a handle on one running (or exited) child. A Process is never
// restarted; relaunching creates a new handle.
type Process struct {
	spec    Spec
	pid     int
	started time.Time
	osProc  *os.Process
	out     *tailBuffer
	done    chan struct{}

	mu       sync.Mutex
	exitErr  error
	exitedAt time.Time
}

// Start launches spec with the given environment and begins reaping it in the
// background. Combined stdout and stderr go to an in-memory tail of tailBytes
// and, when spec.Log names a destination, to a rotated file.
func Start(spec Spec, env []string, tailBytes int) (*Process, error) {
	return start(spec, env, tailBytes, false)
}

// StartDetached launches spec with stdout and stderr bound straight to a file
// (the spec.Log file, or the null device) so the child keeps writing after the
// supervisor exits. No output tail is kept and the log file is appended to
// without rotation.
func StartDetached(spec Spec, env []string) (*Process, error) {
	return start(spec, env, 0, true)
}

func start(spec Spec, env []string, tailBytes int, detached bool) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand(env)
	cmd.WaitDelay = pipeDrainDelay

	if spec.Log.Dir != "" {
		if err := os.MkdirAll(spec.Log.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir for %s: %w", spec.Name, err)
		}
	}
	out := newTailBuffer(tailBytes)
	var logW io.WriteCloser
	if detached {
		f, err := openDetachedOutput(spec)
		if err != nil {
			return nil, err
		}
		// The child holds its own descriptor once started.
		defer func() { _ = f.Close() }()
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		var w io.Writer = out
		if spec.Log.Enabled() {
			logW = spec.Log.Writer(spec.Name)
			w = io.MultiWriter(out, logW)
		}
		cmd.Stdout = w
		cmd.Stderr = w
	}

	if err := cmd.Start(); err != nil {
		if logW != nil {
			_ = logW.Close()
		}
		return nil, err
	}

	p := &Process{
		spec:    spec,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		osProc:  cmd.Process,
		out:     out,
		done:    make(chan struct{}),
	}
	if spec.PIDFile != "" {
		_ = WritePIDFile(spec.PIDFile, p.pid, spec, p.started)
	}

	go func() {
		err := cmd.Wait()
		if logW != nil {
			_ = logW.Close()
		}
		removePIDFileIfOwned(spec.PIDFile, p.pid)
		p.mu.Lock()
		p.exitErr = err
		p.exitedAt = time.Now()
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func openDetachedOutput(spec Spec) (*os.File, error) {
	path := spec.Log.Filename(spec.Name)
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir for %s: %w", spec.Name, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log for %s: %w", spec.Name, err)
	}
	return f, nil
}

func (p *Process) Spec() Spec           { return p.spec }
func (p *Process) PID() int             { return p.pid }
func (p *Process) StartedAt() time.Time { return p.started }

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports without blocking whether the child has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr is the error returned by Wait; nil for a zero exit status or while
// the child is still running.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) ExitedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitedAt
}

// Output returns the retained tail of combined output.
func (p *Process) Output() string { return p.out.String() }

// Terminate sends the graceful stop request.
func (p *Process) Terminate() error {
	if p.Exited() {
		return nil
	}
	return terminate(p.osProc)
}

// Kill forcibly stops the child and everything in its group.
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	return kill(p.osProc)
}

// WaitTimeout waits up to d for the child to exit and reports whether it did.
func (p *Process) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return p.Exited()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

// Stop terminates the child, waits up to grace, then kills it. It returns an
// error wrapping ErrShutdownTimeout when escalation was needed.
func (p *Process) Stop(grace time.Duration) error {
	if p.Exited() {
		return nil
	}
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("terminate %s: %w", p.spec.Name, err)
	}
	if p.WaitTimeout(grace) {
		return nil
	}
	return p.ForceKill()
}

// ForceKill kills the child after a missed grace period and waits for the
// reaper. The returned error always wraps ErrShutdownTimeout.
func (p *Process) ForceKill() error {
	err := p.Kill()
	if !p.WaitTimeout(pipeDrainDelay + time.Second) {
		err = errors.Join(err, fmt.Errorf("%s (pid %d) still running after SIGKILL", p.spec.Name, p.pid))
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrShutdownTimeout, p.spec.Name, err)
	}
	return fmt.Errorf("%w: %s killed", ErrShutdownTimeout, p.spec.Name)
}
