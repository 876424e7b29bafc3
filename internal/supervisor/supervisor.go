// Package supervisor launches a fixed set of named children, watches them,
// restarts the ones that ask for it and stops all of them on shutdown.
//
// All methods except Snapshot and Published must be called from a single
// goroutine, the one that owns the Supervisor.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loykin/stackvisor/internal/env"
	"github.com/loykin/stackvisor/internal/history"
	"github.com/loykin/stackvisor/internal/metrics"
	"github.com/loykin/stackvisor/internal/process"
)

const (
	DefaultPollInterval = time.Second
	DefaultGracePeriod  = 5 * time.Second

	historyTimeout = 2 * time.Second
)

type Options struct {
	GracePeriod time.Duration
	TailBytes   int
	// Env composes each child's environment and expands ${VAR} in argv.
	// Nil means inherit the supervisor's environment unchanged.
	Env     *env.Env
	History history.Sink
	Logger  *slog.Logger
	// SampleResources records RSS and CPU of running children on every poll.
	SampleResources bool
	// Detached binds child output to files instead of pipes so children
	// outlive the supervisor. Output tails are not kept.
	Detached bool
}

type Supervisor struct {
	opts      Options
	log       *slog.Logger
	reg       *Registry
	published atomic.Pointer[View]
}

func New(opts Options) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Supervisor{opts: opts, log: opts.Logger.With("component", "supervisor"), reg: newRegistry()}
	s.publish()
	return s
}

// Launch starts spec and records it under spec.Name. On failure the slot is
// left absent and a *LaunchError is returned.
func (s *Supervisor) Launch(spec process.Spec) (*ManagedProcess, error) {
	if old, ok := s.reg.Get(spec.Name); ok && old.State == StateRunning {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, spec.Name)
	}
	h, err := s.start(spec)
	if err != nil {
		s.log.Error("launch failed", "name", spec.Name, "cmd", spec.CommandLine(), "err", err)
		metrics.IncLaunchFailure(spec.Name)
		s.record(history.EventLaunchFailed, &ManagedProcess{Name: spec.Name, Spec: spec, LastExit: err})
		return nil, &LaunchError{Name: spec.Name, Err: err}
	}
	m := &ManagedProcess{Name: spec.Name, Spec: spec, Handle: h, State: StateRunning}
	s.reg.put(m)
	s.log.Info("launched", "name", spec.Name, "pid", h.PID(), "cmd", spec.CommandLine(), "restart_on_exit", spec.RestartOnExit)
	metrics.IncLaunch(spec.Name)
	s.record(history.EventLaunch, m)
	s.publish()
	return m, nil
}

// LaunchAll runs the launch pass. A failed launch skips that slot. Each
// successful launch is followed by its StartDelay, cut short by ctx.
func (s *Supervisor) LaunchAll(ctx context.Context, specs []process.Spec) (int, []error) {
	var (
		launched int
		errs     []error
	)
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.Launch(spec); err != nil {
			errs = append(errs, err)
			continue
		}
		launched++
		if spec.StartDelay > 0 {
			s.log.Debug("waiting for settle", "name", spec.Name, "delay", spec.StartDelay)
			t := time.NewTimer(spec.StartDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
	return launched, errs
}

// PollOnce checks every running entry, in registry order, for an exit and
// applies its restart policy.
func (s *Supervisor) PollOnce() {
	s.reg.Each(func(m *ManagedProcess) {
		if m.State == StateRunning && m.Handle.Exited() {
			s.handleExit(m)
		}
		if m.State == StateExited && m.pendingRestart {
			s.restart(m)
			return
		}
		if m.State == StateRunning && s.opts.SampleResources {
			if u, err := metrics.Sample(m.Handle.PID()); err == nil {
				metrics.SetResources(m.Name, u)
			}
		}
	})
	s.publish()
}

func (s *Supervisor) handleExit(m *ManagedProcess) {
	exitErr := m.Handle.ExitErr()
	m.State = StateExited
	m.LastExit = exitErr
	m.exitedAt = m.Handle.ExitedAt()

	log := s.log.With("name", m.Name, "pid", m.Handle.PID(), "restarts", m.Restarts)
	if out := m.Handle.Output(); out != "" {
		log = log.With("output", out)
	}
	if exitErr != nil {
		log.Warn("process exited", "err", exitErr)
	} else {
		log.Warn("process exited")
	}
	metrics.IncExit(m.Name, exitErr == nil)
	s.record(history.EventExit, m)

	switch {
	case !m.Spec.RestartOnExit:
		log.Info("not restarting: restart_on_exit is off")
	case !m.restartBudgetLeft():
		log.Warn("not restarting: restart budget spent", "max_restarts", m.Spec.MaxRestarts)
	default:
		m.pendingRestart = true
	}
}

func (s *Supervisor) restart(m *ManagedProcess) {
	h, err := s.start(m.Spec)
	if err != nil {
		s.log.Error("restart failed, will retry", "name", m.Name, "err", err)
		metrics.IncLaunchFailure(m.Name)
		s.record(history.EventLaunchFailed, &ManagedProcess{Name: m.Name, Spec: m.Spec, State: m.State, Restarts: m.Restarts, LastExit: err})
		return
	}
	m.Handle = h
	m.State = StateRunning
	m.Restarts++
	m.pendingRestart = false
	m.exitedAt = time.Time{}
	s.log.Info("restarted", "name", m.Name, "pid", h.PID(), "restarts", m.Restarts)
	metrics.IncRestart(m.Name)
	metrics.IncLaunch(m.Name)
	s.record(history.EventRestart, m)
}

// RunForever polls every interval until ctx is cancelled, then shuts down.
func (s *Supervisor) RunForever(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	s.log.Info("supervising", "processes", s.reg.Len(), "poll_interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stop requested", "cause", context.Cause(ctx))
			return s.Shutdown()
		case <-t.C:
			s.PollOnce()
		}
	}
}

// Shutdown asks every running child to terminate, waits for all of them
// against one shared grace deadline and kills the stragglers. The registry is
// cleared afterwards; calling Shutdown again is a no-op.
func (s *Supervisor) Shutdown() error {
	if s.reg.Len() == 0 {
		return nil
	}
	s.log.Info("shutting down", "processes", s.reg.Len(), "grace", s.opts.GracePeriod)

	var errs []error
	s.reg.Each(func(m *ManagedProcess) {
		if m.State != StateRunning {
			return
		}
		if err := m.Handle.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate %s: %w", m.Name, err))
		}
	})

	deadline := time.Now().Add(s.opts.GracePeriod)
	s.reg.Each(func(m *ManagedProcess) {
		if m.State != StateRunning {
			return
		}
		if m.Handle.WaitTimeout(time.Until(deadline)) {
			m.State = StateExited
			m.LastExit = m.Handle.ExitErr()
			s.log.Info("stopped", "name", m.Name, "pid", m.Handle.PID())
			metrics.SetStopped(m.Name)
			s.record(history.EventStop, m)
			return
		}
		err := m.Handle.ForceKill()
		m.State = StateExited
		m.LastExit = err
		s.log.Warn("killed after grace period", "name", m.Name, "pid", m.Handle.PID(), "err", err)
		metrics.IncShutdownKill(m.Name)
		metrics.SetStopped(m.Name)
		s.record(history.EventKill, m)
		if !errors.Is(err, process.ErrShutdownTimeout) {
			errs = append(errs, err)
		}
	})

	s.reg.Each(func(m *ManagedProcess) { m.Handle = nil })
	s.reg.clear()
	s.publish()
	return errors.Join(errs...)
}

// Get returns the entry for name.
func (s *Supervisor) Get(name string) (*ManagedProcess, bool) { return s.reg.Get(name) }

// Names lists entries in launch order.
func (s *Supervisor) Names() []string { return s.reg.Names() }

func (s *Supervisor) Len() int { return s.reg.Len() }

// Published returns the latest snapshot. Safe from any goroutine.
func (s *Supervisor) Published() *View { return s.published.Load() }

// Snapshot returns the processes of the latest published view. Safe from any
// goroutine.
func (s *Supervisor) Snapshot() []Status {
	v := s.published.Load()
	out := make([]Status, len(v.Processes))
	copy(out, v.Processes)
	return out
}

func (s *Supervisor) publish() {
	v := &View{At: time.Now(), Processes: make([]Status, 0, s.reg.Len())}
	s.reg.Each(func(m *ManagedProcess) { v.Processes = append(v.Processes, statusOf(m)) })
	s.published.Store(v)
}

func (s *Supervisor) start(spec process.Spec) (*process.Process, error) {
	var childEnv []string
	if s.opts.Env != nil {
		spec.Args = s.opts.Env.ExpandArgs(spec.Args)
		childEnv = s.opts.Env.Merge(spec.Env)
	}
	if s.opts.Detached {
		return process.StartDetached(spec, childEnv)
	}
	return process.Start(spec, childEnv, s.opts.TailBytes)
}

func (s *Supervisor) record(t history.EventType, m *ManagedProcess) {
	if s.opts.History == nil {
		return
	}
	rec := history.Record{Name: m.Name, State: string(m.State), Restarts: m.Restarts}
	if m.Handle != nil {
		rec.PID = m.Handle.PID()
	}
	if m.LastExit != nil {
		rec.ExitErr = m.LastExit.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.opts.History.Send(ctx, history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		s.log.Debug("history send failed", "name", m.Name, "event", string(t), "err", err)
	}
}
