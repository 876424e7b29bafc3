// Package step runs one-shot bootstrap commands to completion before the
// long-running services are launched.
package step

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/stackvisor/internal/env"
	"github.com/loykin/stackvisor/internal/metrics"
	"github.com/loykin/stackvisor/internal/notify"
	"github.com/loykin/stackvisor/internal/process"
)

const (
	DefaultTimeout = 10 * time.Minute
	defaultGrace   = 5 * time.Second
)

var (
	ErrStepFailed         = errors.New("step failed")
	ErrRequiredStepFailed = errors.New("required step failed")
)

// Spec defines a command that must run to completion.
type Spec struct {
	Name     string        `mapstructure:"name"`
	Args     []string      `mapstructure:"args"`
	WorkDir  string        `mapstructure:"work_dir"`
	Env      []string      `mapstructure:"env"`
	Timeout  time.Duration `mapstructure:"timeout"`  // default 10m
	Required bool          `mapstructure:"required"` // abort the run when this step fails
}

func (s Spec) Validate() error {
	if s.Timeout < 0 {
		return fmt.Errorf("%w: step %s: timeout cannot be negative", process.ErrInvalidSpec, s.Name)
	}
	return s.processSpec().Validate()
}

func (s Spec) processSpec() process.Spec {
	return process.Spec{Name: s.Name, Args: s.Args, WorkDir: s.WorkDir, Env: s.Env}
}

// Phase of a step run.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
)

// Result is the outcome of one step.
type Result struct {
	Name       string
	Phase      Phase
	StartedAt  time.Time
	FinishedAt time.Time
	Output     string // tail of combined output
	Err        error
}

func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Runner executes steps one at a time.
type Runner struct {
	Env       *env.Env
	TailBytes int
	Grace     time.Duration
	Notifier  *notify.Notifier
	Logger    *slog.Logger
}

// Run executes spec and waits for it to finish, time out, or for ctx to be
// cancelled. A non-zero exit, a start failure and a timeout all fail the step.
func (r *Runner) Run(ctx context.Context, spec Spec) Result {
	log := r.logger().With("component", "step", "name", spec.Name)
	res := Result{Name: spec.Name, Phase: PhasePending, StartedAt: time.Now()}
	finish := func(err error) Result {
		res.FinishedAt = time.Now()
		res.Err = err
		if err != nil {
			res.Phase = PhaseFailed
			log.Error("step failed", "err", err, "duration", res.Duration(), "output", res.Output)
			r.Notifier.Notify(ctx, spec.Name, notify.StatusFailed)
		} else {
			res.Phase = PhaseSucceeded
			log.Info("step succeeded", "duration", res.Duration())
			r.Notifier.Notify(ctx, spec.Name, notify.StatusSuccess)
		}
		metrics.IncStepRun(spec.Name, err == nil)
		return res
	}

	if err := spec.Validate(); err != nil {
		return finish(err)
	}
	ps := spec.processSpec()
	var childEnv []string
	if r.Env != nil {
		ps.Args = r.Env.ExpandArgs(ps.Args)
		childEnv = r.Env.Merge(ps.Env)
	}

	r.Notifier.Notify(ctx, spec.Name, notify.StatusRunning)
	p, err := process.Start(ps, childEnv, r.TailBytes)
	if err != nil {
		return finish(fmt.Errorf("%w: %s: start: %w", ErrStepFailed, spec.Name, err))
	}
	res.Phase = PhaseRunning
	log.Info("step started", "pid", p.PID(), "cmd", ps.CommandLine())

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.Done():
		res.Output = p.Output()
		if exitErr := p.ExitErr(); exitErr != nil {
			return finish(fmt.Errorf("%w: %s: %w", ErrStepFailed, spec.Name, exitErr))
		}
		return finish(nil)
	case <-timer.C:
		stopErr := p.Stop(r.grace())
		res.Output = p.Output()
		return finish(errors.Join(fmt.Errorf("%w: %s: timed out after %s", ErrStepFailed, spec.Name, timeout), stopErr))
	case <-ctx.Done():
		stopErr := p.Stop(r.grace())
		res.Output = p.Output()
		return finish(errors.Join(fmt.Errorf("%w: %s: %w", ErrStepFailed, spec.Name, ctx.Err()), stopErr))
	}
}

// RunAll runs specs in order. Optional step failures are logged and skipped;
// a required failure or cancellation stops the sequence and is returned.
func (r *Runner) RunAll(ctx context.Context, specs []Spec) ([]Result, error) {
	results := make([]Result, 0, len(specs))
	for _, s := range specs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := r.Run(ctx, s)
		results = append(results, res)
		if res.Err == nil {
			continue
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		if s.Required {
			return results, fmt.Errorf("%w: %w", ErrRequiredStepFailed, res.Err)
		}
	}
	return results, nil
}

func (r *Runner) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}
	return defaultGrace
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
