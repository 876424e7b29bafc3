package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/stackvisor/internal/config"
	"github.com/loykin/stackvisor/internal/history/factory"
	"github.com/loykin/stackvisor/internal/logger"
	"github.com/loykin/stackvisor/internal/metrics"
	"github.com/loykin/stackvisor/internal/notify"
	"github.com/loykin/stackvisor/internal/probe"
	"github.com/loykin/stackvisor/internal/server"
	"github.com/loykin/stackvisor/internal/step"
	"github.com/loykin/stackvisor/internal/stub"
	"github.com/loykin/stackvisor/internal/supervisor"
	tlsutil "github.com/loykin/stackvisor/internal/tls"
)

// runStack is the root command: steps, launch pass, optional readiness
// probe, then supervision until ctx is cancelled.
func runStack(ctx context.Context, f RunFlags, out io.Writer) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	log, closer, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	childEnv, err := cfg.Environment(os.Getenv)
	if err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	sinks, err := factory.NewSinks(cfg.History.DSNs)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer func() { _ = sinks.Close() }()

	notifier := notify.New(cfg.Notify.URL, cfg.Notify.Timeout, log)

	runner := &step.Runner{
		Env:       childEnv,
		TailBytes: cfg.OutputTailBytes,
		Grace:     cfg.GracePeriod,
		Notifier:  notifier,
		Logger:    log,
	}
	if _, err := runner.RunAll(ctx, cfg.Steps); err != nil {
		return err
	}

	sup := supervisor.New(supervisor.Options{
		GracePeriod:     cfg.GracePeriod,
		TailBytes:       cfg.OutputTailBytes,
		Env:             childEnv,
		History:         sinks,
		Logger:          log,
		SampleResources: cfg.Metrics.Enabled && cfg.Metrics.SampleResources,
		Detached:        f.RunOnce,
	})

	if cfg.Server.Enabled {
		tlsCfg, err := tlsutil.Setup(cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("status server tls: %w", err)
		}
		srv, err := server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, sup, cfg.Metrics.Enabled, tlsCfg)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		log.Info("status server listening", "component", "server", "addr", srv.Addr, "tls", tlsCfg != nil)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	launched, errs := sup.LaunchAll(ctx, cfg.AllProcesses())
	if launched == 0 && len(errs) > 0 {
		return fmt.Errorf("%w: %w", supervisor.ErrNothingToSupervise, errors.Join(errs...))
	}
	if len(errs) > 0 {
		log.Warn("launch pass finished with failures", "component", "supervisor", "launched", launched, "failed", len(errs))
	}

	if f.RunOnce {
		if cfg.Probe.Enabled {
			readiness(ctx, cfg.Probe, notifier, log)
		}
		printTable(out, sup.Snapshot())
		return nil
	}

	// The probe only logs and notifies, so it runs beside the poll loop and
	// crashed children are restarted while it retries.
	var wg sync.WaitGroup
	if cfg.Probe.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			readiness(ctx, cfg.Probe, notifier, log)
		}()
	}
	err = sup.RunForever(ctx, cfg.PollInterval)
	wg.Wait()
	return err
}

// readiness probes the API once after the launch pass and reports the
// outcome to the dashboard. Failure is logged, not fatal.
func readiness(ctx context.Context, pc config.ProbeConfig, n *notify.Notifier, log *slog.Logger) {
	p := probe.New(log)
	p.AttemptTimeout = pc.Timeout
	n.Notify(ctx, pc.Task, notify.StatusRunning)
	resp, err := p.Probe(ctx, pc.Endpoint, probe.IrisSample, pc.Attempts, pc.Delay)
	if err != nil {
		log.Error("readiness probe failed", "component", "probe", "err", err)
		n.Notify(ctx, pc.Task, notify.StatusFailed)
		return
	}
	if pred, err := resp.Int("prediction"); err == nil {
		log.Info("service ready", "component", "probe", "prediction", pred)
	}
	n.Notify(ctx, pc.Task, notify.StatusSuccess)
}

func runProbe(ctx context.Context, f ProbeFlags, out io.Writer) error {
	log, _, err := logger.New(logger.Config{Level: f.LogLevel, Color: true}, os.Stderr)
	if err != nil {
		return err
	}
	var payload any = probe.IrisSample
	if f.Payload != "" {
		if err := json.Unmarshal([]byte(f.Payload), &payload); err != nil {
			return fmt.Errorf("--payload: %w", err)
		}
	}
	p := probe.New(log)
	p.AttemptTimeout = f.Timeout
	resp, err := p.Probe(ctx, f.Endpoint, payload, f.Attempts, f.Delay)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(resp.Body))
	return err
}

func runStub(ctx context.Context, f StubFlags) error {
	log, _, err := logger.New(logger.Config{Level: f.LogLevel, Color: true}, os.Stderr)
	if err != nil {
		return err
	}
	log.Info("serving stand-in predict endpoint", "component", "stub", "addr", f.Listen)
	return stub.Serve(ctx, f.Listen, log)
}
