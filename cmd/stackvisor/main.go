package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/stackvisor/internal/probe"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	probeFlags := &ProbeFlags{}
	stubFlags := &StubFlags{}
	statusFlags := &StatusFlags{}

	root := createRootCommand(globalFlags, runFlags)
	root.AddCommand(
		createProbeCommand(globalFlags, probeFlags),
		createStubPredictCommand(globalFlags, stubFlags),
		createStatusCommand(globalFlags, statusFlags),
	)
	return root
}

func createRootCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "stackvisor",
		Short: "Run and supervise the ML demo stack",
		Long: `stackvisor runs the bootstrap steps (train, monitoring), launches the
model API, dashboard and tracking UI, optionally probes the API for
readiness, and then supervises the children until SIGINT or SIGTERM.

Examples:
  stackvisor                              # built-in defaults
  stackvisor --config stack.toml
  stackvisor --config stack.toml --run-once
  RUNNING_IN_DOCKER=1 stackvisor          # children bind 0.0.0.0`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStack(cmd.Context(), RunFlags{
				ConfigPath: globalFlags.ConfigPath,
				LogLevel:   globalFlags.LogLevel,
				RunOnce:    runFlags.RunOnce,
			}, cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to config file (TOML, YAML or JSON); defaults to $STACKVISOR_CONFIG")
	root.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.Flags().BoolVar(&runFlags.RunOnce, "run-once", false, "run steps and the launch pass, print the registry and exit without supervising")
	return root
}

func createProbeCommand(globalFlags *GlobalFlags, f *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "POST a JSON payload to an endpoint until it answers",
		Long: `Probe sends the payload to the endpoint, retrying transient failures
with a fixed delay, and prints the JSON reply. It exits non-zero when the
attempts are exhausted or a failure is not retryable.

Examples:
  stackvisor probe
  stackvisor probe --endpoint http://127.0.0.1:8000/predict --attempts 10 --delay 2s`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			ff.LogLevel = globalFlags.LogLevel
			return runProbe(cmd.Context(), ff, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.Endpoint, "endpoint", probe.DefaultEndpoint, "URL to POST to")
	cmd.Flags().StringVar(&f.Payload, "payload", "", "JSON payload (default: iris sample)")
	cmd.Flags().IntVar(&f.Attempts, "attempts", probe.DefaultAttempts, "maximum number of attempts")
	cmd.Flags().DurationVar(&f.Delay, "delay", probe.DefaultDelay, "wait between attempts")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", probe.DefaultAttemptTimeout, "per-attempt request timeout")
	return cmd
}

func createStubPredictCommand(globalFlags *GlobalFlags, f *StubFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub-predict",
		Short: "Serve a stand-in predict endpoint",
		Long: `Serve POST /predict answering {"prediction": <int>} for iris measurements,
for smoke-testing the supervisor and prober without the Python stack.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			ff.LogLevel = globalFlags.LogLevel
			return runStub(cmd.Context(), ff)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "127.0.0.1:8000", "listen address")
	return cmd
}

func createStatusCommand(globalFlags *GlobalFlags, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of supervised processes",
		Long: `Status asks a running supervisor's status API when --api-url is given.
Otherwise it checks the pid_file of every configured process, which is how
children left behind by --run-once are tracked.

Examples:
  stackvisor status --config stack.toml
  stackvisor status --api-url http://127.0.0.1:9090`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			ff.ConfigPath = globalFlags.ConfigPath
			return runStatus(cmd.Context(), ff, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "status API base URL (e.g. http://127.0.0.1:9090)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}
