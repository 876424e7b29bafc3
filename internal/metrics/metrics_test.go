package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncLaunch("api")
	IncLaunch("api")
	IncLaunchFailure("ghost")
	IncRestart("api")
	IncExit("api", false)
	IncShutdownKill("api")
	SetResources("api", Usage{RSSBytes: 1024, CPUPercent: 2.5})
	IncProbeAttempt("transient")
	ObserveProbeDuration(0.3)
	IncStepRun("train", true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"stackvisor_process_launches_total":        false,
		"stackvisor_process_launch_failures_total": false,
		"stackvisor_process_restarts_total":        false,
		"stackvisor_process_exits_total":           false,
		"stackvisor_process_shutdown_kills_total":  false,
		"stackvisor_process_running":               false,
		"stackvisor_process_resident_memory_bytes": false,
		"stackvisor_process_cpu_percent":           false,
		"stackvisor_probe_attempts_total":          false,
		"stackvisor_probe_duration_seconds":        false,
		"stackvisor_step_runs_total":               false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
		if n == "stackvisor_process_running" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 0 {
				t.Fatalf("running gauge after exit = %v, want 0", v)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset the gate so registration reaches the default registry used by Handler().
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncLaunch("x")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "stackvisor_process_launches_total") {
		t.Fatalf("metrics output missing launches_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncLaunch("c")
			IncRestart("c")
			IncExit("c", true)
			IncProbeAttempt("success")
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// no-ops before Register
	IncLaunch("test")
	IncLaunchFailure("test")
	IncRestart("test")
	IncExit("test", true)
	IncShutdownKill("test")
	SetStopped("test")
	SetResources("test", Usage{})
	IncProbeAttempt("terminal")
	ObserveProbeDuration(1)
	IncStepRun("test", false)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSampleSelf(t *testing.T) {
	u, err := Sample(os.Getpid())
	if err != nil {
		t.Skipf("process sampling unavailable: %v", err)
	}
	if u.RSSBytes == 0 {
		t.Fatalf("expected non-zero RSS for the test binary")
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
