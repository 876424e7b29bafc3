package probe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func quietProber() *Prober {
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.AttemptTimeout = time.Second
	return p
}

func TestProbe_AlwaysFailingExhaustsExactlyN(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var seen []Attempt
	p := quietProber()
	p.Observer = func(a Attempt) { seen = append(seen, a) }

	_, err := p.Probe(context.Background(), srv.URL, IrisSample, 4, 5*time.Millisecond)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var pe *ProbeError
	if !errors.As(err, &pe) || pe.Attempts != 4 || pe.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected probe error: %#v", pe)
	}
	if hits.Load() != 4 {
		t.Fatalf("requests = %d, want 4", hits.Load())
	}
	if len(seen) != 4 {
		t.Fatalf("observer saw %d attempts", len(seen))
	}
	for i, a := range seen {
		if a.Number != i+1 || a.Result != ResultTransient {
			t.Fatalf("attempt %d = %+v", i, a)
		}
	}
}

func TestProbe_SucceedsAfterKFailures(t *testing.T) {
	const k = 2
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %q", r.Method, r.Header.Get("Content-Type"))
		}
		var body map[string]float64
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["sepal_length"] != 5.1 {
			t.Errorf("payload not forwarded: %v %v", body, err)
		}
		if hits.Add(1) <= k {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"prediction": 0}`))
	}))
	defer srv.Close()

	resp, err := quietProber().Probe(context.Background(), srv.URL, IrisSample, 5, time.Millisecond)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if hits.Load() != k+1 {
		t.Fatalf("requests = %d, want %d", hits.Load(), k+1)
	}
	pred, err := resp.Int("prediction")
	if err != nil || pred != 0 {
		t.Fatalf("prediction = %d, %v", pred, err)
	}
}

func TestProbe_NonObjectBodyIsTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte("<html>warming up</html>"))
			return
		}
		_, _ = w.Write([]byte(`{"prediction": 2}`))
	}))
	defer srv.Close()

	resp, err := quietProber().Probe(context.Background(), srv.URL, IrisSample, 3, 0)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("requests = %d, want 2", hits.Load())
	}
	if v, _ := resp.Int("prediction"); v != 2 {
		t.Fatalf("prediction = %d", v)
	}
}

func TestProbe_TransportErrorsAreRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var n int
	p := quietProber()
	p.Observer = func(Attempt) { n++ }
	_, err := p.Probe(context.Background(), url, IrisSample, 3, 0)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if n != 3 {
		t.Fatalf("attempts = %d", n)
	}
}

func TestProbe_TerminalFailuresStopImmediately(t *testing.T) {
	cases := []struct {
		name     string
		endpoint string
		payload  any
	}{
		{"no scheme", "127.0.0.1:8000/predict", IrisSample},
		{"bad url", "http://[::1", IrisSample},
		{"unmarshalable payload", "http://127.0.0.1:1/predict", map[string]any{"f": func() {}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var n int
			p := quietProber()
			p.Observer = func(a Attempt) {
				n++
				if a.Result != ResultTerminal {
					t.Errorf("result = %s", a.Result)
				}
			}
			_, err := p.Probe(context.Background(), c.endpoint, c.payload, 5, time.Hour)
			if !errors.Is(err, ErrTerminal) {
				t.Fatalf("expected terminal error, got %v", err)
			}
			if n != 1 {
				t.Fatalf("attempts = %d, want 1", n)
			}
		})
	}
}

func TestProbe_InvalidArguments(t *testing.T) {
	p := quietProber()
	p.Observer = func(Attempt) { t.Fatalf("no attempt expected") }
	if _, err := p.Probe(context.Background(), DefaultEndpoint, nil, 0, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("maxAttempts=0: %v", err)
	}
	if _, err := p.Probe(context.Background(), DefaultEndpoint, nil, 1, -time.Second); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("negative delay: %v", err)
	}
}

func TestProbe_CancelDuringDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := quietProber()
	p.Observer = func(Attempt) { cancel() }
	start := time.Now()
	_, err := p.Probe(ctx, srv.URL, IrisSample, 5, time.Hour)
	if !errors.Is(err, ErrTerminal) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled terminal error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancellation did not interrupt the delay")
	}
}

func TestProbe_ElapsedBoundedByDelays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	start := time.Now()
	_, _ = quietProber().Probe(context.Background(), srv.URL, IrisSample, 3, 50*time.Millisecond)
	if el := time.Since(start); el < 100*time.Millisecond || el > 2*time.Second {
		t.Fatalf("elapsed %s outside expected window", el)
	}
}

func TestResponseInt(t *testing.T) {
	r := &Response{JSON: map[string]any{"prediction": float64(1), "score": 0.5, "label": "setosa"}}
	if v, err := r.Int("prediction"); err != nil || v != 1 {
		t.Fatalf("Int(prediction) = %d, %v", v, err)
	}
	for _, f := range []string{"score", "label", "missing"} {
		if _, err := r.Int(f); err == nil {
			t.Fatalf("Int(%s) should fail", f)
		}
	}
}
