// Package probe checks that an HTTP JSON service answers, retrying a bounded
// number of times with a fixed delay between attempts.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/stackvisor/internal/metrics"
)

const (
	DefaultEndpoint       = "http://127.0.0.1:8000/predict"
	DefaultAttempts       = 5
	DefaultDelay          = 5 * time.Second
	DefaultAttemptTimeout = 5 * time.Second

	maxBodyBytes = 1 << 20
)

// IrisSample is the payload the demo's predict endpoint expects.
var IrisSample = map[string]float64{
	"sepal_length": 5.1,
	"sepal_width":  3.5,
	"petal_length": 1.4,
	"petal_width":  0.2,
}

var (
	ErrInvalidArgument = errors.New("invalid probe argument")
	ErrExhausted       = errors.New("probe attempts exhausted")
	ErrTerminal        = errors.New("probe failed permanently")
)

// Kind classifies a probe failure.
type Kind int

const (
	KindTransient Kind = iota
	KindExhausted
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindExhausted:
		return "exhausted"
	case KindTerminal:
		return "terminal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ProbeError reports why a probe (or a single attempt) failed.
type ProbeError struct {
	Kind     Kind
	Endpoint string
	Attempts int
	Status   int // last HTTP status, 0 if none was received
	Err      error
}

func (e *ProbeError) Error() string {
	switch e.Kind {
	case KindExhausted:
		return fmt.Sprintf("probe %s: %d attempts exhausted: %v", e.Endpoint, e.Attempts, e.Err)
	case KindTerminal:
		return fmt.Sprintf("probe %s: terminal failure on attempt %d: %v", e.Endpoint, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("probe %s: attempt %d: %v", e.Endpoint, e.Attempts, e.Err)
	}
}

func (e *ProbeError) Unwrap() error { return e.Err }

func (e *ProbeError) Is(target error) bool {
	switch target {
	case ErrExhausted:
		return e.Kind == KindExhausted
	case ErrTerminal:
		return e.Kind == KindTerminal
	}
	return false
}

type Result string

const (
	ResultSuccess   Result = "success"
	ResultTransient Result = "transient"
	ResultTerminal  Result = "terminal"
)

// Attempt describes one request made during a Probe call.
type Attempt struct {
	Number int
	At     time.Time
	Result Result
	Status int
	Err    error
}

// Response is the successful reply.
type Response struct {
	Status int
	Body   []byte
	JSON   map[string]any
}

// Int reads an integer field from the decoded body.
func (r *Response) Int(field string) (int, error) {
	v, ok := r.JSON[field]
	if !ok {
		return 0, fmt.Errorf("field %q missing from response", field)
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("field %q is not an integer: %v", field, v)
	}
	return int(f), nil
}

// Prober sends probe requests. The zero value is usable.
type Prober struct {
	Client         *http.Client
	AttemptTimeout time.Duration
	Logger         *slog.Logger
	// Observer, when set, is called synchronously after every attempt.
	Observer func(Attempt)
}

func New(l *slog.Logger) *Prober {
	return &Prober{Client: &http.Client{}, AttemptTimeout: DefaultAttemptTimeout, Logger: l}
}

// Probe POSTs payload as JSON to endpoint until it answers 2xx with a JSON
// object, up to maxAttempts times, sleeping delay between attempts.
func (p *Prober) Probe(ctx context.Context, endpoint string, payload any, maxAttempts int, delay time.Duration) (*Response, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: maxAttempts must be >= 1, got %d", ErrInvalidArgument, maxAttempts)
	}
	if delay < 0 {
		return nil, fmt.Errorf("%w: delay must be >= 0, got %s", ErrInvalidArgument, delay)
	}
	log := p.logger().With("component", "probe", "endpoint", endpoint)

	var (
		resp    *Response
		n       int
		lastErr *ProbeError
	)
	op := func() error {
		n++
		started := time.Now()
		r, status, err := p.attempt(ctx, endpoint, payload)
		metrics.ObserveProbeDuration(time.Since(started).Seconds())
		a := Attempt{Number: n, At: started, Status: status, Err: err}
		switch {
		case err == nil:
			a.Result = ResultSuccess
			resp = r
		case isTerminal(err):
			a.Result = ResultTerminal
		default:
			a.Result = ResultTransient
		}
		metrics.IncProbeAttempt(string(a.Result))
		p.report(log, a, maxAttempts)
		if err == nil {
			return nil
		}
		lastErr = &ProbeError{Kind: KindTransient, Endpoint: endpoint, Attempts: n, Status: status, Err: err}
		if a.Result == ResultTerminal {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(op, b)
	if err == nil {
		return resp, nil
	}
	if lastErr == nil {
		return nil, &ProbeError{Kind: KindTerminal, Endpoint: endpoint, Err: err}
	}
	// Cancelled during the wait between attempts.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, &ProbeError{Kind: KindTerminal, Endpoint: endpoint, Attempts: n, Status: lastErr.Status, Err: ctxErr}
	}
	if isTerminal(lastErr.Err) {
		lastErr.Kind = KindTerminal
		return nil, lastErr
	}
	lastErr.Kind = KindExhausted
	return nil, lastErr
}

func (p *Prober) report(log *slog.Logger, a Attempt, n int) {
	attrs := []any{"attempt", fmt.Sprintf("%d/%d", a.Number, n), "outcome", string(a.Result)}
	if a.Status != 0 {
		attrs = append(attrs, "status", a.Status)
	}
	switch a.Result {
	case ResultSuccess:
		log.Info("probe succeeded", attrs...)
	case ResultTerminal:
		log.Error("probe failed", append(attrs, "err", a.Err)...)
	default:
		log.Warn("probe attempt failed", append(attrs, "err", a.Err)...)
	}
	if p.Observer != nil {
		p.Observer(a)
	}
}

// terminalError marks failures that retrying cannot fix.
type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

func isTerminal(err error) bool {
	var te terminalError
	return errors.As(err, &te)
}

func (p *Prober) attempt(ctx context.Context, endpoint string, payload any) (*Response, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, terminalError{err}
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, 0, terminalError{fmt.Errorf("bad endpoint: %w", err)}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, 0, terminalError{fmt.Errorf("bad endpoint %q: want http(s)://host", endpoint)}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, terminalError{fmt.Errorf("encode payload: %w", err)}
	}

	timeout := p.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(actx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, 0, terminalError{fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, terminalError{ctx.Err()}
		}
		return nil, 0, err
	}
	defer func() { _ = res.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, res.StatusCode, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, res.StatusCode, fmt.Errorf("response is not a JSON object")
	}
	return &Response{Status: res.StatusCode, Body: raw, JSON: obj}, res.StatusCode, nil
}

func (p *Prober) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *Prober) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
