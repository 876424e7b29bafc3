package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const DefaultTimeout = 2 * time.Second

// Task statuses understood by the dashboard.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type message struct {
	Task   string `json:"task"`
	Status string `json:"status"`
}

// Notifier posts task status updates to the dashboard. Delivery is best
// effort: failures are logged at debug level and otherwise ignored.
// A nil Notifier or one with an empty URL does nothing.
type Notifier struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

func New(url string, timeout time.Duration, l *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if l == nil {
		l = slog.Default()
	}
	return &Notifier{URL: url, Timeout: timeout, Client: &http.Client{}, Logger: l.With("component", "notify")}
}

// Notify reports status for task.
func (n *Notifier) Notify(ctx context.Context, task, status string) {
	if n == nil || n.URL == "" {
		return
	}
	if err := n.send(ctx, task, status); err != nil {
		n.logger().Debug("dashboard notification failed", "task", task, "status", status, "err", err)
	}
}

func (n *Notifier) send(ctx context.Context, task, status string) error {
	body, err := json.Marshal(message{Task: task, Status: status})
	if err != nil {
		return err
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c := n.Client
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("dashboard returned %s", resp.Status)
	}
	return nil
}

func (n *Notifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}
