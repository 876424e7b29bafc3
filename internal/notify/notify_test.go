package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNotify_PostsTaskStatus(t *testing.T) {
	got := make(chan message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		var m message
		_ = json.NewDecoder(r.Body).Decode(&m)
		got <- m
	}))
	defer srv.Close()

	New(srv.URL, 0, nil).Notify(context.Background(), "test_api", StatusSuccess)
	select {
	case m := <-got:
		if m.Task != "test_api" || m.Status != StatusSuccess {
			t.Fatalf("unexpected message %+v", m)
		}
	default:
		t.Fatalf("no notification received")
	}
}

func TestNotify_FailuresAreSwallowedAndLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	New(srv.URL, 0, l).Notify(context.Background(), "train", StatusFailed)
	if !strings.Contains(buf.String(), "dashboard notification failed") || !strings.Contains(buf.String(), "component=notify") {
		t.Fatalf("failure not logged: %q", buf.String())
	}
}

func TestNotify_TimeoutBoundsSlowDashboard(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	New(srv.URL, 100*time.Millisecond, nil).Notify(context.Background(), "train", StatusRunning)
	if time.Since(start) > 2*time.Second {
		t.Fatalf("notify blocked for %s", time.Since(start))
	}
}

func TestNotify_DisabledIsNoop(t *testing.T) {
	var n *Notifier
	n.Notify(context.Background(), "x", StatusRunning)
	New("", 0, nil).Notify(context.Background(), "x", StatusRunning)
}
