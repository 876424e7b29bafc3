package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/stackvisor/internal/history"
)

func TestSQLiteSink_PersistsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}()

	ctx := context.Background()
	now := time.Now().UTC()
	events := []history.Event{
		{Type: history.EventLaunch, OccurredAt: now, Record: history.Record{Name: "api", PID: 100, State: "running"}},
		{Type: history.EventExit, OccurredAt: now.Add(time.Second), Record: history.Record{Name: "api", PID: 100, State: "exited", ExitErr: "exit status 1"}},
		{Type: history.EventRestart, OccurredAt: now.Add(2 * time.Second), Record: history.Record{Name: "api", PID: 101, State: "running", Restarts: 1}},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Send %s: %v", e.Type, err)
		}
	}

	var n int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM process_history WHERE name = 'api'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("rows=%d want 3", n)
	}

	var errText *string
	var restarts int
	if err := sink.db.QueryRowContext(ctx,
		`SELECT error, restarts FROM process_history WHERE event = 'exit'`).Scan(&errText, &restarts); err != nil {
		t.Fatalf("select exit: %v", err)
	}
	if errText == nil || *errText != "exit status 1" {
		t.Fatalf("exit error not stored: %v", errText)
	}
	if err := sink.db.QueryRowContext(ctx,
		`SELECT restarts FROM process_history WHERE event = 'restart'`).Scan(&restarts); err != nil || restarts != 1 {
		t.Fatalf("restart row: restarts=%d err=%v", restarts, err)
	}
}

func TestSQLiteSink_MemoryAndErrors(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:): %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), history.Event{Type: history.EventKill, OccurredAt: time.Now(), Record: history.Record{Name: "x", State: "exited"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
