package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/stackvisor/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	now := time.Now().UTC()
	for _, e := range []history.Event{
		{Type: history.EventLaunch, OccurredAt: now, Record: history.Record{Name: "dashboard", PID: 321, State: "running"}},
		{Type: history.EventExit, OccurredAt: now.Add(time.Second), Record: history.Record{Name: "dashboard", PID: 321, State: "exited", ExitErr: "signal: killed"}},
	} {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Send %s: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM process_history WHERE name = $1", "dashboard").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
	var exitErr string
	if err := sink.db.QueryRowContext(ctx, "SELECT error FROM process_history WHERE event = 'exit'").Scan(&exitErr); err != nil {
		t.Fatalf("select exit: %v", err)
	}
	if exitErr != "signal: killed" {
		t.Fatalf("exit error=%q", exitErr)
	}
}

func TestNew_EmptyDSN(t *testing.T) {
	if _, err := New(" "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
