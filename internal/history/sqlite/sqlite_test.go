package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/jwrapper/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	now := time.Now().UTC()
	events := []history.Event{
		{Type: history.EventLaunch, OccurredAt: now, Name: "app", Invocation: 1, PID: 4242},
		{Type: history.EventExit, OccurredAt: now.Add(time.Second), Name: "app", Invocation: 1, PID: 4242, ExitCode: 3, Detail: "JVM exited unexpectedly."},
		{Type: history.EventRestart, OccurredAt: now.Add(2 * time.Second), Name: "app", Invocation: 1, Detail: "automatic"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	n, err := sink.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = sink.Count(ctx, history.EventExit)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var code int
	var detail string
	require.NoError(t, sink.db.QueryRowContext(ctx,
		`SELECT exit_code, detail FROM `+history.Table+` WHERE event = 'exit'`).Scan(&code, &detail))
	assert.Equal(t, 3, code)
	assert.Equal(t, "JVM exited unexpectedly.", detail)
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	require.NoError(t, sink.Send(context.Background(), history.Event{Type: history.EventKill, Name: "x", Invocation: 2}))
	n, err := sink.Count(context.Background(), history.EventKill)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteSink_ReopenKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "h.db")
	s1, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Send(context.Background(), history.Event{Type: history.EventLaunch, Name: "a", Invocation: 1}))
	require.NoError(t, s1.Close())

	s2, err := New(dbPath)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()
	n, err := s2.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
