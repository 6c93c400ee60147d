package jwrapper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/jwrapper/internal/config"
	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/supervisor"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func quietConfig(t *testing.T, command string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Child.Command = command
	cfg.Console.Level = "NONE"
	cfg.Restart.Delay = 0
	cfg.Restart.DisableAutomatic = true
	cfg.Wrapper.LockFile = filepath.Join(t.TempDir(), "jwrapper.lock")
	return cfg
}

func TestNewRejectsMissingCommand(t *testing.T) {
	_, err := New(DefaultConfig(), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrNoCommand))

	_, err = New(nil, Options{})
	require.Error(t, err)
}

func TestSecondInstanceIsLockedOut(t *testing.T) {
	requireUnix(t)
	cfg := quietConfig(t, "sh -c 'exit 0'")
	first, err := New(cfg, Options{})
	require.NoError(t, err)

	_, err = New(cfg, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, supervisor.ErrLockHeld))

	require.NoError(t, first.Close())
	again, err := New(cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestRunReturnsChildExitCode(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	cfg := quietConfig(t, "sh -c 'exit 3'")
	cfg.Wrapper.StatusFile = filepath.Join(dir, "wrapper.status")
	cfg.Metrics.Enabled = true
	cfg.History.Enabled = true
	cfg.History.DSN = filepath.Join(dir, "history.db")

	w, err := New(cfg, Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	code := w.Run(ctx)
	assert.Equal(t, 3, code)

	st := w.Status()
	assert.Equal(t, "STOPPED", st.WState)
	assert.Equal(t, "DOWN", st.JState)
	assert.Equal(t, 1, st.Invocation)

	b, err := os.ReadFile(cfg.Wrapper.StatusFile)
	require.NoError(t, err)
	assert.Equal(t, "STOPPED\n", string(b))
}

func TestRunHonoursCancel(t *testing.T) {
	requireUnix(t)
	cfg := quietConfig(t, "sh -c 'sleep 30'")
	cfg.Child.ShutdownTimeout = 1
	cfg.Child.ExitTimeout = 1

	w, err := New(cfg, Options{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return w.Status().PID > 0
	}, 5*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatalf("wrapper did not stop after cancel")
	}
	assert.Equal(t, "STOPPED", w.Status().WState)
}

func TestTimerClockFollowsConfig(t *testing.T) {
	requireUnix(t)
	cfg := quietConfig(t, "sh -c 'exit 0'")
	w, err := New(cfg, Options{})
	require.NoError(t, err)
	require.NotNil(t, w.clock)
	require.NoError(t, w.Close())
	assert.Nil(t, w.clock)

	cfg.Wrapper.UseSystemTime = true
	w, err = New(cfg, Options{})
	require.NoError(t, err)
	assert.Nil(t, w.clock)
	require.NoError(t, w.Close())
}

func TestTimerDriftIsQueued(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{
		Console: logger.ConsoleConfig{Level: logger.LevelDebug, Format: "DM", Flush: true, Writer: &buf},
		Warn:    io.Discard,
	})
	defer func() { _ = log.Close() }()

	drift := timerDrift(log)
	drift(5)
	drift(-3)
	assert.Empty(t, buf.String(), "drift lines wait for the event loop")

	log.DrainQueue()
	out := buf.String()
	assert.Contains(t, out, "timer   | The system clock fell behind the timer by 500ms.")
	assert.Contains(t, out, "timer   | The timer fell behind the system clock by 300ms.")
}
