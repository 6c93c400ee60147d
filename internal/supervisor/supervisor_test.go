package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/jwrapper/internal/config"
	"github.com/loykin/jwrapper/internal/protocol"
)

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)

	_, err = New(testConfig(), Options{Launcher: &fakeLauncher{}})
	require.Error(t, err)
}

func TestStartupReachesStarted(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, WStateStarting, h.s.wState)
	assert.Equal(t, JStateDown, h.s.jState)

	h.started()

	assert.Equal(t, 1, h.l.starts)
	assert.Equal(t, 1, h.s.invocations)
	assert.Equal(t, 1, h.ch.listens)

	env := strings.Join(h.l.envs[0], "\n")
	assert.Contains(t, env, EnvPort+"=31000")
	assert.Contains(t, env, EnvKey+"="+h.s.key)
	assert.Contains(t, env, EnvJVMID+"=1")
	assert.Len(t, h.s.key, protocol.KeyLength)

	// after KEY the child is told the log level, ping timeout and properties,
	// then asked to start
	assert.Equal(t, []protocol.Code{protocol.LowLogLevel, protocol.PingTimeout, protocol.Properties, protocol.Start},
		h.ch.sentCodes())
	assert.Contains(t, h.ch.sent[2].Message, "jwrapper.name=app")

	st := h.s.Status()
	assert.Equal(t, "STARTED", st.WState)
	assert.Equal(t, "STARTED", st.JState)
	assert.Equal(t, h.l.pid, st.PID)
	assert.Contains(t, h.output(), "Launching a JVM...")
}

func TestChildOutputIsLogged(t *testing.T) {
	h := newHarness(t, nil)
	h.started()
	h.l.output = []string{"hello from the child"}
	h.cycles(1)
	assert.Contains(t, h.output(), "hello from the child")
}

func TestPingsAreSentOnInterval(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Child.PingInterval = 5
		c.Child.PingIntervalLogged = 60
	})
	h.started()
	h.ch.sent = nil

	h.clock.AdvanceSeconds(5)
	h.cycles(1)
	require.Len(t, h.ch.sent, 1)
	assert.Equal(t, protocol.Ping, h.ch.sent[0].Code)
	assert.Equal(t, protocol.SilentPing, h.ch.sent[0].Message)

	// a reply pushes the timeout out
	before := h.s.jTimeout.Deadline()
	h.clock.AdvanceSeconds(1)
	h.ch.push(protocol.Ping, "ok")
	h.cycles(1)
	assert.NotEqual(t, before, h.s.jTimeout.Deadline())
}

func TestPingTimeoutKillsAndRestarts(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Child.PingTimeout = 10
		c.Child.PingInterval = 5
	})
	h.started()

	h.clock.AdvanceSeconds(16)
	h.untilJ(JStateDown)
	assert.Equal(t, 1, h.l.kills)
	assert.Contains(t, h.output(), "JVM appears hung: Timed out waiting for signal from JVM.")
	assert.Contains(t, h.output(), "JVM did not exit on request, terminated")
	assert.Equal(t, 1, h.s.exitCode)

	h.until(20, func() bool { return h.l.starts == 2 })
	assert.Equal(t, 1, h.s.failed)
	assert.Equal(t, 2, h.s.invocations)
}

func TestThreadDumpBeforeKill(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Child.PingTimeout = 10
		c.Child.ThreadDumpOnFailedExit = true
	})
	h.started()

	h.clock.AdvanceSeconds(16)
	h.untilJ(JStateKilling)
	assert.Equal(t, 1, h.l.dumps)
	assert.Zero(t, h.l.kills)

	// the dump gets five seconds before the kill
	h.cycles(3)
	assert.Equal(t, JStateKilling, h.s.jState)
	h.clock.AdvanceSeconds(5)
	h.untilJ(JStateDown)
	assert.Equal(t, 1, h.l.kills)
}

func TestFailureBudgetGivesUp(t *testing.T) {
	code := 7
	h := newHarness(t, func(c *config.Config) {
		c.Child.MaxFailedInvocations = 2
		c.Child.SuccessfulInvocation = 300
	})
	h.l.exitOnStart = &code

	h.until(200, func() bool { return h.s.wState == WStateStopped })

	// restarts on failures 1..M, gives up on M+1
	assert.Equal(t, 3, h.l.starts)
	assert.Equal(t, 3, h.s.failed)
	assert.Equal(t, 7, h.s.exitCode)
	out := h.output()
	assert.Contains(t, out, "There were 3 failed launches in a row, each lasting less than 300 seconds.  Giving up.")
	assert.Contains(t, out, "JVM exited while loading the application.")
}

func TestLongRunResetsFailureCount(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Child.SuccessfulInvocation = 10
		c.Child.PingTimeout = 0
	})
	h.started()
	h.s.failed = 4

	h.clock.AdvanceSeconds(20)
	require.NoError(t, h.l.exit(1))
	h.until(20, func() bool { return h.l.starts == 2 })
	assert.Zero(t, h.s.failed)
	assert.Contains(t, h.output(), "JVM exited unexpectedly.")
}

func TestStopBeforeRelaunchShutsDown(t *testing.T) {
	for _, state := range []JState{JStateLaunchDelay, JStateRestart, JStateLaunch} {
		t.Run(state.String(), func(t *testing.T) {
			h := newHarness(t, nil)
			h.started()
			require.NoError(t, h.l.exit(1))
			h.untilJ(state)

			h.s.Requests().Stop(3)
			h.until(100, func() bool { return h.s.wState == WStateStopped })
			assert.Equal(t, 1, h.l.starts, "no new child after the stop request")
			assert.Equal(t, 3, h.s.exitCode)
			assert.Equal(t, JStateDown, h.s.jState)
		})
	}
}

func TestAutomaticRestartDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Restart.DisableAutomatic = true })
	h.started()
	require.NoError(t, h.l.exit(1))
	h.until(20, func() bool { return h.s.wState == WStateStopped })
	assert.Equal(t, 1, h.l.starts)
	assert.Contains(t, h.output(), "Automatic JVM Restarts disabled.  Shutting down.")
}

func TestStartupTimeoutGivesAdvice(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Child.StartupTimeout = 5 })
	h.untilJ(JStateLaunching)

	h.clock.AdvanceSeconds(6)
	h.untilJ(JStateDown)
	out := h.output()
	assert.Contains(t, out, "Startup failed: Timed out waiting for a signal from the JVM.")
	assert.Contains(t, out, "ADVICE")
	assert.Equal(t, 1, h.l.kills)
}

func TestDebugTimeoutWarnsOnce(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Child.StartupTimeout = 5
		c.Child.Debug = true
	})
	h.untilJ(JStateLaunching)

	h.clock.AdvanceSeconds(6)
	h.cycles(3)
	assert.Equal(t, JStateLaunching, h.s.jState)
	assert.False(t, h.s.jTimeout.Set())
	assert.Zero(t, h.l.kills)
	assert.Equal(t, 1, h.count("is currently suspended by a debugger."))

	// a later phase times out silently
	h.register()
	h.untilJ(JStateStarting)
	h.clock.AdvanceSeconds(40)
	h.cycles(3)
	assert.Equal(t, JStateStarting, h.s.jState)
	assert.Equal(t, 1, h.count("is currently suspended by a debugger."))
}

func TestBadKeyIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.untilJ(JStateLaunching)

	h.ch.connected = true
	h.ch.push(protocol.Key, "not-the-key")
	h.cycles(1)

	assert.Equal(t, JStateLaunching, h.s.jState)
	assert.False(t, h.ch.connected)
	require.Len(t, h.ch.sent, 1)
	assert.Equal(t, protocol.BadKey, h.ch.sent[0].Code)
	assert.Contains(t, h.output(), "Received a connection request with an incorrect key.")

	// the listener is reopened for the real child
	h.ch.listening = false
	h.cycles(1)
	assert.True(t, h.ch.listening)
	h.register()
	h.untilJ(JStateStarting)
}

func TestChildRequestedStop(t *testing.T) {
	h := newHarness(t, nil)
	h.started()

	h.ch.push(protocol.Stop, "4")
	h.untilJ(JStateStopping)
	h.ch.push(protocol.Stopped, "")
	h.untilJ(JStateStopped)
	require.NoError(t, h.l.exit(0))

	h.until(20, func() bool { return h.s.wState == WStateStopped })
	assert.Equal(t, 4, h.s.exitCode)
	assert.Equal(t, 1, h.l.starts)
}

func TestChildRequestedRestart(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Child.SuccessfulInvocation = 0 })
	h.started()

	h.ch.push(protocol.Restart, "")
	h.untilJ(JStateStopping)
	require.NoError(t, h.l.exit(0))
	h.until(20, func() bool { return h.l.starts == 2 })
	assert.Equal(t, WStateStarted, h.s.wState)
	assert.Contains(t, h.output(), "JVM requested a restart.")
}

func TestStopPendingExtendsTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.started()

	h.ch.push(protocol.StopPending, "90500")
	h.cycles(1)
	assert.Equal(t, JStateStopping, h.s.jState)
	assert.EqualValues(t, 91, h.s.jTimeout.Remaining(h.clock.Ticks()))
}

func TestLogPacketsReachTheLogger(t *testing.T) {
	h := newHarness(t, nil)
	h.started()
	h.ch.push(protocol.Log+5, "child error line")
	h.ch.push(protocol.Code(250), "???")
	h.cycles(1)
	out := h.output()
	assert.Contains(t, out, "ERROR  | child error line")
	assert.Contains(t, out, "received unknown packet (250:???)")
}

func TestExitPolicyTable(t *testing.T) {
	cases := []struct {
		name     string
		table    map[string]string
		code     int
		restarts bool
	}{
		{"exact", map[string]string{"3": config.ActionRestart}, 3, true},
		{"default", map[string]string{"default": config.ActionRestart, "1": config.ActionShutdown}, 5, true},
		{"exact beats default", map[string]string{"default": config.ActionRestart, "5": config.ActionShutdown}, 5, false},
		{"none", nil, 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, func(c *config.Config) {
				c.OnExit = tc.table
				c.Child.SuccessfulInvocation = 0
			})
			h.started()

			h.ch.push(protocol.Stop, "0")
			h.untilJ(JStateStopping)
			require.NoError(t, h.l.exit(tc.code))

			if tc.restarts {
				h.until(20, func() bool { return h.l.starts == 2 })
				assert.Contains(t, h.output(), "on_exit trigger matched.  Restarting the JVM.")
				return
			}
			h.until(20, func() bool { return h.s.wState == WStateStopped })
			assert.Equal(t, tc.code, h.s.exitCode)
			assert.Equal(t, 1, h.l.starts)
		})
	}
}

func TestPauseAndResumeWithStopOnPause(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Wrapper.StopOnPause = true })
	h.started()
	h.s.failed = 2

	h.ch.onSend = func(p protocol.Packet) {
		if p.Code == protocol.Stop {
			_ = h.l.exit(0)
		}
	}
	h.s.Requests().Pause()
	h.until(20, func() bool { return h.s.wState == WStatePaused })
	assert.Equal(t, JStateDown, h.s.jState)

	h.s.Requests().Resume()
	h.until(20, func() bool { return h.l.starts == 2 })
	assert.Zero(t, h.s.failed)
	assert.Equal(t, WStateContinuing, h.s.wState)

	h.untilJ(JStateLaunching)
	h.register()
	h.untilJ(JStateStarting)
	h.ch.push(protocol.Started, "")
	h.until(10, func() bool { return h.s.wState == WStateStarted })
}

func TestPauseWithoutStopKeepsChild(t *testing.T) {
	h := newHarness(t, nil)
	h.started()
	h.s.Requests().Pause()
	h.cycles(2)
	assert.Equal(t, WStatePaused, h.s.wState)
	assert.Equal(t, JStateStarted, h.s.jState)

	// pause is ignored while paused, resume continues
	h.s.Requests().Pause()
	h.s.Requests().Resume()
	h.until(10, func() bool { return h.s.wState == WStateStarted })
}

func TestLaunchFailureStops(t *testing.T) {
	h := newHarness(t, nil)
	h.l.startErr = errors.New("boom")
	h.until(20, func() bool { return h.s.wState == WStateStopped })
	assert.Equal(t, 1, h.s.exitCode)
	assert.Contains(t, h.output(), "Unable to start the JVM: boom")
}

func TestInvalidEntryPointStops(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Child.Command = "/definitely/not/here" })
	h.until(20, func() bool { return h.s.wState == WStateStopped })
	assert.Equal(t, 1, h.s.exitCode)
	assert.Zero(t, h.l.starts)
}

func TestReloadBeforeRestart(t *testing.T) {
	reloaded := 0
	h := newHarness(t, func(c *config.Config) {
		c.Restart.ReloadConfiguration = true
		c.Child.SuccessfulInvocation = 0
	})
	h.s.reload = func() (*config.Config, error) {
		reloaded++
		cfg := testConfig()
		cfg.Child.Name = "reloaded"
		return cfg, nil
	}
	h.started()
	assert.Zero(t, reloaded, "first launch does not reload")

	require.NoError(t, h.l.exit(1))
	h.until(20, func() bool { return h.l.starts == 2 })
	assert.Equal(t, 1, reloaded)
	assert.Equal(t, "reloaded", h.s.cfg.Child.Name)
	assert.Contains(t, h.output(), "Reloading Wrapper configuration...")
}

func TestStarvationExtendsTimeout(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Wrapper.CPUTimeout = 5 })
	h.started()
	deadline := h.s.jTimeout.Deadline()

	h.clock.AdvanceSeconds(8)
	h.cycles(1)
	assert.Contains(t, h.output(), "Wrapper Process has not received any CPU time for 8 seconds.  Extending timeouts.")
	assert.NotEqual(t, deadline, h.s.jTimeout.Deadline())
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.l.onStart = func(env []string) {
		for _, kv := range env {
			if k, v, ok := strings.Cut(kv, "="); ok && k == EnvKey {
				h.ch.connected = true
				h.ch.push(protocol.Key, v)
			}
		}
	}
	h.ch.onSend = func(p protocol.Packet) {
		switch p.Code {
		case protocol.Start:
			h.ch.push(protocol.Started, "")
		case protocol.Stop:
			h.ch.push(protocol.Stopped, "")
			_ = h.l.exit(0)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- h.s.Run(ctx) }()

	require.Eventually(t, func() bool { return h.s.Status().WState == "STARTED" }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	st := h.s.Status()
	assert.Equal(t, "STOPPED", st.WState)
	assert.Equal(t, "DOWN", st.JState)
}
