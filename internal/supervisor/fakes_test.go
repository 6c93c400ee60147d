package supervisor

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/jwrapper/internal/config"
	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/process"
	"github.com/loykin/jwrapper/internal/protocol"
	"github.com/loykin/jwrapper/internal/tick"
)

type fakeLauncher struct {
	running  bool
	code     int
	pid      int
	starts   int
	kills    int
	dumps    int
	envs     [][]string
	output   []string
	startErr error
	// exitOnStart makes every launched child die at once with this code.
	exitOnStart *int
	onStart     func(env []string)
}

func (f *fakeLauncher) Start(_ process.Spec, env []string) (int, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.starts++
	f.pid = 4000 + f.starts
	f.envs = append(f.envs, env)
	f.running, f.code = true, 0
	if f.exitOnStart != nil {
		f.running, f.code = false, *f.exitOnStart
	}
	if f.onStart != nil {
		f.onStart(env)
	}
	return f.pid, nil
}

func (f *fakeLauncher) PID() int {
	if f.running {
		return f.pid
	}
	return 0
}

func (f *fakeLauncher) Poll() (bool, int) { return f.running, f.code }

func (f *fakeLauncher) Terminate() error { return f.exit(0) }

func (f *fakeLauncher) Kill() error {
	if !f.running {
		return os.ErrProcessDone
	}
	f.kills++
	return f.exit(137)
}

func (f *fakeLauncher) RequestDump() error {
	if !f.running {
		return os.ErrProcessDone
	}
	f.dumps++
	return nil
}

func (f *fakeLauncher) Wait(time.Duration) bool { return !f.running }

func (f *fakeLauncher) ReadOutput(emit func(string)) bool {
	for _, l := range f.output {
		emit(l)
	}
	f.output = nil
	return false
}

func (f *fakeLauncher) exit(code int) error {
	f.running, f.code = false, code
	return nil
}

type fakeChannel struct {
	listening bool
	connected bool
	listens   int
	inbox     []protocol.Packet
	sent      []protocol.Packet
	onSend    func(p protocol.Packet)
}

func (c *fakeChannel) Listen() error {
	c.listens++
	c.listening = true
	return nil
}

func (c *fakeChannel) Listening() bool { return c.listening }

func (c *fakeChannel) Port() int {
	if c.listening || c.connected {
		return 31000
	}
	return 0
}

func (c *fakeChannel) Connected() bool { return c.connected }

func (c *fakeChannel) Read(dispatch func(protocol.Packet)) bool {
	in := c.inbox
	c.inbox = nil
	for _, p := range in {
		dispatch(p)
	}
	return false
}

func (c *fakeChannel) Send(code protocol.Code, msg string) error {
	if !c.connected {
		return protocol.ErrNotConnected
	}
	p := protocol.Packet{Code: code, Message: msg}
	c.sent = append(c.sent, p)
	if c.onSend != nil {
		c.onSend(p)
	}
	return nil
}

func (c *fakeChannel) CloseConn() { c.connected = false }

func (c *fakeChannel) Close() error {
	c.connected, c.listening = false, false
	return nil
}

func (c *fakeChannel) push(code protocol.Code, msg string) {
	c.inbox = append(c.inbox, protocol.Packet{Code: code, Message: msg})
}

func (c *fakeChannel) sentCodes() []protocol.Code {
	codes := make([]protocol.Code, 0, len(c.sent))
	for _, p := range c.sent {
		codes = append(codes, p.Code)
	}
	return codes
}

type harness struct {
	t     *testing.T
	s     *Supervisor
	l     *fakeLauncher
	ch    *fakeChannel
	clock *tick.ManualClock
	out   *bytes.Buffer
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Child.Command = "sh -c 'sleep 60'"
	cfg.Restart.Delay = 0
	cfg.Wrapper.CPUTimeout = 0
	cfg.Logfile.InactivityTimeout = 0
	return cfg
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	out := &bytes.Buffer{}
	log := logger.New(logger.Config{
		Console: logger.ConsoleConfig{Level: logger.LevelDebug, Format: "LM", Writer: out},
		Warn:    io.Discard,
	})
	h := &harness{
		t:     t,
		l:     &fakeLauncher{},
		ch:    &fakeChannel{},
		clock: tick.NewManualClock(1000),
		out:   out,
	}
	s, err := New(cfg, Options{
		Launcher:   h.l,
		Channel:    h.ch,
		Logger:     log,
		Clock:      h.clock,
		RetryDelay: time.Millisecond,
		CycleDelay: time.Millisecond,
	})
	require.NoError(t, err)
	h.s = s
	return h
}

func (h *harness) cycles(n int) {
	for i := 0; i < n; i++ {
		h.s.cycle()
	}
}

// until cycles until cond holds, failing the test after limit cycles.
func (h *harness) until(limit int, cond func() bool) {
	h.t.Helper()
	for i := 0; i < limit; i++ {
		if cond() {
			return
		}
		h.s.cycle()
	}
	if !cond() {
		h.t.Fatalf("condition not reached after %d cycles (wState=%s jState=%s)", limit, h.s.wState, h.s.jState)
	}
}

func (h *harness) untilJ(state JState) {
	h.t.Helper()
	h.until(50, func() bool { return h.s.jState == state })
}

// register connects the child and sends its key.
func (h *harness) register() {
	h.ch.connected = true
	h.ch.push(protocol.Key, h.s.key)
}

// started drives a fresh harness to WSTATE and JSTATE STARTED.
func (h *harness) started() {
	h.t.Helper()
	h.untilJ(JStateLaunching)
	h.register()
	h.untilJ(JStateStarting)
	h.ch.push(protocol.Started, "")
	h.untilJ(JStateStarted)
	h.until(5, func() bool { return h.s.wState == WStateStarted })
}

func (h *harness) output() string {
	h.s.log.Flush()
	return h.out.String()
}

func (h *harness) count(substr string) int {
	return strings.Count(h.output(), substr)
}
