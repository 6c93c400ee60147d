package supervisor

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/loykin/jwrapper/internal/config"
	"github.com/loykin/jwrapper/internal/history"
	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/metrics"
	"github.com/loykin/jwrapper/internal/process"
	"github.com/loykin/jwrapper/internal/protocol"
	"github.com/loykin/jwrapper/internal/tick"
)

// Options carries the collaborators of a Supervisor. Launcher, Channel and
// Logger are required; the rest have defaults.
type Options struct {
	Launcher process.Launcher
	Channel  protocol.Channel
	Logger   *logger.Logger
	Clock    tick.Clock
	Reporter StatusReporter
	Recorder *history.Recorder
	Sampler  *metrics.Sampler
	// Service selects the service startup delay over the console one.
	Service bool
	// Reload re-reads the configuration before a re-invocation when
	// restart.reload_configuration is set. Defaults to cfg.Reload.
	Reload func() (*config.Config, error)
	// RetryDelay spaces the status and command file retries. Defaults to 100ms.
	RetryDelay time.Duration
	// CycleDelay is the sleep between two loop cycles. Defaults to one tick.
	CycleDelay time.Duration
}

type diagnostics struct {
	loop   bool
	state  bool
	memory bool
	cpu    bool
	timer  bool
	sleep  bool
}

// Status is a snapshot of the supervisor published after every cycle.
type Status struct {
	WState            string `json:"wrapper_state"`
	JState            string `json:"child_state"`
	Invocation        int    `json:"invocation"`
	PID               int    `json:"pid"`
	ExitCode          int    `json:"exit_code"`
	FailedInvocations int    `json:"failed_invocations"`
	Port              int    `json:"port"`
	RestartRequested  string `json:"restart_requested"`
}

// Supervisor owns both state machines. Every field below the collaborators
// is written only by the goroutine running Run.
type Supervisor struct {
	cfg        *config.Config
	spec       process.Spec
	policy     ExitPolicy
	launcher   process.Launcher
	channel    protocol.Channel
	log        *logger.Logger
	clock      tick.Clock
	reporter   StatusReporter
	recorder   *history.Recorder
	sampler    *metrics.Sampler
	reload     func() (*config.Config, error)
	service    bool
	retryDelay time.Duration
	cycleDelay time.Duration
	requests   *Requests
	watcher    *commandWatcher
	diag       diagnostics

	wState           WState
	jState           JState
	jTimeout         tick.Timeout
	launchTicks      tick.Tick
	launchedAt       time.Time
	restartRequested RestartMode
	exitRequested    bool
	exitCode         int
	failed           int
	invocations      int
	pid              int
	key              string
	lastPing         tick.Tick
	lastLoggedPing   tick.Tick
	debugNotified    bool

	anchorTimeout     tick.Tick
	commandTimeout    tick.Tick
	memoryTimeout     tick.Tick
	cpuTimeout        tick.Tick
	inactivityTimeout tick.Tick
	lastActivity      uint64
	lastCycle         tick.Tick

	status atomic.Pointer[Status]
}

// New builds a supervisor in WSTATE STARTING / JSTATE DOWN with the first
// launch already requested.
func New(cfg *config.Config, opts Options) (*Supervisor, error) {
	if cfg == nil {
		return nil, errors.New("supervisor: config is required")
	}
	if opts.Launcher == nil || opts.Channel == nil || opts.Logger == nil {
		return nil, errors.New("supervisor: launcher, channel and logger are required")
	}
	spec, err := cfg.ChildSpec()
	if err != nil {
		return nil, err
	}
	s := &Supervisor{
		cfg:              cfg,
		spec:             spec,
		policy:           NewExitPolicy(cfg.OnExit),
		launcher:         opts.Launcher,
		channel:          opts.Channel,
		log:              opts.Logger,
		clock:            opts.Clock,
		reporter:         opts.Reporter,
		recorder:         opts.Recorder,
		sampler:          opts.Sampler,
		reload:           opts.Reload,
		service:          opts.Service,
		retryDelay:       opts.RetryDelay,
		cycleDelay:       opts.CycleDelay,
		requests:         newRequests(),
		wState:           WStateStarting,
		jState:           JStateDown,
		restartRequested: RestartConfigured,
	}
	if s.clock == nil {
		s.clock = tick.NewSystemClock(0)
	}
	if s.reporter == nil {
		s.reporter = NopReporter{}
	}
	if s.reload == nil {
		s.reload = cfg.Reload
	}
	if s.retryDelay <= 0 {
		s.retryDelay = 100 * time.Millisecond
	}
	if s.cycleDelay <= 0 {
		s.cycleDelay = tick.Millis * time.Millisecond
	}
	s.applyDiagnostics(cfg.Diagnostics)
	s.resetTimers(s.clock.Ticks())
	s.publishStatus()
	return s, nil
}

func (s *Supervisor) applyDiagnostics(d config.DiagnosticsConfig) {
	s.diag = diagnostics{
		loop:   d.LoopOutput,
		state:  d.StateOutput,
		memory: d.MemoryOutput,
		cpu:    d.CPUOutput,
		timer:  d.TimerOutput,
		sleep:  d.SleepOutput,
	}
}

// Requests is the mailbox other goroutines use to steer the loop.
func (s *Supervisor) Requests() *Requests { return s.requests }

// Logger is the logger the supervisor writes to.
func (s *Supervisor) Logger() *logger.Logger { return s.log }

// Status returns the snapshot published at the end of the last cycle.
func (s *Supervisor) Status() Status { return *s.status.Load() }

func (s *Supervisor) publishStatus() {
	s.status.Store(&Status{
		WState:            s.wState.String(),
		JState:            s.jState.String(),
		Invocation:        s.invocations,
		PID:               s.pid,
		ExitCode:          s.exitCode,
		FailedInvocations: s.failed,
		Port:              s.channel.Port(),
		RestartRequested:  s.restartRequested.String(),
	})
}

func (s *Supervisor) debugging() bool { return s.log.Enabled(logger.LevelDebug) }

func (s *Supervisor) logf(level logger.Level, format string, args ...any) {
	s.log.Log(logger.SourceWrapper, level, format, args...)
}

func (s *Supervisor) debugf(format string, args ...any) {
	if s.debugging() {
		s.log.Log(logger.SourceWrapper, logger.LevelDebug, format, args...)
	}
}

func (s *Supervisor) setWState(w WState) {
	if s.diag.state {
		s.logf(logger.LevelStatus, "      Set Wrapper State %s -> %s", s.wState, w)
	}
	if s.wState != w {
		metrics.RecordStateTransition("wrapper", s.wState.String(), w.String())
		metrics.SetCurrentState("wrapper", s.wState.String(), w.String())
	}
	s.wState = w
	s.writeStateFile(s.cfg.Wrapper.StatusFile, w.String())
}

// setJState switches JSTATE. A change of state drops the old timeout before
// the new one is armed; a negative delay leaves it unset.
func (s *Supervisor) setJState(j JState, now tick.Tick, delay int) {
	if s.diag.state {
		s.logf(logger.LevelStatus, "      Set Java State %s -> %s", s.jState, j)
	}
	if s.jState != j {
		s.jTimeout.Clear()
		metrics.RecordStateTransition("child", s.jState.String(), j.String())
		metrics.SetCurrentState("child", s.jState.String(), j.String())
	}
	s.jState = j
	s.updateTimeout(now, delay)
	s.writeStateFile(s.cfg.Child.StatusFile, j.String())
}

func (s *Supervisor) updateTimeout(now tick.Tick, delay int) {
	prev := s.jTimeout.Deadline()
	if !s.jTimeout.Update(now, delay) {
		if s.diag.state {
			s.logf(logger.LevelStatus, "      Set Java State %s (%d) Ignored Timeout %08x", s.jState, delay, prev)
		}
		return
	}
	if s.diag.state && delay >= 0 {
		s.logf(logger.LevelStatus, "      Set Java State %s (%d) Timeout %08x -> %08x", s.jState, delay, prev, s.jTimeout.Deadline())
	}
}

// delayOr returns base plus extra, or -1 (never) when base is disabled.
func delayOr(base, extra int) int {
	if base <= 0 {
		return -1
	}
	return base + extra
}

func (s *Supervisor) record(t history.EventType, code int, detail string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(history.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Name:       s.cfg.Child.Name,
		Invocation: s.invocations,
		PID:        s.pid,
		ExitCode:   code,
		Detail:     detail,
	})
}
