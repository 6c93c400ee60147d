package jwrapper

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/jwrapper/internal/config"
	"github.com/loykin/jwrapper/internal/history"
	"github.com/loykin/jwrapper/internal/history/factory"
	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/metrics"
	"github.com/loykin/jwrapper/internal/process"
	"github.com/loykin/jwrapper/internal/protocol"
	iapi "github.com/loykin/jwrapper/internal/server"
	"github.com/loykin/jwrapper/internal/supervisor"
	"github.com/loykin/jwrapper/internal/tick"
	itls "github.com/loykin/jwrapper/internal/tls"
)

// Re-export core types for external consumers.

type Config = config.Config

type Status = supervisor.Status

type Requests = supervisor.Requests

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config { return config.Default() }

// Options tune how a Wrapper is assembled.
type Options struct {
	// Service selects service-mode startup delays and status reporting.
	Service bool
	// Registerer receives the metrics when metrics are enabled. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Wrapper owns a supervisor together with everything it runs on: the
// instance lock, logger, control channel, history recorder and HTTP API.
type Wrapper struct {
	cfg      *Config
	log      *logger.Logger
	lock     *supervisor.InstanceLock
	clock    *tick.TimerClock
	channel  *protocol.TCPServer
	recorder *history.Recorder
	sup      *supervisor.Supervisor
	tls      *tls.Config
	http     *http.Server
}

// New assembles a Wrapper from cfg. The instance lock is taken here, so a
// second wrapper configured with the same lockfile fails early.
func New(cfg *Config, opts Options) (*Wrapper, error) {
	if cfg == nil {
		return nil, errors.New("jwrapper: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lock, err := supervisor.AcquireLock(cfg.Wrapper.LockFile)
	if err != nil {
		return nil, err
	}

	w := &Wrapper{cfg: cfg, lock: lock}
	lcfg := cfg.LoggerConfig()
	var syslogErr error
	if lcfg.ExternalLevel != logger.LevelNone {
		lcfg.External, syslogErr = logger.NewSyslogSink(cfg.SyslogSinkConfig())
		if syslogErr != nil {
			lcfg.External = nil
			lcfg.ExternalLevel = logger.LevelNone
		}
	}
	w.log = logger.New(lcfg)
	if syslogErr != nil {
		w.log.Log(logger.SourceWrapper, logger.LevelWarn, "Syslog disabled: %v", syslogErr)
	}
	w.channel = protocol.NewTCPServer(cfg.TCPConfig(), w.log)

	if cfg.Metrics.Enabled {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(reg); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if cfg.Server.Enabled {
		if w.tls, err = itls.Setup(cfg.Server.TLS); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("control API TLS: %w", err)
		}
	}

	if cfg.History.Enabled {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		w.recorder = history.NewRecorder(sink, w.log.Slog(logger.SlotMain, logger.SourceWrapper), 0)
	}

	var reporter supervisor.StatusReporter
	if opts.Service {
		reporter = &supervisor.LogReporter{Log: w.log}
	}
	var sampler *metrics.Sampler
	if cfg.Metrics.Enabled {
		sampler = metrics.NewSampler()
	}

	var clock tick.Clock
	if !cfg.Wrapper.UseSystemTime {
		if cfg.Diagnostics.TimerOutput {
			w.log.Log(logger.SourceWrapper, logger.LevelStatus, "Launching Timer thread.")
		}
		w.clock = tick.NewTimerClock(0,
			int32(cfg.Wrapper.TimerFastThreshold*tick.PerSecond),
			int32(cfg.Wrapper.TimerSlowThreshold*tick.PerSecond),
			timerDrift(w.log))
		clock = w.clock
	}

	w.sup, err = supervisor.New(cfg, supervisor.Options{
		Launcher: process.NewExec(),
		Channel:  w.channel,
		Logger:   w.log,
		Clock:    clock,
		Reporter: reporter,
		Recorder: w.recorder,
		Sampler:  sampler,
		Service:  opts.Service,
	})
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// timerDrift reports drift between the timer goroutine and the system
// clock. It runs on the timer goroutine, so it only queues.
func timerDrift(log *logger.Logger) tick.DriftFunc {
	return func(drift int32) {
		ms := int64(drift) * tick.Millis
		if drift > 0 {
			log.LogQueued(true, logger.SlotTimer, logger.SourceWrapper, logger.LevelInfo,
				"The system clock fell behind the timer by %dms.", ms)
			return
		}
		log.LogQueued(true, logger.SlotTimer, logger.SourceWrapper, logger.LevelInfo,
			"The timer fell behind the system clock by %dms.", -ms)
	}
}

// Run starts the HTTP API when enabled and blocks until the supervisor stops.
// It returns the wrapper exit code.
func (w *Wrapper) Run(ctx context.Context) int {
	if w.cfg.Server.Enabled {
		r := iapi.ForSupervisor(w.sup, w.cfg.Server.BasePath, w.cfg.Metrics.Enabled)
		w.http = iapi.NewServer(w.cfg.Server.Listen, r, w.tls)
		scheme := "http"
		if w.tls != nil {
			scheme = "https"
		}
		w.log.Log(logger.SourceWrapper, logger.LevelInfo, "Control API listening on %s://%s%s", scheme, w.cfg.Server.Listen, w.cfg.Server.BasePath)
	}
	return w.sup.Run(ctx)
}

// Requests returns the mailbox used to steer the running wrapper.
func (w *Wrapper) Requests() *Requests { return w.sup.Requests() }

// Status returns the latest published snapshot.
func (w *Wrapper) Status() Status { return w.sup.Status() }

// Logger exposes the wrapper logger, e.g. for signal handlers.
func (w *Wrapper) Logger() *logger.Logger { return w.log }

// Close releases everything New acquired. It is safe to call after Run.
func (w *Wrapper) Close() error {
	var errs []error
	if w.clock != nil {
		w.clock.Stop()
		w.clock = nil
	}
	if w.http != nil {
		errs = append(errs, w.http.Close())
		w.http = nil
	}
	if w.channel != nil {
		errs = append(errs, w.channel.Close())
		w.channel = nil
	}
	if w.recorder != nil {
		errs = append(errs, w.recorder.Close())
		w.recorder = nil
	}
	if w.log != nil {
		errs = append(errs, w.log.Close())
		w.log = nil
	}
	if w.lock != nil {
		errs = append(errs, w.lock.Release())
		w.lock = nil
	}
	return errors.Join(errs...)
}
