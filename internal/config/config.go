package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/process"
	"github.com/loykin/jwrapper/internal/protocol"
)

// EnvPrefix prefixes environment overrides, e.g. JWRAPPER_CHILD_COMMAND.
const EnvPrefix = "JWRAPPER"

// defaultTimerThreshold is two days in seconds.
const defaultTimerThreshold = 2 * 24 * 3600

// Exit policy actions.
const (
	ActionRestart  = "restart"
	ActionShutdown = "shutdown"
)

// ErrNoCommand is returned when no child command is configured.
var ErrNoCommand = errors.New("child.command is required")

// Config is the top-level TOML structure.
type Config struct {
	Env         []string          `toml:"env" mapstructure:"env"`
	EnvFiles    []string          `toml:"env_files" mapstructure:"env_files"`
	Wrapper     WrapperConfig     `toml:"wrapper" mapstructure:"wrapper"`
	Child       ChildConfig       `toml:"child" mapstructure:"child"`
	Restart     RestartConfig     `toml:"restart" mapstructure:"restart"`
	Console     ConsoleConfig     `toml:"console" mapstructure:"console"`
	Logfile     LogfileConfig     `toml:"logfile" mapstructure:"logfile"`
	Syslog      SyslogConfig      `toml:"syslog" mapstructure:"syslog"`
	Protocol    ProtocolConfig    `toml:"protocol" mapstructure:"protocol"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics" mapstructure:"diagnostics"`
	Server      ServerConfig      `toml:"server" mapstructure:"server"`
	Metrics     MetricsConfig     `toml:"metrics" mapstructure:"metrics"`
	History     HistoryConfig     `toml:"history" mapstructure:"history"`
	// OnExit maps "<code>" or "default" to restart or shutdown.
	OnExit map[string]string `toml:"on_exit" mapstructure:"on_exit"`

	path string
}

type WrapperConfig struct {
	PIDFile             string `toml:"pidfile" mapstructure:"pidfile"`
	LockFile            string `toml:"lockfile" mapstructure:"lockfile"`
	StatusFile          string `toml:"statusfile" mapstructure:"statusfile"`
	AnchorFile          string `toml:"anchorfile" mapstructure:"anchorfile"`
	AnchorPollInterval  int    `toml:"anchor_poll_interval" mapstructure:"anchor_poll_interval"`
	CommandFile         string `toml:"commandfile" mapstructure:"commandfile"`
	CommandPollInterval int    `toml:"command_poll_interval" mapstructure:"command_poll_interval"`
	// StartupDelayConsole applies to the first launch when run from a console.
	StartupDelayConsole int  `toml:"startup_delay_console" mapstructure:"startup_delay_console"`
	StartupDelayService int  `toml:"startup_delay_service" mapstructure:"startup_delay_service"`
	CPUTimeout          int  `toml:"cpu_timeout" mapstructure:"cpu_timeout"`
	StopOnPause         bool `toml:"stop_on_pause" mapstructure:"stop_on_pause"`
	// UseSystemTime drives timeouts from the system clock instead of the
	// timer goroutine.
	UseSystemTime bool `toml:"use_system_time" mapstructure:"use_system_time"`
	// Timer drift thresholds, in seconds.
	TimerFastThreshold int `toml:"timer_fast_threshold" mapstructure:"timer_fast_threshold"`
	TimerSlowThreshold int `toml:"timer_slow_threshold" mapstructure:"timer_slow_threshold"`
}

type ChildConfig struct {
	Name                   string       `toml:"name" mapstructure:"name"`
	Command                string       `toml:"command" mapstructure:"command"`
	WorkDir                string       `toml:"workdir" mapstructure:"workdir"`
	Env                    []string     `toml:"env" mapstructure:"env"`
	PIDFile                string       `toml:"pidfile" mapstructure:"pidfile"`
	StatusFile             string       `toml:"statusfile" mapstructure:"statusfile"`
	StartupTimeout         int          `toml:"startup_timeout" mapstructure:"startup_timeout"`
	ShutdownTimeout        int          `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	ExitTimeout            int          `toml:"exit_timeout" mapstructure:"exit_timeout"`
	PingInterval           int          `toml:"ping_interval" mapstructure:"ping_interval"`
	PingIntervalLogged     int          `toml:"ping_interval_logged" mapstructure:"ping_interval_logged"`
	PingTimeout            int          `toml:"ping_timeout" mapstructure:"ping_timeout"`
	MaxFailedInvocations   int          `toml:"max_failed_invocations" mapstructure:"max_failed_invocations"`
	SuccessfulInvocation   int          `toml:"successful_invocation_time" mapstructure:"successful_invocation_time"`
	Debug                  bool         `toml:"debug" mapstructure:"debug"`
	ThreadDumpOnFailedExit bool         `toml:"request_thread_dump_on_failed_exit" mapstructure:"request_thread_dump_on_failed_exit"`
	Output                 OutputConfig `toml:"output" mapstructure:"output"`
}

// OutputConfig mirrors raw child output to a rotating file.
type OutputConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Path       string `toml:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type RestartConfig struct {
	Delay               int  `toml:"delay" mapstructure:"delay"`
	ReloadConfiguration bool `toml:"reload_configuration" mapstructure:"reload_configuration"`
	Disable             bool `toml:"disable" mapstructure:"disable"`
	DisableAutomatic    bool `toml:"disable_automatic" mapstructure:"disable_automatic"`
}

type ConsoleConfig struct {
	Level  string `toml:"level" mapstructure:"level"`
	Format string `toml:"format" mapstructure:"format"`
	Flush  bool   `toml:"flush" mapstructure:"flush"`
	Color  bool   `toml:"color" mapstructure:"color"`
}

type LogfileConfig struct {
	Path              string `toml:"path" mapstructure:"path"`
	Level             string `toml:"level" mapstructure:"level"`
	Format            string `toml:"format" mapstructure:"format"`
	RollMode          string `toml:"rollmode" mapstructure:"rollmode"`
	MaxSize           string `toml:"maxsize" mapstructure:"maxsize"`
	MaxFiles          int    `toml:"maxfiles" mapstructure:"maxfiles"`
	InactivityTimeout int    `toml:"inactivity_timeout" mapstructure:"inactivity_timeout"`
	Umask             string `toml:"umask" mapstructure:"umask"`
}

type SyslogConfig struct {
	Level    string `toml:"level" mapstructure:"level"`
	Facility string `toml:"facility" mapstructure:"facility"`
	Tag      string `toml:"tag" mapstructure:"tag"`
}

type ProtocolConfig struct {
	Port    int  `toml:"port" mapstructure:"port"`
	PortMin int  `toml:"port_min" mapstructure:"port_min"`
	PortMax int  `toml:"port_max" mapstructure:"port_max"`
	Debug   bool `toml:"debug" mapstructure:"debug"`
}

// DiagnosticsConfig holds the toggles that the command file can flip at runtime.
type DiagnosticsConfig struct {
	LoopOutput           bool `toml:"loop_output" mapstructure:"loop_output"`
	StateOutput          bool `toml:"state_output" mapstructure:"state_output"`
	MemoryOutput         bool `toml:"memory_output" mapstructure:"memory_output"`
	MemoryOutputInterval int  `toml:"memory_output_interval" mapstructure:"memory_output_interval"`
	CPUOutput            bool `toml:"cpu_output" mapstructure:"cpu_output"`
	CPUOutputInterval    int  `toml:"cpu_output_interval" mapstructure:"cpu_output_interval"`
	TimerOutput          bool `toml:"timer_output" mapstructure:"timer_output"`
	SleepOutput          bool `toml:"sleep_output" mapstructure:"sleep_output"`
}

type ServerConfig struct {
	Enabled  bool      `toml:"enabled" mapstructure:"enabled"`
	Listen   string    `toml:"listen" mapstructure:"listen"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig serves the control API over HTTPS. CertFile/KeyFile win over Dir;
// with AutoGenerate a self-signed pair is written to Dir when missing.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("wrapper.pidfile", "")
	v.SetDefault("wrapper.lockfile", "")
	v.SetDefault("wrapper.statusfile", "")
	v.SetDefault("wrapper.anchorfile", "")
	v.SetDefault("wrapper.anchor_poll_interval", 5)
	v.SetDefault("wrapper.commandfile", "")
	v.SetDefault("wrapper.command_poll_interval", 5)
	v.SetDefault("wrapper.startup_delay_console", 0)
	v.SetDefault("wrapper.startup_delay_service", 0)
	v.SetDefault("wrapper.cpu_timeout", 10)
	v.SetDefault("wrapper.stop_on_pause", false)
	v.SetDefault("wrapper.use_system_time", false)
	v.SetDefault("wrapper.timer_fast_threshold", defaultTimerThreshold)
	v.SetDefault("wrapper.timer_slow_threshold", defaultTimerThreshold)

	v.SetDefault("child.name", "app")
	v.SetDefault("child.command", "")
	v.SetDefault("child.workdir", "")
	v.SetDefault("child.env", []string{})
	v.SetDefault("child.pidfile", "")
	v.SetDefault("child.statusfile", "")
	v.SetDefault("child.startup_timeout", 30)
	v.SetDefault("child.shutdown_timeout", 30)
	v.SetDefault("child.exit_timeout", 15)
	v.SetDefault("child.ping_interval", 5)
	v.SetDefault("child.ping_interval_logged", 1)
	v.SetDefault("child.ping_timeout", 30)
	v.SetDefault("child.max_failed_invocations", 5)
	v.SetDefault("child.successful_invocation_time", 300)
	v.SetDefault("child.debug", false)
	v.SetDefault("child.request_thread_dump_on_failed_exit", false)
	v.SetDefault("child.output.dir", "")
	v.SetDefault("child.output.path", "")
	v.SetDefault("child.output.max_size_mb", 0)
	v.SetDefault("child.output.max_backups", 0)
	v.SetDefault("child.output.max_age_days", 0)
	v.SetDefault("child.output.compress", false)

	v.SetDefault("restart.delay", 5)
	v.SetDefault("restart.reload_configuration", false)
	v.SetDefault("restart.disable", false)
	v.SetDefault("restart.disable_automatic", false)

	v.SetDefault("console.level", "INFO")
	v.SetDefault("console.format", "PM")
	v.SetDefault("console.flush", false)
	v.SetDefault("console.color", false)

	v.SetDefault("logfile.path", "")
	v.SetDefault("logfile.level", "INFO")
	v.SetDefault("logfile.format", "LPTM")
	v.SetDefault("logfile.rollmode", "SIZE")
	v.SetDefault("logfile.maxsize", "0")
	v.SetDefault("logfile.maxfiles", 0)
	v.SetDefault("logfile.inactivity_timeout", 1)
	v.SetDefault("logfile.umask", "0022")

	v.SetDefault("syslog.level", "NONE")
	v.SetDefault("syslog.facility", "USER")
	v.SetDefault("syslog.tag", "jwrapper")

	v.SetDefault("protocol.port", 0)
	v.SetDefault("protocol.port_min", protocol.DefaultPortMin)
	v.SetDefault("protocol.port_max", protocol.DefaultPortMax)
	v.SetDefault("protocol.debug", false)

	v.SetDefault("diagnostics.loop_output", false)
	v.SetDefault("diagnostics.state_output", false)
	v.SetDefault("diagnostics.memory_output", false)
	v.SetDefault("diagnostics.memory_output_interval", 1)
	v.SetDefault("diagnostics.cpu_output", false)
	v.SetDefault("diagnostics.cpu_output_interval", 1)
	v.SetDefault("diagnostics.timer_output", false)
	v.SetDefault("diagnostics.sleep_output", false)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:8089")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("server.tls.dns_names", []string{"localhost", "127.0.0.1"})
	v.SetDefault("server.tls.valid_days", 365)

	v.SetDefault("metrics.enabled", false)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := newViper()
	var c Config
	_ = v.Unmarshal(&c)
	c.normalize()
	return &c
}

// Load reads and validates a TOML config file. Environment variables with the
// JWRAPPER_ prefix override file values.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.path = path
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Reload re-reads the file this config was loaded from. A config built with
// Default is returned unchanged.
func (c *Config) Reload() (*Config, error) {
	if c.path == "" {
		return c, nil
	}
	return Load(c.path)
}

// Path is the file the config was loaded from.
func (c *Config) Path() string { return c.path }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c *Config) normalize() {
	c.Wrapper.AnchorPollInterval = clamp(c.Wrapper.AnchorPollInterval, 1, 3600)
	c.Wrapper.CommandPollInterval = clamp(c.Wrapper.CommandPollInterval, 1, 3600)
	c.Wrapper.StartupDelayConsole = clamp(c.Wrapper.StartupDelayConsole, 0, 3600)
	c.Wrapper.StartupDelayService = clamp(c.Wrapper.StartupDelayService, 0, 3600)
	c.Wrapper.CPUTimeout = clamp(c.Wrapper.CPUTimeout, 0, 3600)
	c.Wrapper.TimerFastThreshold = clamp(c.Wrapper.TimerFastThreshold, 0, defaultTimerThreshold)
	c.Wrapper.TimerSlowThreshold = clamp(c.Wrapper.TimerSlowThreshold, 0, defaultTimerThreshold)

	c.Child.PingInterval = clamp(c.Child.PingInterval, 1, 3600)
	c.Child.PingIntervalLogged = clamp(c.Child.PingIntervalLogged, 1, 86400)
	c.Child.PingTimeout = clamp(c.Child.PingTimeout, 0, 3600)
	if c.Child.PingTimeout > 0 && c.Child.PingTimeout < c.Child.PingInterval {
		c.Child.PingTimeout = c.Child.PingInterval
	}
	c.Child.StartupTimeout = clamp(c.Child.StartupTimeout, 0, 3600)
	c.Child.ShutdownTimeout = clamp(c.Child.ShutdownTimeout, 0, 3600)
	c.Child.ExitTimeout = clamp(c.Child.ExitTimeout, 0, 3600)
	if c.Child.MaxFailedInvocations < 1 {
		c.Child.MaxFailedInvocations = 1
	}
	if c.Child.SuccessfulInvocation < 0 {
		c.Child.SuccessfulInvocation = 0
	}
	if strings.TrimSpace(c.Child.Name) == "" {
		c.Child.Name = "app"
	}

	c.Restart.Delay = clamp(c.Restart.Delay, 0, 3600)
	c.Logfile.InactivityTimeout = clamp(c.Logfile.InactivityTimeout, 0, 3600)
	if c.Logfile.MaxFiles < 0 {
		c.Logfile.MaxFiles = 0
	}
	c.Diagnostics.MemoryOutputInterval = clamp(c.Diagnostics.MemoryOutputInterval, 1, 3600)
	c.Diagnostics.CPUOutputInterval = clamp(c.Diagnostics.CPUOutputInterval, 1, 3600)

	if c.Protocol.PortMin <= 0 {
		c.Protocol.PortMin = protocol.DefaultPortMin
	}
	if c.Protocol.PortMax < c.Protocol.PortMin {
		c.Protocol.PortMax = c.Protocol.PortMin
	}

	if c.OnExit == nil {
		c.OnExit = map[string]string{}
	}
	for k, v := range c.OnExit {
		c.OnExit[k] = strings.ToLower(strings.TrimSpace(v))
	}
}

// Validate reports configuration errors that make startup impossible.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Child.Command) == "" {
		return ErrNoCommand
	}
	for _, s := range []string{c.Console.Level, c.Logfile.Level, c.Syslog.Level} {
		if _, err := logger.ParseLevel(s); err != nil {
			return err
		}
	}
	if !logger.ValidFacility(c.Syslog.Facility) {
		return fmt.Errorf("unknown syslog facility %q", c.Syslog.Facility)
	}
	if _, err := c.umask(); err != nil {
		return err
	}
	for k, v := range c.OnExit {
		if k != "default" {
			if _, err := strconv.Atoi(k); err != nil {
				return fmt.Errorf("on_exit key %q must be an exit code or \"default\"", k)
			}
		}
		if v != ActionRestart && v != ActionShutdown {
			return fmt.Errorf("on_exit.%s must be %q or %q, got %q", k, ActionRestart, ActionShutdown, v)
		}
	}
	return nil
}

func (c *Config) umask() (os.FileMode, error) {
	s := strings.TrimSpace(c.Logfile.Umask)
	if s == "" {
		return 0o022, nil
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid logfile.umask %q: %w", s, err)
	}
	return os.FileMode(n) & os.ModePerm, nil
}

func levelOr(s string, def logger.Level) logger.Level {
	l, err := logger.ParseLevel(s)
	if err != nil {
		return def
	}
	return l
}

// LoggerConfig builds the logger configuration. The external sink is left
// for the caller to attach.
func (c *Config) LoggerConfig() logger.Config {
	umask, _ := c.umask()
	return logger.Config{
		Console: logger.ConsoleConfig{
			Level:  levelOr(c.Console.Level, logger.LevelInfo),
			Format: c.Console.Format,
			Flush:  c.Console.Flush,
			Color:  c.Console.Color,
		},
		File: logger.FileConfig{
			Path:     c.Logfile.Path,
			Level:    levelOr(c.Logfile.Level, logger.LevelInfo),
			Format:   c.Logfile.Format,
			RollMode: logger.ParseRollMode(c.Logfile.RollMode),
			MaxSize:  logger.ParseSize(c.Logfile.MaxSize),
			MaxFiles: c.Logfile.MaxFiles,
			Umask:    umask,
		},
		ExternalLevel: levelOr(c.Syslog.Level, logger.LevelNone),
	}
}

// SyslogSinkConfig returns the syslog settings.
func (c *Config) SyslogSinkConfig() logger.SyslogConfig {
	return logger.SyslogConfig{
		Level:    levelOr(c.Syslog.Level, logger.LevelNone),
		Facility: c.Syslog.Facility,
		Tag:      c.Syslog.Tag,
	}
}

// TCPConfig returns the protocol server settings.
func (c *Config) TCPConfig() protocol.TCPConfig {
	return protocol.TCPConfig{
		Port:    c.Protocol.Port,
		PortMin: c.Protocol.PortMin,
		PortMax: c.Protocol.PortMax,
		Debug:   c.Protocol.Debug,
	}
}

// ChildSpec builds the launch description of the child. Global env and env
// files are applied first; child env entries override them.
func (c *Config) ChildSpec() (process.Spec, error) {
	env, err := c.mergedEnv()
	if err != nil {
		return process.Spec{}, err
	}
	return process.Spec{
		Name:    c.Child.Name,
		Command: c.Child.Command,
		WorkDir: c.Child.WorkDir,
		Env:     env,
		PIDFile: c.Child.PIDFile,
		Output: logger.OutputConfig{
			Dir:        c.Child.Output.Dir,
			Path:       c.Child.Output.Path,
			MaxSizeMB:  c.Child.Output.MaxSizeMB,
			MaxBackups: c.Child.Output.MaxBackups,
			MaxAgeDays: c.Child.Output.MaxAgeDays,
			Compress:   c.Child.Output.Compress,
		},
	}, nil
}

func (c *Config) mergedEnv() ([]string, error) {
	m := make(map[string]string)
	var order []string
	put := func(k, v string) {
		if _, ok := m[k]; !ok {
			order = append(order, k)
		}
		m[k] = v
	}
	for _, p := range c.EnvFiles {
		if !filepath.IsAbs(p) && c.path != "" {
			p = filepath.Join(filepath.Dir(c.path), p)
		}
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for _, kv := range pairs {
			put(kv[0], kv[1])
		}
	}
	for _, list := range [][]string{c.Env, c.Child.Env} {
		for _, kv := range list {
			if k, v, ok := strings.Cut(kv, "="); ok {
				put(k, v)
			}
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) ([][2]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			out = append(out, [2]string{strings.TrimSpace(k), strings.TrimSpace(v)})
		}
	}
	return out, nil
}
