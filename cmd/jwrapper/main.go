package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/jwrapper"
	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/supervisor"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// bootstrap output until the wrapper logger takes over
	slog.SetDefault(slog.New(logger.NewColorTextHandler(os.Stderr, nil)))

	app := &cli{}
	root := buildRoot(app)
	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		if app.exitCode == 0 {
			app.exitCode = 1
		}
	}
	os.Exit(app.exitCode)
}

// cli carries what the commands hand back to main.
type cli struct {
	exitCode int
}

// buildRoot creates the root command with its subcommands.
func buildRoot(app *cli) *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(app, globalFlags),
		createStatusCommand(globalFlags),
		createCommandCommand(globalFlags),
		createControlCommand(),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "jwrapper",
		Short: "Supervise a long-running child application",
		Long: `jwrapper launches a child application, keeps a control channel to it,
pings it, and restarts or shuts it down according to its configuration.

Examples:
  jwrapper run --config=jwrapper.toml
  jwrapper run jwrapper.toml --service --daemonize --logfile=/var/log/jwrapper.out
  jwrapper status --config=jwrapper.toml
  jwrapper command --config=jwrapper.toml STOP 3
  jwrapper ctl dump --api-url=http://127.0.0.1:8089/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

func createRunCommand(app *cli, globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Run the wrapper in the foreground",
		Long: `Run the wrapper until the child is stopped for good. The process exit
code is the wrapper exit code.

Signals: INT and TERM shut down, HUP restarts the child, QUIT requests a
thread dump.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			code, err := runWrapper(runFlags, args)
			app.exitCode = code
			return err
		},
	}
	cmd.Flags().BoolVar(&runFlags.Service, "service", false, "use service startup delays and report service status")
	cmd.Flags().BoolVar(&runFlags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&runFlags.LogFile, "logfile", "", "redirect the daemon's stdout and stderr to this file")
	return cmd
}

func configPathFrom(flagPath string, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if flagPath == "" {
		return "", errors.New("config file required. Use --config=jwrapper.toml or provide it as argument")
	}
	return flagPath, nil
}

func runWrapper(flags *RunFlags, args []string) (int, error) {
	path, err := configPathFrom(flags.ConfigPath, args)
	if err != nil {
		return 1, err
	}
	cfg, err := jwrapper.LoadConfig(path)
	if err != nil {
		return 1, fmt.Errorf("error loading config: %w", err)
	}
	if flags.Daemonize {
		return 0, daemonize(flags.LogFile)
	}

	w, err := jwrapper.New(cfg, jwrapper.Options{Service: flags.Service})
	if err != nil {
		return 1, err
	}
	defer func() { _ = w.Close() }()

	stop := watchSignals(w.Requests(), w.Logger())
	defer stop()
	return w.Run(context.Background()), nil
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	statusFlags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the wrapper and child states",
		Long: `Show the states of a wrapper. With --api-url the running wrapper is
asked directly; otherwise the status files named in the config are read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFlags.ConfigPath = globalFlags.ConfigPath
			return showStatus(cmd.OutOrStdout(), statusFlags)
		},
	}
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "control API URL (e.g. http://127.0.0.1:8089/api)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

type fileStatus struct {
	Wrapper string `json:"wrapper_state,omitempty"`
	Child   string `json:"child_state,omitempty"`
}

func showStatus(out io.Writer, flags *StatusFlags) error {
	if flags.APIUrl != "" {
		st, err := NewAPIClient(flags.APIUrl, flags.APITimeout).GetStatus()
		if err != nil {
			return err
		}
		printJSON(out, st)
		return nil
	}
	path, err := configPathFrom(flags.ConfigPath, nil)
	if err != nil {
		return err
	}
	cfg, err := jwrapper.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Wrapper.StatusFile == "" && cfg.Child.StatusFile == "" {
		return errors.New("no status files configured; set wrapper.statusfile or use --api-url")
	}
	var st fileStatus
	if cfg.Wrapper.StatusFile != "" {
		if st.Wrapper, err = supervisor.ReadStateFile(cfg.Wrapper.StatusFile); err != nil {
			return err
		}
	}
	if cfg.Child.StatusFile != "" {
		if st.Child, err = supervisor.ReadStateFile(cfg.Child.StatusFile); err != nil {
			return err
		}
	}
	printJSON(out, st)
	return nil
}

func createCommandCommand(globalFlags *GlobalFlags) *cobra.Command {
	commandFlags := &CommandFlags{}
	cmd := &cobra.Command{
		Use:   "command COMMAND [PARAM]",
		Short: "Append a line to the wrapper's command file",
		Long: `Append a command to the command file. The wrapper consumes the file on
its next command poll.

Commands: RESTART, STOP [code], PAUSE, RESUME, DUMP,
  CONSOLE_LOGLEVEL|LOGFILE_LOGLEVEL|SYSLOG_LOGLEVEL <level>,
  LOOP_OUTPUT|STATE_OUTPUT|MEMORY_OUTPUT|CPU_OUTPUT|TIMER_OUTPUT|SLEEP_OUTPUT <true|false>`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			commandFlags.ConfigPath = globalFlags.ConfigPath
			return appendCommand(commandFlags, args)
		},
	}
	cmd.Flags().StringVar(&commandFlags.File, "file", "", "command file (overrides wrapper.commandfile)")
	return cmd
}

func appendCommand(flags *CommandFlags, args []string) error {
	path := flags.File
	if path == "" {
		cfgPath, err := configPathFrom(flags.ConfigPath, nil)
		if err != nil {
			return err
		}
		cfg, err := jwrapper.LoadConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		path = cfg.Wrapper.CommandFile
	}
	if path == "" {
		return errors.New("no command file configured; set wrapper.commandfile or use --file")
	}
	line := strings.Join(args, " ")
	// #nosec 304
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func createControlCommand() *cobra.Command {
	controlFlags := &ControlFlags{}
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Send a request to a running wrapper over its control API",
	}
	cmd.PersistentFlags().StringVar(&controlFlags.APIUrl, "api-url", "", "control API URL (e.g. http://127.0.0.1:8089/api)")
	cmd.PersistentFlags().DurationVar(&controlFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	var stopCode int
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the child and the wrapper",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"code": {strconv.Itoa(stopCode)}}
			return NewAPIClient(controlFlags.APIUrl, controlFlags.APITimeout).Post("stop", q)
		},
	}
	stop.Flags().IntVar(&stopCode, "code", 0, "wrapper exit code")
	cmd.AddCommand(stop)

	for _, action := range []string{"restart", "pause", "resume", "dump"} {
		action := action
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: "Request " + action,
			RunE: func(cmd *cobra.Command, args []string) error {
				return NewAPIClient(controlFlags.APIUrl, controlFlags.APITimeout).Post(action, nil)
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "loglevel TARGET LEVEL",
		Short: "Change the log level of console, logfile or syslog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"target": {args[0]}, "level": {args[1]}}
			return NewAPIClient(controlFlags.APIUrl, controlFlags.APITimeout).Post("loglevel", q)
		},
	})
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "jwrapper %s\n", version)
		},
	}
}
