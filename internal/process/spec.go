package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loykin/jwrapper/internal/logger"
)

// ErrInvalidEntryPoint is returned when the configured command cannot be run.
var ErrInvalidEntryPoint = errors.New("invalid entry point")

// Spec describes the child to launch.
type Spec struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`  // command line; run through a shell when it needs one
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // extra KEY=VALUE pairs appended to the wrapper env
	PIDFile string   `json:"pid_file"` // optional child pid file
	// Output mirrors raw child output to a rotating file.
	Output logger.OutputConfig `json:"output"`
}

// Validate checks that the entry point can be resolved before a launch is
// attempted.
func (s *Spec) Validate() error {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return fmt.Errorf("%w: command is empty", ErrInvalidEntryPoint)
	}
	if s.WorkDir != "" {
		st, err := os.Stat(s.WorkDir)
		if err != nil {
			return fmt.Errorf("%w: work dir: %v", ErrInvalidEntryPoint, err)
		}
		if !st.IsDir() {
			return fmt.Errorf("%w: work dir %s is not a directory", ErrInvalidEntryPoint, s.WorkDir)
		}
	}
	if needsShell(cmdStr) {
		return nil
	}
	name := strings.Fields(cmdStr)[0]
	if !strings.ContainsRune(name, filepath.Separator) {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntryPoint, err)
		}
		return nil
	}
	path := name
	if !filepath.IsAbs(path) && s.WorkDir != "" {
		path = filepath.Join(s.WorkDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntryPoint, err)
	}
	return nil
}

func needsShell(cmdStr string) bool {
	if _, _, ok := parseExplicitShell(cmdStr); ok {
		return true
	}
	return strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~")
}

// BuildCommand constructs an *exec.Cmd for the given spec.Command.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	if needsShell(cmdStr) {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// strip one pair of outer quotes so the shell parses the script itself
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
