package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loykin/jwrapper/internal/env"
)

const (
	outputBuffer = 1024
	// outputMaxLine is the longest line delivered in one piece. Longer lines
	// arrive in chunks of this size.
	outputMaxLine = 64 * 1024
	// ReadBudget bounds one ReadOutput call.
	ReadBudget = 250 * time.Millisecond
	// startReapWait bounds the wait for a child killed by a failed Start.
	startReapWait = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start while a previous child is alive.
var ErrAlreadyRunning = errors.New("process already running")

// Exec launches the child with os/exec. Output from stdout and stderr is
// merged into a single pipe and delivered line by line through ReadOutput.
type Exec struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	pid      int
	pidFile  string
	waitDone chan struct{}
	exitCode int
	lines    chan string
}

var _ Launcher = (*Exec)(nil)

// NewExec returns an idle launcher.
func NewExec() *Exec { return &Exec{} }

// Start launches spec. extra is layered over the wrapper environment and
// spec.Env, with ${VAR} references expanded. When Start fails no child is
// left running.
func (e *Exec) Start(spec Spec, extra []string) (int, error) {
	e.mu.Lock()
	pid, err := e.startLocked(spec, extra)
	done := e.waitDone
	e.mu.Unlock()
	if err == nil || pid == 0 {
		return pid, err
	}
	_ = killGroup(pid)
	select {
	case <-done:
	case <-time.After(startReapWait):
	}
	RemovePIDFile(spec.PIDFile)
	return 0, err
}

func (e *Exec) startLocked(spec Spec, extra []string) (int, error) {
	if e.runningLocked() {
		return 0, ErrAlreadyRunning
	}
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	cmd.Env = env.Merge(os.Environ(), spec.Env, extra)
	configureSysProcAttr(cmd)

	r, w, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return 0, err
	}
	// the child holds its own copy of the write end
	_ = w.Close()

	e.cmd = cmd
	e.pid = cmd.Process.Pid
	e.pidFile = spec.PIDFile
	e.exitCode = 0
	e.waitDone = make(chan struct{})
	e.lines = make(chan string, outputBuffer)

	var mirror io.WriteCloser
	if spec.Output.Enabled() {
		mirror = spec.Output.Writer(spec.Name)
	}
	go pump(r, e.lines, mirror)
	go e.monitor(cmd, e.waitDone)

	if err := WritePIDFile(spec.PIDFile, e.pid); err != nil {
		return e.pid, fmt.Errorf("write pid file: %w", err)
	}
	return e.pid, nil
}

// pump copies child output lines into ch until the pipe closes. It keeps
// draining whatever the child writes; a line longer than outputMaxLine is
// delivered in several pieces.
func pump(r *os.File, ch chan<- string, mirror io.WriteCloser) {
	defer close(ch)
	defer func() { _ = r.Close() }()
	if mirror != nil {
		defer func() { _ = mirror.Close() }()
	}
	br := bufio.NewReaderSize(r, outputMaxLine)
	split := false
	for {
		chunk, err := br.ReadSlice('\n')
		full := errors.Is(err, bufio.ErrBufferFull)
		if mirror != nil && len(chunk) > 0 {
			_, _ = mirror.Write(chunk)
		}
		// the newline ending a line that was already split adds nothing
		if len(chunk) > 0 && !(split && len(chunk) == 1 && chunk[0] == '\n') {
			ch <- strings.TrimSuffix(strings.TrimSuffix(string(chunk), "\n"), "\r")
		}
		split = full
		if err != nil && !full {
			return
		}
	}
}

func (e *Exec) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	code := exitCodeOf(err)
	e.mu.Lock()
	e.exitCode = code
	e.mu.Unlock()
	close(done)
}

// exitCodeOf maps a Wait error to an exit code. A child ended by a signal
// reports 1.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if c := ee.ExitCode(); c >= 0 {
			return c
		}
	}
	return 1
}

func (e *Exec) runningLocked() bool {
	if e.waitDone == nil {
		return false
	}
	select {
	case <-e.waitDone:
		return false
	default:
		return true
	}
}

func (e *Exec) PID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.runningLocked() {
		return 0
	}
	return e.pid
}

func (e *Exec) Poll() (bool, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runningLocked() {
		return true, 0
	}
	return false, e.exitCode
}

func (e *Exec) signal(fn func(int) error) error {
	e.mu.Lock()
	pid := 0
	if e.runningLocked() {
		pid = e.pid
	}
	e.mu.Unlock()
	if pid == 0 {
		return os.ErrProcessDone
	}
	return fn(pid)
}

func (e *Exec) Terminate() error { return e.signal(terminateGroup) }

func (e *Exec) Kill() error { return e.signal(killGroup) }

func (e *Exec) RequestDump() error { return e.signal(dumpSignal) }

func (e *Exec) ReadOutput(emit func(line string)) bool {
	e.mu.Lock()
	ch := e.lines
	e.mu.Unlock()
	if ch == nil {
		return false
	}
	deadline := time.Now().Add(ReadBudget)
	for time.Now().Before(deadline) {
		select {
		case line, ok := <-ch:
			if !ok {
				e.mu.Lock()
				if e.lines == ch {
					e.lines = nil
				}
				e.mu.Unlock()
				return false
			}
			emit(line)
		default:
			return false
		}
	}
	return len(ch) > 0
}

// Wait blocks until the current child exits or d elapses.
func (e *Exec) Wait(d time.Duration) bool {
	e.mu.Lock()
	done := e.waitDone
	e.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
