package process

import "time"

// Launcher is the platform boundary for the supervised child. Exactly one
// child is managed at a time; every method is called from the event loop.
type Launcher interface {
	// Start launches spec with extra environment appended and returns its pid.
	Start(spec Spec, env []string) (int, error)
	// PID of the running child, or 0.
	PID() int
	// Poll reports whether the child is still running. Once it has exited,
	// Poll returns false with the exit code until the next Start.
	Poll() (running bool, exitCode int)
	// Terminate asks the child to exit.
	Terminate() error
	// Kill forcibly ends the child and its process group.
	Kill() error
	// RequestDump asks the child to write a thread dump to its output.
	RequestDump() error
	// Wait blocks until the child has been reaped or d elapses.
	Wait(d time.Duration) bool
	// ReadOutput hands buffered output lines to emit for at most the read
	// budget and reports whether more are pending.
	ReadOutput(emit func(line string)) (more bool)
}
