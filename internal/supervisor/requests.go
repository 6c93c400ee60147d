package supervisor

import (
	"sync"
	"sync/atomic"

	"github.com/loykin/jwrapper/internal/logger"
)

// Requests is the mailbox through which other goroutines (signal handler,
// HTTP API) ask the event loop to act. Posting never blocks; the loop picks
// the flags up on its next cycle.
type Requests struct {
	stop     atomic.Bool
	stopCode atomic.Int32
	restart  atomic.Bool
	pause    atomic.Bool
	resume   atomic.Bool
	dump     atomic.Bool
	wake     chan struct{}

	mu     sync.Mutex
	levels []levelChange
}

type levelChange struct {
	target logger.Target
	level  logger.Level
}

func newRequests() *Requests {
	return &Requests{wake: make(chan struct{}, 1)}
}

func (r *Requests) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stop asks for the child and then the wrapper to shut down with code.
func (r *Requests) Stop(code int) {
	r.stopCode.Store(int32(code))
	r.stop.Store(true)
	r.poke()
}

// Restart asks for the child to be restarted.
func (r *Requests) Restart() {
	r.restart.Store(true)
	r.poke()
}

// Pause asks the wrapper to pause.
func (r *Requests) Pause() {
	r.pause.Store(true)
	r.poke()
}

// Resume asks a paused wrapper to continue.
func (r *Requests) Resume() {
	r.resume.Store(true)
	r.poke()
}

// Dump asks the child for a thread dump.
func (r *Requests) Dump() {
	r.dump.Store(true)
	r.poke()
}

// SetLogLevel asks for the threshold of target to change.
func (r *Requests) SetLogLevel(target logger.Target, level logger.Level) {
	r.mu.Lock()
	r.levels = append(r.levels, levelChange{target: target, level: level})
	r.mu.Unlock()
	r.poke()
}

type pending struct {
	stop     bool
	stopCode int
	restart  bool
	pause    bool
	resume   bool
	dump     bool
	levels   []levelChange
}

func (r *Requests) take() pending {
	p := pending{
		stop:    r.stop.Swap(false),
		restart: r.restart.Swap(false),
		pause:   r.pause.Swap(false),
		resume:  r.resume.Swap(false),
		dump:    r.dump.Swap(false),
	}
	r.mu.Lock()
	p.levels, r.levels = r.levels, nil
	r.mu.Unlock()
	if p.stop {
		p.stopCode = int(r.stopCode.Load())
	}
	return p
}
