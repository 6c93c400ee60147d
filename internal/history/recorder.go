package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBuffer = 256
	sendTimeout   = 5 * time.Second
)

// Recorder forwards events to a Sink from a background goroutine so the
// supervisor loop never blocks on a database. When the buffer is full the
// event is dropped and counted.
type Recorder struct {
	sink    Sink
	log     *slog.Logger
	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64
	once    sync.Once
	closed  atomic.Bool
}

// NewRecorder starts a recorder. A nil sink yields a recorder that
// discards everything.
func NewRecorder(sink Sink, log *slog.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{sink: sink, log: log, ch: make(chan Event, buffer), done: make(chan struct{})}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.ch {
		if r.sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := r.sink.Send(ctx, e); err != nil {
			r.log.Warn("history send failed", "type", string(e.Type), "invocation", e.Invocation, "error", err)
		}
		cancel()
	}
}

// Record queues e without blocking.
func (r *Recorder) Record(e Event) {
	if r == nil || r.closed.Load() {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	select {
	case r.ch <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped is the number of events discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Close flushes queued events and closes the sink.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.ch)
		<-r.done
		if r.sink != nil {
			err = r.sink.Close()
		}
	})
	return err
}
