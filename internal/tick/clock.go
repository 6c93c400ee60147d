package tick

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the source of ticks for all timeout arithmetic.
type Clock interface {
	Ticks() Tick
}

// SystemClock derives ticks from the monotonic clock, so wall-clock jumps
// never move it.
type SystemClock struct {
	start  time.Time
	offset Tick
}

// NewSystemClock returns a clock whose first reading is offset.
func NewSystemClock(offset Tick) *SystemClock {
	return &SystemClock{start: time.Now(), offset: offset}
}

func (c *SystemClock) Ticks() Tick {
	return c.offset + Tick(uint32(time.Since(c.start)/(Millis*time.Millisecond)))
}

// DriftFunc is notified by a TimerClock when its counter drifts from the
// system time by more than the configured thresholds. Positive drift means
// the timer is ahead.
type DriftFunc func(driftTicks int32)

// TimerClock keeps an atomic counter advanced by a background goroutine,
// one tick per interval. Unlike SystemClock it stalls when the process is
// starved of CPU, which the event loop detects and compensates for.
type TimerClock struct {
	ticks    atomic.Uint32
	stop     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	onDrift  DriftFunc
	fastTol  int32
	slowTol  int32
	interval time.Duration
}

// NewTimerClock starts the timer goroutine. fastTol and slowTol are drift
// thresholds in ticks; zero disables drift reporting.
func NewTimerClock(offset Tick, fastTol, slowTol int32, onDrift DriftFunc) *TimerClock {
	c := &TimerClock{
		stop:     make(chan struct{}),
		onDrift:  onDrift,
		fastTol:  fastTol,
		slowTol:  slowTol,
		interval: Millis * time.Millisecond,
	}
	c.ticks.Store(uint32(offset))
	c.wg.Add(1)
	go c.run(offset)
	return c
}

func (c *TimerClock) run(offset Tick) {
	defer c.wg.Done()
	sys := NewSystemClock(offset)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			now := Tick(c.ticks.Add(1))
			if c.onDrift == nil {
				continue
			}
			drift := Age(sys.Ticks(), now)
			if (c.fastTol > 0 && drift > c.fastTol) || (c.slowTol > 0 && -drift > c.slowTol) {
				c.onDrift(drift)
				// resync so a single stall is reported once
				c.ticks.Store(uint32(sys.Ticks()))
			}
		}
	}
}

func (c *TimerClock) Ticks() Tick { return Tick(c.ticks.Load()) }

// Stop terminates the timer goroutine.
func (c *TimerClock) Stop() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// ManualClock is advanced explicitly; used by tests and simulations.
type ManualClock struct {
	ticks atomic.Uint32
}

func NewManualClock(start Tick) *ManualClock {
	c := &ManualClock{}
	c.ticks.Store(uint32(start))
	return c
}

func (c *ManualClock) Ticks() Tick { return Tick(c.ticks.Load()) }

// Advance moves the clock forward by n ticks.
func (c *ManualClock) Advance(n int32) { c.ticks.Add(uint32(n)) }

// AdvanceSeconds moves the clock forward by whole seconds.
func (c *ManualClock) AdvanceSeconds(s int) { c.Advance(int32(s * PerSecond)) }
