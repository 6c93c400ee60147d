package tick

// Tick is a value of the supervisor's fixed-rate counter. The counter wraps
// at 2^32, so ticks must only ever be compared through Age and Expired.
type Tick uint32

const (
	// Millis is the length of one tick.
	Millis = 100
	// PerSecond is the number of ticks in one second.
	PerSecond = 1000 / Millis
)

// Age returns the signed number of ticks from start to end. The result is
// correct across a wrap of the counter as long as the real distance is less
// than 2^31 ticks.
func Age(start, end Tick) int32 {
	return int32(end - start)
}

// AgeSeconds is Age expressed in whole seconds, truncated toward zero.
func AgeSeconds(start, end Tick) int32 {
	return Age(start, end) / PerSecond
}

// Expired reports whether deadline has been reached at now.
func Expired(now, deadline Tick) bool {
	return Age(deadline, now) >= 0
}

// Add returns t advanced by seconds. Overflow wraps silently.
func Add(t Tick, seconds int) Tick {
	return t + Tick(uint32(int32(seconds)*PerSecond))
}

// AddTicks returns t advanced by n ticks.
func AddTicks(t Tick, n int32) Tick {
	return t + Tick(uint32(n))
}

// Timeout is a deadline that may or may not be armed.
type Timeout struct {
	deadline Tick
	set      bool
}

// Set reports whether the timeout is armed.
func (t Timeout) Set() bool { return t.set }

// Deadline returns the armed deadline, or 0 when unset.
func (t Timeout) Deadline() Tick { return t.deadline }

// Clear disarms the timeout.
func (t *Timeout) Clear() {
	t.deadline = 0
	t.set = false
}

// Update arms the timeout delaySeconds after now. A negative delay clears
// it. When a deadline is already armed, a new deadline that is not strictly
// later is ignored and Update returns false.
func (t *Timeout) Update(now Tick, delaySeconds int) bool {
	if delaySeconds < 0 {
		t.Clear()
		return true
	}
	next := Add(now, delaySeconds)
	if t.set && Age(t.deadline, next) <= 0 {
		return false
	}
	t.deadline = next
	t.set = true
	return true
}

// Extend pushes an armed deadline back by seconds. Unset timeouts stay unset.
func (t *Timeout) Extend(seconds int) {
	if t.set {
		t.deadline = Add(t.deadline, seconds)
	}
}

// Expired reports whether the timeout is armed and has been reached.
func (t Timeout) Expired(now Tick) bool {
	return t.set && Expired(now, t.deadline)
}

// Remaining returns the seconds left until the deadline; negative once past.
func (t Timeout) Remaining(now Tick) int32 {
	return AgeSeconds(now, t.deadline)
}
