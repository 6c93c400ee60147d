package logger

import "sync/atomic"

// QueueSize is the capacity of each per-slot queue ring.
const QueueSize = 100

type queueEntry struct {
	seq    uint64
	source int
	level  Level
	msg    string
}

// ring is a lock-free bounded queue. Producers never block: when the ring is
// full the oldest entry is discarded to make room. A single consumer (the
// event loop) drains it.
type ring struct {
	slots   [QueueSize]atomic.Pointer[queueEntry]
	write   atomic.Uint64
	read    atomic.Uint64
	dropped atomic.Uint64
}

// push publishes e and reports whether an older entry had to be discarded.
func (r *ring) push(e *queueEntry) (overwrote bool) {
	for {
		w := r.write.Load()
		rd := r.read.Load()
		if w-rd >= QueueSize {
			if r.read.CompareAndSwap(rd, rd+1) {
				r.dropped.Add(1)
				overwrote = true
			}
			continue
		}
		if r.write.CompareAndSwap(w, w+1) {
			e.seq = w
			r.publish(e)
			return overwrote
		}
	}
}

// publish stores e unless a producer that lapped the ring already filled the
// slot with a newer entry. In that case e was counted as dropped when read
// moved past it.
func (r *ring) publish(e *queueEntry) {
	slot := &r.slots[e.seq%QueueSize]
	for {
		old := slot.Load()
		if old != nil && old.seq > e.seq {
			return
		}
		if slot.CompareAndSwap(old, e) {
			return
		}
	}
}

// pop returns the oldest published entry. It stops at a slot whose producer
// has reserved but not yet stored it.
func (r *ring) pop() (*queueEntry, bool) {
	for {
		rd := r.read.Load()
		if rd == r.write.Load() {
			return nil, false
		}
		e := r.slots[rd%QueueSize].Load()
		if e == nil || e.seq < rd {
			return nil, false
		}
		if e.seq > rd {
			// lapped by a producer, which already advanced read
			continue
		}
		if r.read.CompareAndSwap(rd, rd+1) {
			return e, true
		}
	}
}

func (r *ring) len() int {
	return int(r.write.Load() - r.read.Load())
}
