package session

import "github.com/outfleet/beacon/internal/telemetry"

// ring is a fixed-capacity append-only buffer of telemetry events with
// oldest-drop eviction. Not safe for concurrent use; the store serializes
// access.
type ring struct {
	buf   []telemetry.Event
	head  int // index of the oldest entry
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]telemetry.Event, capacity)}
}

func (r *ring) append(events ...telemetry.Event) {
	for _, ev := range events {
		if r.count < len(r.buf) {
			r.buf[(r.head+r.count)%len(r.buf)] = ev
			r.count++
			continue
		}
		// Full: overwrite the oldest slot and advance.
		r.buf[r.head] = ev
		r.head = (r.head + 1) % len(r.buf)
	}
}

func (r *ring) len() int {
	return r.count
}

// tail returns up to n of the most recent entries, oldest of the returned
// slice first. The result is a copy.
func (r *ring) tail(n int) []telemetry.Event {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]telemetry.Event, n)
	start := r.head + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// all returns every buffered entry in arrival order.
func (r *ring) all() []telemetry.Event {
	return r.tail(r.count)
}
