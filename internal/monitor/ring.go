package monitor

// ring is a fixed-capacity buffer that evicts oldest-first on overflow.
// It is the backpressure mechanism for activity history: input rate is
// externally driven, so every buffer the monitor keeps is bounded.
type ring[T any] struct {
	buf   []T
	start int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	// Full: overwrite the oldest entry.
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) len() int {
	return r.count
}

// items returns a copy in insertion order, oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

// retain drops entries for which keep returns false, preserving order.
func (r *ring[T]) retain(keep func(T) bool) {
	kept := r.buf[:0:len(r.buf)]
	for _, v := range r.items() {
		if keep(v) {
			kept = append(kept, v)
		}
	}
	n := len(kept)
	buf := make([]T, len(r.buf))
	copy(buf, kept)
	r.buf = buf
	r.start = 0
	r.count = n
}

func (r *ring[T]) clear() {
	r.start = 0
	r.count = 0
}
