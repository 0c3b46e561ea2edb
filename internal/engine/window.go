package engine

import (
	"errors"
	"time"
)

// ErrStateCorrupted reports a violated window invariant. The affected
// rule's state is reset to a fresh window; other rules are unaffected.
var ErrStateCorrupted = errors.New("window state corrupted")

// maxSamples bounds the matched event refs kept per window.
const maxSamples = 5

// bucket is one fixed-size sub-span of a rule's window.
type bucket struct {
	start   time.Time
	count   uint64
	samples []string
}

// window approximates a continuous sliding window with a ring of B
// fixed-size time buckets. The live count is the sum of non-expired
// buckets, which bounds memory at O(B) per rule while avoiding the
// boundary blind spot of naive tumbling windows.
//
// Bucket placement uses arrival time from the engine clock, so events
// arriving modestly out of order land in the current bucket and still
// count; time.Time comparisons ride the monotonic clock reading, so
// wall-clock adjustments cannot rotate buckets spuriously.
type window struct {
	duration    time.Duration
	bucketWidth time.Duration
	buckets     []bucket
	head        int // index of the current bucket
}

func newWindow(duration time.Duration, numBuckets int, now time.Time) *window {
	if numBuckets < 2 {
		numBuckets = 2
	}
	w := &window{
		duration:    duration,
		bucketWidth: duration / time.Duration(numBuckets),
		buckets:     make([]bucket, numBuckets),
	}
	w.buckets[0].start = now
	return w
}

// rotate advances the head bucket until it covers now, clearing buckets
// as they are reused. Returns the number of buckets advanced. Rotation
// is lazy: it runs on the next add/total call, not on a per-rule timer.
func (w *window) rotate(now time.Time) int {
	steps := 0
	for now.Sub(w.buckets[w.head].start) >= w.bucketWidth {
		next := w.buckets[w.head].start.Add(w.bucketWidth)

		// Far ahead of the ring: restart instead of spinning through
		// every intermediate bucket.
		if now.Sub(next) >= w.duration {
			w.resetAt(now)
			return len(w.buckets)
		}

		w.head = (w.head + 1) % len(w.buckets)
		w.buckets[w.head] = bucket{start: next}
		steps++
	}
	return steps
}

// add counts one matching event in the current bucket.
func (w *window) add(now time.Time, eventID string) int {
	steps := w.rotate(now)
	b := &w.buckets[w.head]
	b.count++
	if len(b.samples) < maxSamples {
		b.samples = append(b.samples, eventID)
	}
	return steps
}

// total returns the live aggregate count after expiring stale buckets.
func (w *window) total(now time.Time) uint64 {
	w.rotate(now)
	var sum uint64
	for i := range w.buckets {
		if w.live(&w.buckets[i], now) {
			sum += w.buckets[i].count
		}
	}
	return sum
}

// live reports whether a bucket still falls inside the window.
func (w *window) live(b *bucket, now time.Time) bool {
	if b.start.IsZero() {
		return false
	}
	return now.Sub(b.start) < w.duration
}

// bounds returns the time span currently covered by live buckets.
func (w *window) bounds(now time.Time) (start, end time.Time) {
	end = w.buckets[w.head].start.Add(w.bucketWidth)
	start = end.Add(-w.duration)
	return start, end
}

// sampleIDs collects up to maxSamples event refs from oldest to newest.
func (w *window) sampleIDs(now time.Time) []string {
	var out []string
	n := len(w.buckets)
	for i := 1; i <= n; i++ {
		idx := (w.head + i) % n
		b := &w.buckets[idx]
		if !w.live(b, now) {
			continue
		}
		for _, id := range b.samples {
			if len(out) >= maxSamples {
				return out
			}
			out = append(out, id)
		}
	}
	return out
}

// check validates window invariants against the current clock reading.
// The engine tolerates modest reordering, but the clock running more
// than one bucket width behind the head bucket means the state can no
// longer be trusted.
func (w *window) check(now time.Time) error {
	if w.buckets[w.head].start.Sub(now) > w.bucketWidth {
		return ErrStateCorrupted
	}
	return nil
}

// resetAt discards all state and starts a fresh window.
func (w *window) resetAt(now time.Time) {
	for i := range w.buckets {
		w.buckets[i] = bucket{}
	}
	w.head = 0
	w.buckets[0].start = now
}
