package breaker

import (
	"fmt"
	"time"
)

// The rings below are fixed-capacity arenas with a wrapping write cursor.
// Old entries are overwritten in place; nothing ever grows.

type sample struct {
	at      time.Time
	success bool
	latency time.Duration
}

// sampleRing holds the sliding window of recent call outcomes used by the
// rate-based trip condition.
type sampleRing struct {
	buf  []sample
	next int
	size int
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{buf: make([]sample, capacity)}
}

func (r *sampleRing) add(at time.Time, success bool, latency time.Duration) {
	r.buf[r.next] = sample{at: at, success: success, latency: latency}
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// countSince returns the number of samples, and the number of failed
// samples, recorded at or after cutoff. Samples older than the cutoff are
// effectively pruned from the rate computation.
func (r *sampleRing) countSince(cutoff time.Time) (total, failed int) {
	for i := 0; i < r.size; i++ {
		s := r.buf[i]
		if s.at.Before(cutoff) {
			continue
		}
		total++
		if !s.success {
			failed++
		}
	}
	return total, failed
}

// transitionRing retains recent state transitions for diagnostics.
type transitionRing struct {
	buf  []Transition
	next int
	size int
}

func newTransitionRing(capacity int) *transitionRing {
	return &transitionRing{buf: make([]Transition, capacity)}
}

func (r *transitionRing) add(from, to State, at time.Time, reason string) {
	r.buf[r.next] = Transition{From: from, To: to, At: at, Reason: reason}
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// list returns transitions in chronological order, oldest first.
func (r *transitionRing) list() []Transition {
	out := make([]Transition, 0, r.size)
	start := 0
	if r.size == len(r.buf) {
		start = r.next
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// errorRing retains the last N errors seen by the breaker.
type errorRing struct {
	buf  []string
	next int
	size int
}

func newErrorRing(capacity int) *errorRing {
	return &errorRing{buf: make([]string, capacity)}
}

func (r *errorRing) add(at time.Time, err error) {
	r.buf[r.next] = fmt.Sprintf("%s: %v", at.Format(time.RFC3339), err)
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// list returns recent errors in chronological order, oldest first.
func (r *errorRing) list() []string {
	out := make([]string, 0, r.size)
	start := 0
	if r.size == len(r.buf) {
		start = r.next
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
