// Package breaker implements a circuit breaker for calls to unreliable
// dependencies. A breaker wraps a single fallible, possibly slow action so
// that repeated failures fail fast instead of continuing to burden a
// degraded dependency, and so that recovery is probed safely rather than
// assumed.
//
// Design notes:
//   - One breaker instance per protected dependency/operation class.
//   - A single mutex guards state and counters: "check state" and "record
//     outcome" share one mutation path, so concurrent callers cannot lose
//     updates between the two.
//   - The breaker never swallows errors. "Fast failure" means the caller
//     receives a distinguishable circuit-open error instead of invoking
//     (and waiting on) the real dependency.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "RelayLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State represents the circuit breaker state machine position.
type State int32

const (
	// StateClosed allows calls to pass through (initial state).
	StateClosed State = iota
	// StateOpen rejects all calls immediately until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen allows a bounded number of probe calls through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the state as its string form in admin output.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Action is the protected call executed by the breaker.
type Action func(ctx context.Context) (interface{}, error)

// Listener receives breaker lifecycle notifications. All methods are invoked
// synchronously while the breaker lock is NOT held; implementations must be
// fast and must not call back into the breaker. A nil listener is valid.
type Listener interface {
	// OnStateChange is invoked on every state transition.
	OnStateChange(name string, from, to State, reason string)
	// OnSuccess is invoked after each successful action invocation.
	OnSuccess(name string, latency time.Duration)
	// OnFailure is invoked after each failed or timed-out action invocation.
	OnFailure(name string, err error)
	// OnRejected is invoked when a call is rejected without invoking the action.
	OnRejected(name string, nextAttempt time.Time)
}

// Config holds circuit breaker tuning parameters. Zero values are replaced
// with defaults by New.
type Config struct {
	// FailureThreshold trips the breaker once the transient failure counter
	// reaches it, provided MinimumRequests has also been reached.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open probe
	// successes required to close the breaker.
	SuccessThreshold int
	// MinimumRequests is the minimum number of attempted calls before the
	// absolute failure counter may trip the breaker.
	MinimumRequests uint64
	// ErrorRatePercent trips the breaker when the failure percentage within
	// MonitoringWindow reaches it, provided VolumeThreshold is met.
	ErrorRatePercent float64
	// VolumeThreshold is the minimum number of samples within
	// MonitoringWindow before the rate condition may trip the breaker.
	VolumeThreshold int
	// MonitoringWindow bounds the age of samples considered by the
	// rate-based trip condition.
	MonitoringWindow time.Duration
	// RecoveryTimeout is how long the breaker stays open before allowing a
	// half-open probe. Fixed per instance; exponential retry policies
	// belong to the caller, not the breaker.
	RecoveryTimeout time.Duration
	// ExecutionTimeout is the hard per-call timeout for the wrapped action.
	ExecutionTimeout time.Duration
	// MaxHalfOpenProbes bounds concurrent probe calls while half-open.
	MaxHalfOpenProbes int

	// WindowCapacity is the sliding-window sample ring size.
	WindowCapacity int
	// HistoryCapacity is the state-transition history ring size.
	HistoryCapacity int
	// RecentErrorCapacity is the recent-error ring size.
	RecentErrorCapacity int

	// CacheSize enables a bounded result cache when > 0. Cached results are
	// returned without invoking the action or touching breaker state.
	CacheSize int
	// CacheTTL is the per-entry expiry for cached results.
	CacheTTL time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		MinimumRequests:     10,
		ErrorRatePercent:    50,
		VolumeThreshold:     10,
		MonitoringWindow:    60 * time.Second,
		RecoveryTimeout:     30 * time.Second,
		ExecutionTimeout:    30 * time.Second,
		MaxHalfOpenProbes:   1,
		WindowCapacity:      256,
		HistoryCapacity:     32,
		RecentErrorCapacity: 16,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = def.MinimumRequests
	}
	if c.ErrorRatePercent <= 0 {
		c.ErrorRatePercent = def.ErrorRatePercent
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = def.VolumeThreshold
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = def.MonitoringWindow
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = def.ExecutionTimeout
	}
	if c.MaxHalfOpenProbes <= 0 {
		c.MaxHalfOpenProbes = def.MaxHalfOpenProbes
	}
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = def.WindowCapacity
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.RecentErrorCapacity <= 0 {
		c.RecentErrorCapacity = def.RecentErrorCapacity
	}
	return c
}

// Option configures optional breaker behavior.
type Option func(*Breaker)

// WithListener attaches a lifecycle listener.
func WithListener(l Listener) Option {
	return func(b *Breaker) { b.listener = l }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a circuit breaker protecting a single dependency.
type Breaker struct {
	name     string
	cfg      Config
	logger   *log.Helper
	listener Listener
	now      func() time.Time

	mu sync.Mutex
	// state machine
	state       State
	nextAttempt time.Time
	probes      int // in-flight half-open probe calls

	// transient counters, reset on every state transition
	failures  int
	successes int

	// lifetime counters, never reset
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	timeouts        uint64
	openings        uint64
	rejections      uint64

	window  *sampleRing
	history *transitionRing
	errors  *errorRing

	// transitions recorded while the lock was held, delivered to the
	// listener after release
	pending []Transition

	cache *expirable.LRU[string, interface{}]
}

// New creates a circuit breaker named after the dependency it protects.
func New(name string, cfg Config, logger log.Logger, opts ...Option) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{
		name:    name,
		cfg:     cfg,
		logger:  log.NewHelper(logger),
		now:     time.Now,
		state:   StateClosed,
		window:  newSampleRing(cfg.WindowCapacity),
		history: newTransitionRing(cfg.HistoryCapacity),
		errors:  newErrorRing(cfg.RecentErrorCapacity),
	}
	if cfg.CacheSize > 0 {
		b.cache = expirable.NewLRU[string, interface{}](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs the protected action under breaker control.
func (b *Breaker) Execute(ctx context.Context, action Action) (interface{}, error) {
	return b.ExecuteCached(ctx, "", action)
}

// ExecuteCached runs the protected action under breaker control. When
// cacheKey is non-empty and a live, unexpired cached result exists, it is
// returned without invoking the action or touching breaker state.
func (b *Breaker) ExecuteCached(ctx context.Context, cacheKey string, action Action) (interface{}, error) {
	if cacheKey != "" && b.cache != nil {
		if v, ok := b.cache.Get(cacheKey); ok {
			return v, nil
		}
	}

	if err := b.allowRequest(); err != nil {
		return nil, err
	}
	b.flush()

	start := b.now()
	result, err, timedOut := b.invoke(ctx, action)
	latency := b.now().Sub(start)

	if err != nil {
		b.recordFailure(err, latency, timedOut)
		return nil, err
	}

	b.recordSuccess(latency)
	if cacheKey != "" && b.cache != nil {
		b.cache.Add(cacheKey, result)
	}
	return result, nil
}

// invoke runs the action with the hard execution timeout. The action runs in
// its own goroutine so a hung dependency cannot block the caller past the
// timeout; the abandoned goroutine observes the canceled context.
func (b *Breaker) invoke(ctx context.Context, action Action) (interface{}, error, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ExecutionTimeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := action(ctx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err, false
	case <-ctx.Done():
		// A canceled parent context is the caller abandoning the call, not a
		// slow dependency. Propagate it as-is and leave the timeout counter
		// alone.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err(), false
		}
		return nil, &pkgerrors.ExecutionTimeoutError{Name: b.name, Timeout: b.cfg.ExecutionTimeout}, true
	}
}

// allowRequest decides whether a call may proceed, driving the automatic
// OPEN -> HALF_OPEN transition once the recovery timeout has elapsed.
func (b *Breaker) allowRequest() error {
	b.mu.Lock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.nextAttempt) {
			return b.rejectLocked()
		}
		// Recovery timeout elapsed: probe before any call proceeds.
		b.transitionLocked(StateHalfOpen, "recovery timeout elapsed")
		b.probes = 1
	case StateHalfOpen:
		if b.probes >= b.cfg.MaxHalfOpenProbes {
			return b.rejectLocked()
		}
		b.probes++
	}

	b.totalRequests++
	b.mu.Unlock()
	return nil
}

// rejectLocked emits the rejection signal and returns the circuit-open
// error. Rejections do not touch transient counters. Releases the lock.
func (b *Breaker) rejectLocked() error {
	b.rejections++
	nextAttempt := b.nextAttempt
	b.mu.Unlock()

	b.logger.Debugw("call rejected by open circuit",
		"breaker", b.name,
		"next_attempt", nextAttempt)
	if b.listener != nil {
		b.listener.OnRejected(b.name, nextAttempt)
	}
	return &pkgerrors.CircuitOpenError{Name: b.name, NextAttempt: nextAttempt}
}

func (b *Breaker) recordSuccess(latency time.Duration) {
	b.mu.Lock()
	b.successRequests++
	b.successes++
	b.window.add(b.now(), true, latency)

	if b.state == StateHalfOpen {
		if b.probes > 0 {
			b.probes--
		}
		if b.successes >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed, "success threshold reached")
		}
	}
	b.mu.Unlock()

	if b.listener != nil {
		b.listener.OnSuccess(b.name, latency)
	}
	b.flush()
}

func (b *Breaker) recordFailure(err error, latency time.Duration, timedOut bool) {
	b.mu.Lock()
	now := b.now()
	b.failedRequests++
	if timedOut {
		b.timeouts++
	}
	b.failures++
	b.window.add(now, false, latency)
	b.errors.add(now, err)

	switch b.state {
	case StateHalfOpen:
		// A single failure while half-open re-opens the circuit.
		if b.probes > 0 {
			b.probes--
		}
		b.transitionLocked(StateOpen, "failure during half-open probe")
	case StateClosed:
		if reason, trip := b.shouldTripLocked(now); trip {
			b.transitionLocked(StateOpen, reason)
		}
	}
	b.mu.Unlock()

	if b.listener != nil {
		b.listener.OnFailure(b.name, err)
	}
	b.flush()
}

// shouldTripLocked evaluates both trip conditions; either is sufficient.
func (b *Breaker) shouldTripLocked(now time.Time) (string, bool) {
	if b.failures >= b.cfg.FailureThreshold && b.totalRequests >= b.cfg.MinimumRequests {
		return "failure threshold reached", true
	}

	cutoff := now.Add(-b.cfg.MonitoringWindow)
	total, failed := b.window.countSince(cutoff)
	// A window with fewer samples than the volume threshold never trips on rate.
	if total >= b.cfg.VolumeThreshold {
		rate := float64(failed) / float64(total) * 100
		if rate >= b.cfg.ErrorRatePercent {
			return "error rate threshold reached", true
		}
	}
	return "", false
}

// transitionLocked moves the state machine, resets transient counters, and
// records the transition. Must be called with the lock held.
func (b *Breaker) transitionLocked(to State, reason string) {
	from := b.state
	if from == to {
		return
	}
	now := b.now()

	b.state = to
	b.failures = 0
	b.successes = 0
	b.probes = 0
	if to == StateOpen {
		b.openings++
		b.nextAttempt = now.Add(b.cfg.RecoveryTimeout)
	}
	b.history.add(from, to, now, reason)

	b.pending = append(b.pending, Transition{From: from, To: to, At: now, Reason: reason})
}

// flush delivers recorded transitions to the listener and log. Must be
// called without the lock held so listeners may safely read Stats.
func (b *Breaker) flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, tr := range pending {
		b.logger.Infow("circuit breaker state changed",
			"breaker", b.name,
			"from", tr.From.String(),
			"to", tr.To.String(),
			"reason", tr.Reason)
		if b.listener != nil {
			b.listener.OnStateChange(b.name, tr.From, tr.To, tr.Reason)
		}
	}
}

// Reset forces the breaker closed and clears transient state. Lifetime
// counters are preserved.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.transitionLocked(StateClosed, "manual reset")
	// Clear transient state even when already closed.
	b.failures = 0
	b.successes = 0
	b.probes = 0
	b.nextAttempt = time.Time{}
	b.mu.Unlock()
	b.flush()
}

// ForceOpen forces the breaker open regardless of current counters. Forcing
// an already-open breaker restarts the recovery timeout and still records
// the manual reason in the transition history.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	if reason == "" {
		reason = "forced open"
	}
	if b.state == StateOpen {
		now := b.now()
		b.nextAttempt = now.Add(b.cfg.RecoveryTimeout)
		b.history.add(StateOpen, StateOpen, now, reason)
		b.pending = append(b.pending, Transition{From: StateOpen, To: StateOpen, At: now, Reason: reason})
	} else {
		b.transitionLocked(StateOpen, reason)
	}
	b.mu.Unlock()
	b.flush()
}

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// Stats is a synchronous snapshot of breaker state suitable for an
// administrative endpoint.
type Stats struct {
	Name            string       `json:"name"`
	State           string       `json:"state"`
	Failures        int          `json:"failures"`
	Successes       int          `json:"successes"`
	TotalRequests   uint64       `json:"total_requests"`
	SuccessRequests uint64       `json:"success_requests"`
	FailedRequests  uint64       `json:"failed_requests"`
	Timeouts        uint64       `json:"timeouts"`
	CircuitOpenings uint64       `json:"circuit_openings"`
	Rejections      uint64       `json:"rejections"`
	ErrorRate       float64      `json:"error_rate"`
	NextAttempt     time.Time    `json:"next_attempt,omitempty"`
	Transitions     []Transition `json:"transitions,omitempty"`
	RecentErrors    []string     `json:"recent_errors,omitempty"`
}

// Stats returns a snapshot of the breaker's current state and counters.
// ErrorRate is the failure percentage within the monitoring window; an
// empty window reports 0.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rate float64
	total, failed := b.window.countSince(b.now().Add(-b.cfg.MonitoringWindow))
	if total > 0 {
		rate = float64(failed) / float64(total) * 100
	}

	return Stats{
		Name:            b.name,
		State:           b.state.String(),
		Failures:        b.failures,
		Successes:       b.successes,
		TotalRequests:   b.totalRequests,
		SuccessRequests: b.successRequests,
		FailedRequests:  b.failedRequests,
		Timeouts:        b.timeouts,
		CircuitOpenings: b.openings,
		Rejections:      b.rejections,
		ErrorRate:       rate,
		NextAttempt:     b.nextAttempt,
		Transitions:     b.history.list(),
		RecentErrors:    b.errors.list(),
	}
}
