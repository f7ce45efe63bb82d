package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "RelayLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// ConnState is the manager's connection state machine position.
type ConnState int32

const (
	// StateDisconnected means no connection and no reconnect in flight.
	StateDisconnected ConnState = iota
	// StateConnecting means the initial connect is in flight.
	StateConnecting
	// StateConnected means the transport is live.
	StateConnected
	// StateReconnecting means a backoff timer or reconnect attempt is in flight.
	StateReconnecting
	// StateError means a non-recoverable error (auth rejection) stopped the manager.
	StateError
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Lifecycle event names dispatched through the same handler registry as
// named transport events.
const (
	// EventConnect fires after every successful connect, including reconnects.
	EventConnect = "connect"
	// EventDisconnect fires when the connection is lost or closed.
	EventDisconnect = "disconnect"
	// EventReconnecting fires when a reconnect attempt is scheduled.
	EventReconnecting = "reconnecting"
	// EventReconnectFailed fires when the reconnect budget is exhausted.
	EventReconnectFailed = "reconnect_failed"
	// EventAuthRejected fires when the credential is rejected. The manager
	// never retries; the caller must supply a fresh credential.
	EventAuthRejected = "auth_rejected"
	// EventQueueEvicted fires when the offline queue drops its oldest entry.
	EventQueueEvicted = "queue_evicted"
)

// errHeartbeatTimeout marks a connection considered dead because a pong did
// not arrive in time.
var errHeartbeatTimeout = errors.New("heartbeat timeout: pong not received")

// Config holds connection manager tuning parameters. Zero values are
// replaced with defaults by NewManager.
type Config struct {
	// HeartbeatInterval is the ping cadence while connected.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout bounds the wait for a pong before the connection is
	// treated as dropped.
	HeartbeatTimeout time.Duration
	// BaseReconnectDelay seeds the exponential backoff.
	BaseReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts bounds the reconnect loop; exhausted → Disconnected.
	MaxReconnectAttempts int
	// ConnectTimeout bounds a single transport connect attempt.
	ConnectTimeout time.Duration
	// QueueSize bounds the offline event queue.
	QueueSize int
	// MaxRetries is the per-event replay budget for queued events.
	MaxRetries int
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		BaseReconnectDelay:   time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		ConnectTimeout:       10 * time.Second,
		QueueSize:            100,
		MaxRetries:           3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.BaseReconnectDelay <= 0 {
		c.BaseReconnectDelay = def.BaseReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	return c
}

// backoffDelay computes the reconnect delay for the given attempt count:
// min(base << attempts, max). Shift overflow saturates at max.
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	if attempts > 30 {
		return max
	}
	d := base << uint(attempts)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// Manager keeps a logical connection alive across physical drops: it owns
// reconnection with exponential backoff, buffers outbound events while
// offline and replays them in order on reconnect, and shields the read loop
// from panicking event handlers.
type Manager struct {
	transport  Transport
	cfg        Config
	queue      *eventQueue
	dispatcher *dispatcher
	logger     *log.Helper

	mu                sync.Mutex
	state             ConnState
	credential        string
	lastError         error
	reconnectAttempts int
	lastConnectedAt   time.Time
	closed            bool
	reconnectTimer    *time.Timer
	heartbeatStop     chan struct{}

	pongCh chan struct{}
}

// NewManager creates a connection manager over the given transport.
func NewManager(transport Transport, cfg Config, logger log.Logger) *Manager {
	m := &Manager{
		transport:  transport,
		cfg:        cfg.withDefaults(),
		dispatcher: newDispatcher(logger),
		logger:     log.NewHelper(logger),
		state:      StateDisconnected,
		pongCh:     make(chan struct{}, 1),
	}
	m.queue = newEventQueue(m.cfg.QueueSize, m.onQueueEvict)

	transport.SetCallbacks(Callbacks{
		OnEvent:      m.dispatcher.dispatch,
		OnDisconnect: m.handleDisconnect,
		OnPong:       m.handlePong,
	})
	return m
}

// Connect establishes the connection with the given credential. An auth
// rejection is returned immediately and never retried; any other failure
// starts the reconnect loop, and Connect returns the first attempt's error.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.credential = credential
	m.closed = false
	m.reconnectAttempts = 0
	m.lastError = nil
	m.state = StateConnecting
	m.mu.Unlock()

	return m.attemptConnect(ctx)
}

func (m *Manager) attemptConnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	credential := m.credential
	m.mu.Unlock()

	err := m.transport.Connect(ctx, credential)
	if err == nil {
		m.onConnected()
		return nil
	}

	if pkgerrors.IsAuthError(err) {
		// A rejected credential will be rejected again: retrying would only
		// hammer the auth endpoint. The caller must supply a fresh one.
		m.mu.Lock()
		m.lastError = err
		m.state = StateError
		m.mu.Unlock()

		m.logger.Warnw("msg", "credential rejected, not retrying",
			"error", err.Error(),
			"type", "realtime")
		m.dispatcher.dispatch(EventAuthRejected, nil)
		return err
	}

	m.mu.Lock()
	m.lastError = err
	m.reconnectAttempts++
	m.mu.Unlock()

	m.scheduleReconnect()
	return err
}

func (m *Manager) onConnected() {
	m.mu.Lock()
	m.state = StateConnected
	m.reconnectAttempts = 0
	m.lastError = nil
	m.lastConnectedAt = time.Now()
	m.startHeartbeatLocked()
	m.mu.Unlock()

	m.logger.Infow("msg", "connection established",
		"type", "realtime")

	// Replay the offline queue fully, in order, before live sends resume.
	m.drainQueue()

	m.dispatcher.dispatch(EventConnect, nil)
}

// drainQueue replays buffered events in FIFO order. A replay failure
// consumes one retry; entries over budget are dropped silently.
func (m *Manager) drainQueue() {
	for _, ev := range m.queue.DrainAll() {
		if err := m.transport.Send(ev.Name, ev.Payload); err != nil {
			ev.Retries++
			if ev.Retries > ev.MaxRetries {
				m.logger.Warnw("msg", "queued event dropped after retry budget",
					"event", ev.Name,
					"retries", ev.Retries,
					"type", "realtime")
				continue
			}
			m.queue.Push(ev)
		}
	}
}

// emitOptions carries per-emit overrides of the manager-wide defaults.
type emitOptions struct {
	retry      bool
	maxRetries int
}

// EmitOption customizes a single Emit call.
type EmitOption func(*emitOptions)

// WithoutRetry makes the emit fail fast: when the event cannot be sent live
// it is dropped instead of entering the offline queue.
func WithoutRetry() EmitOption {
	return func(o *emitOptions) { o.retry = false }
}

// WithMaxRetries overrides the configured replay budget for this event only.
func WithMaxRetries(n int) EmitOption {
	return func(o *emitOptions) { o.maxRetries = n }
}

// Emit sends a named event, or queues it when the connection is down or the
// send fails. Returns true only when the event went out live; false means
// "queued or dropped", never an error: transport trouble is the manager's
// problem, not the caller's.
func (m *Manager) Emit(event string, payload []byte, opts ...EmitOption) bool {
	o := emitOptions{retry: true, maxRetries: m.cfg.MaxRetries}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected {
		if err := m.transport.Send(event, payload); err == nil {
			return true
		}
	}

	if !o.retry {
		return false
	}

	m.queue.Push(QueuedEvent{
		Name:       event,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		MaxRetries: o.maxRetries,
	})
	return false
}

// On registers a handler for a named event. Registrations survive
// reconnects.
func (m *Manager) On(event string, fn Handler) HandlerID {
	return m.dispatcher.On(event, fn)
}

// Once registers a handler that fires at most once.
func (m *Manager) Once(event string, fn Handler) HandlerID {
	return m.dispatcher.Once(event, fn)
}

// Off removes a previously registered handler.
func (m *Manager) Off(event string, id HandlerID) {
	m.dispatcher.Off(event, id)
}

// Disconnect closes the connection intentionally: no reconnect, queue kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	m.stopTimersLocked()
	m.state = StateDisconnected
	m.mu.Unlock()

	_ = m.transport.Close()
	m.dispatcher.dispatch(EventDisconnect, nil)
}

// handleDisconnect reacts to a transport-level connection loss. A nil error
// is a clean server-initiated close and does not trigger reconnection.
func (m *Manager) handleDisconnect(err error) {
	m.mu.Lock()
	if m.state != StateConnected {
		// Already handled (intentional close or a concurrent drop).
		m.mu.Unlock()
		return
	}
	m.stopTimersLocked()

	if m.closed || err == nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		m.dispatcher.dispatch(EventDisconnect, nil)
		return
	}

	m.lastError = err
	m.mu.Unlock()

	m.logger.Warnw("msg", "connection lost",
		"error", err.Error(),
		"type", "realtime")
	m.dispatcher.dispatch(EventDisconnect, nil)
	m.scheduleReconnect()
}

// scheduleReconnect arms the single reconnect timer with the backoff delay
// for the current attempt count, or gives up when the budget is exhausted.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.reconnectAttempts >= m.cfg.MaxReconnectAttempts {
		m.state = StateDisconnected
		attempts := m.reconnectAttempts
		m.mu.Unlock()

		m.logger.Warnw("msg", "reconnect budget exhausted, giving up",
			"attempts", attempts,
			"type", "realtime")
		m.dispatcher.dispatch(EventReconnectFailed, nil)
		return
	}

	m.state = StateReconnecting
	delay := backoffDelay(m.cfg.BaseReconnectDelay, m.cfg.MaxReconnectDelay, m.reconnectAttempts)
	attempts := m.reconnectAttempts

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		defer cancel()
		_ = m.attemptConnect(ctx)
	})
	m.mu.Unlock()

	m.logger.Infow("msg", "reconnect scheduled",
		"attempt", attempts,
		"delay", delay.String(),
		"type", "realtime")
	m.dispatcher.dispatch(EventReconnecting, nil)
}

// stopTimersLocked stops the reconnect timer and the heartbeat loop.
// Caller holds m.mu.
func (m *Manager) stopTimersLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// startHeartbeatLocked starts the heartbeat loop. Caller holds m.mu.
func (m *Manager) startHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
	}
	stop := make(chan struct{})
	m.heartbeatStop = stop
	go m.heartbeatLoop(stop)
}

func (m *Manager) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Discard a stale pong from a previous round.
			select {
			case <-m.pongCh:
			default:
			}

			if err := m.transport.Ping(); err != nil {
				m.handleHeartbeatDrop(err)
				return
			}

			select {
			case <-m.pongCh:
				// Liveness confirmed.
			case <-time.After(m.cfg.HeartbeatTimeout):
				m.handleHeartbeatDrop(errHeartbeatTimeout)
				return
			case <-stop:
				return
			}
		}
	}
}

func (m *Manager) handleHeartbeatDrop(err error) {
	m.logger.Warnw("msg", "heartbeat failed, treating connection as dropped",
		"error", err.Error(),
		"type", "realtime")

	_ = m.transport.Close()
	m.handleDisconnect(err)
}

func (m *Manager) handlePong() {
	select {
	case m.pongCh <- struct{}{}:
	default:
	}
}

func (m *Manager) onQueueEvict(ev QueuedEvent, size int) {
	m.logger.Warnw("msg", "offline queue full, oldest event evicted",
		"event", ev.Name,
		"queue_size", size,
		"type", "error_count")
	m.dispatcher.dispatch(EventQueueEvicted, []byte(ev.Name))
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent connection error, nil while healthy.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// ReconnectAttempts returns the current consecutive failed attempt count.
// Reset only by a successful connect.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

// LastConnectedAt returns the time of the most recent successful connect.
func (m *Manager) LastConnectedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConnectedAt
}

// QueueLen returns the number of events waiting for replay.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// QueueEvictions returns the lifetime offline-queue eviction count.
func (m *Manager) QueueEvictions() uint64 {
	return m.queue.Evictions()
}
