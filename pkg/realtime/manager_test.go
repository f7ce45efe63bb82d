package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	pkgerrors "RelayLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	name    string
	payload string
}

// fakeTransport is a scriptable in-memory Transport.
type fakeTransport struct {
	mu           sync.Mutex
	cb           Callbacks
	connectErrs  []error // consumed one per connect attempt
	connectCount int
	sent         []sentEvent
	sendErr      error
	pingErr      error
	closed       int
}

func (f *fakeTransport) SetCallbacks(cb Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *fakeTransport) Connect(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCount++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Send(event string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEvent{name: event, payload: string(payload)})
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return f.pingErr
	}
	if f.cb.OnPong != nil {
		go f.cb.OnPong()
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) dropConnection(err error) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	cb.OnDisconnect(err)
}

func (f *fakeTransport) deliver(event string, payload []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	cb.OnEvent(event, payload)
}

func (f *fakeTransport) sentEvents() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCount
}

func testConfig() Config {
	return Config{
		HeartbeatInterval:    time.Hour, // heartbeat disabled unless a test wants it
		HeartbeatTimeout:     time.Hour,
		BaseReconnectDelay:   5 * time.Millisecond,
		MaxReconnectDelay:    40 * time.Millisecond,
		MaxReconnectAttempts: 5,
		ConnectTimeout:       time.Second,
		QueueSize:            100,
		MaxRetries:           3,
	}
}

func TestManager_ConnectAndEmit(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), log.DefaultLogger)

	require.NoError(t, m.Connect(context.Background(), "cred"))
	assert.Equal(t, StateConnected, m.State())
	assert.False(t, m.LastConnectedAt().IsZero())

	assert.True(t, m.Emit("message.send", []byte(`{"text":"hi"}`)))
	sent := ft.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, "message.send", sent[0].name)
}

func TestManager_OfflineQueueReplayOrder(t *testing.T) {
	// Scenario: queue capacity 2, three sends while offline. The first event
	// is evicted; after reconnect the remaining two are replayed in order
	// before live traffic.
	cfg := testConfig()
	cfg.QueueSize = 2

	ft := &fakeTransport{}
	m := NewManager(ft, cfg, log.DefaultLogger)

	assert.False(t, m.Emit("e1", []byte("1")))
	assert.False(t, m.Emit("e2", []byte("2")))
	assert.False(t, m.Emit("e3", []byte("3")))

	assert.Equal(t, 2, m.QueueLen())
	assert.Equal(t, uint64(1), m.QueueEvictions())

	require.NoError(t, m.Connect(context.Background(), "cred"))

	sent := ft.sentEvents()
	require.Len(t, sent, 2)
	assert.Equal(t, "e2", sent[0].name)
	assert.Equal(t, "e3", sent[1].name)
	assert.Equal(t, 0, m.QueueLen())
}

func TestManager_EmitQueuesOnSendFailure(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), log.DefaultLogger)
	require.NoError(t, m.Connect(context.Background(), "cred"))

	ft.mu.Lock()
	ft.sendErr = errors.New("broken pipe")
	ft.mu.Unlock()

	// Transport failure is absorbed: queued, not thrown
	assert.False(t, m.Emit("e1", []byte("1")))
	assert.Equal(t, 1, m.QueueLen())
}

func TestManager_EmitWithoutRetryFailsFast(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), log.DefaultLogger)

	// Offline: a no-retry emit is dropped, never queued.
	assert.False(t, m.Emit("e1", []byte("1"), WithoutRetry()))
	assert.Equal(t, 0, m.QueueLen())

	require.NoError(t, m.Connect(context.Background(), "cred"))
	ft.mu.Lock()
	ft.sendErr = errors.New("broken pipe")
	ft.mu.Unlock()

	// Live send failure with retry disabled is also dropped.
	assert.False(t, m.Emit("e2", []byte("2"), WithoutRetry()))
	assert.Equal(t, 0, m.QueueLen())
}

func TestManager_EmitPerEventRetryBudget(t *testing.T) {
	// A zero per-event budget drops the entry on its first failed replay,
	// while an event with the default budget survives the same failure.
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), log.DefaultLogger)

	assert.False(t, m.Emit("ephemeral", []byte("1"), WithMaxRetries(0)))
	assert.False(t, m.Emit("durable", []byte("2")))
	assert.Equal(t, 2, m.QueueLen())

	ft.mu.Lock()
	ft.sendErr = errors.New("broken pipe")
	ft.mu.Unlock()

	require.NoError(t, m.Connect(context.Background(), "cred"))

	// Replay failed for both; only the default-budget event is requeued.
	require.Equal(t, 1, m.QueueLen())

	ft.mu.Lock()
	ft.sendErr = nil
	ft.mu.Unlock()

	m.Disconnect()
	require.NoError(t, m.Connect(context.Background(), "cred"))

	sent := ft.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, "durable", sent[0].name)
}

func TestManager_AuthRejectionNeverRetried(t *testing.T) {
	ft := &fakeTransport{
		connectErrs: []error{fmt.Errorf("handshake: %w", pkgerrors.ErrAuthRejected)},
	}
	m := NewManager(ft, testConfig(), log.DefaultLogger)

	var authEvents int
	var mu sync.Mutex
	m.On(EventAuthRejected, func([]byte) {
		mu.Lock()
		authEvents++
		mu.Unlock()
	})

	err := m.Connect(context.Background(), "bad-cred")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsAuthError(err))
	assert.Equal(t, StateError, m.State())

	// No reconnect attempts happen afterwards
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ft.connects())

	mu.Lock()
	assert.Equal(t, 1, authEvents)
	mu.Unlock()
}

func TestManager_ReconnectAfterDrop(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), log.DefaultLogger)
	require.NoError(t, m.Connect(context.Background(), "cred"))

	ft.dropConnection(errors.New("connection reset"))

	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, time.Second, 5*time.Millisecond, "manager should reconnect automatically")

	assert.Equal(t, 2, ft.connects())
	// Attempts reset on successful connect
	assert.Equal(t, 0, m.ReconnectAttempts())
}

func TestManager_ServerCloseDoesNotReconnect(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), log.DefaultLogger)
	require.NoError(t, m.Connect(context.Background(), "cred"))

	// nil error = clean server-initiated close
	ft.dropConnection(nil)

	assert.Equal(t, StateDisconnected, m.State())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ft.connects(), "clean close must not trigger reconnect")
}

func TestManager_ReconnectBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 3

	failing := make([]error, 10)
	for i := range failing {
		failing[i] = errors.New("refused")
	}
	ft := &fakeTransport{connectErrs: failing}
	m := NewManager(ft, cfg, log.DefaultLogger)

	var gaveUp sync.WaitGroup
	gaveUp.Add(1)
	m.Once(EventReconnectFailed, func([]byte) { gaveUp.Done() })

	err := m.Connect(context.Background(), "cred")
	require.Error(t, err)

	done := make(chan struct{})
	go func() { gaveUp.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager never gave up")
	}

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 3, ft.connects())
}

func TestManager_IntentionalDisconnect(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), log.DefaultLogger)
	require.NoError(t, m.Connect(context.Background(), "cred"))

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ft.connects(), "intentional disconnect must not reconnect")
}

func TestManager_ListenersSurviveReconnect(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), log.DefaultLogger)

	var mu sync.Mutex
	var received []string
	m.On("message.new", func(payload []byte) {
		mu.Lock()
		received = append(received, string(payload))
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background(), "cred"))
	ft.deliver("message.new", []byte("before"))

	ft.dropConnection(errors.New("reset"))
	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	// Same registration still fires after the reconnect
	ft.deliver("message.new", []byte("after"))

	mu.Lock()
	assert.Equal(t, []string{"before", "after"}, received)
	mu.Unlock()
}

func TestManager_HeartbeatTimeoutTriggersReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 10 * time.Millisecond

	ft := &fakeTransport{pingErr: errors.New("write: broken pipe")}
	m := NewManager(ft, cfg, log.DefaultLogger)
	require.NoError(t, m.Connect(context.Background(), "cred"))

	// Failed ping is treated as a drop and the reconnect loop takes over
	require.Eventually(t, func() bool {
		return ft.connects() >= 2
	}, time.Second, 5*time.Millisecond, "heartbeat failure should trigger reconnect")
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped
		{10, 30 * time.Second},
		{64, 30 * time.Second}, // shift overflow saturates
	}

	prev := time.Duration(0)
	for _, tt := range tests {
		got := backoffDelay(base, max, tt.attempts)
		assert.Equal(t, tt.want, got, "attempts=%d", tt.attempts)
		// Monotonic non-decreasing
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestManager_ConnectWhileConnectedIsNoop(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), log.DefaultLogger)
	require.NoError(t, m.Connect(context.Background(), "cred"))
	require.NoError(t, m.Connect(context.Background(), "cred"))
	assert.Equal(t, 1, ft.connects())
}
