package realtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
)

// Handler consumes one named event's payload.
type Handler func(payload []byte)

// HandlerID identifies a registered handler for removal.
type HandlerID uint64

type handlerEntry struct {
	id      HandlerID
	fn      Handler
	once    bool
	removed atomic.Bool
}

// dispatcher routes named events to registered handlers. Every handler runs
// inside a recover() wrapper: one panicking listener cannot take down the
// read loop or starve the remaining handlers. Registrations survive
// reconnects; only Off removes them.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]*handlerEntry
	nextID   uint64
	logger   *log.Helper
}

func newDispatcher(logger log.Logger) *dispatcher {
	return &dispatcher{
		handlers: make(map[string][]*handlerEntry),
		logger:   log.NewHelper(logger),
	}
}

// On registers a handler for an event name.
func (d *dispatcher) On(event string, fn Handler) HandlerID {
	return d.register(event, fn, false)
}

// Once registers a handler that removes itself after its first invocation.
func (d *dispatcher) Once(event string, fn Handler) HandlerID {
	return d.register(event, fn, true)
}

func (d *dispatcher) register(event string, fn Handler, once bool) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	entry := &handlerEntry{
		id:   HandlerID(d.nextID),
		fn:   fn,
		once: once,
	}
	d.handlers[event] = append(d.handlers[event], entry)
	return entry.id
}

// Off removes a handler by id. Removing an unknown id is a no-op.
func (d *dispatcher) Off(event string, id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.handlers[event]
	for i, entry := range entries {
		if entry.id == id {
			entry.removed.Store(true)
			d.handlers[event] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(d.handlers[event]) == 0 {
		delete(d.handlers, event)
	}
}

// dispatch invokes every handler registered for the event. Handlers run
// synchronously in registration order; a panic in one is caught and logged,
// and the rest still run.
func (d *dispatcher) dispatch(event string, payload []byte) {
	d.mu.RLock()
	entries := make([]*handlerEntry, len(d.handlers[event]))
	copy(entries, d.handlers[event])
	d.mu.RUnlock()

	for _, entry := range entries {
		if entry.removed.Load() {
			continue
		}
		if entry.once {
			// Remove before invoking so a re-entrant dispatch cannot fire twice.
			d.Off(event, entry.id)
		}
		d.safeInvoke(event, entry, payload)
	}
}

func (d *dispatcher) safeInvoke(event string, entry *handlerEntry, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("msg", "event handler panicked",
				"event", event,
				"panic", fmt.Sprintf("%v", r),
				"type", "realtime")
		}
	}()
	entry.fn(payload)
}
