// Package stream owns the resilient push-channel subscription: one live
// transport per manager, exponential backoff reconnection, and typed
// callbacks per logical event name.
package stream

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/agora-chat/agora/internal/envelope"
)

// State is the connection status signal exposed to the UI and the poller.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

const (
	// MaxAttempts bounds reconnection; after this many failed reattempts the
	// manager goes to StateFailed and stops scheduling.
	MaxAttempts = 5
	// InitialDelay seeds the backoff sequence 1s, 2s, 4s, 8s, 16s.
	InitialDelay = time.Second
)

// ErrStreamClosed is returned by transports when the peer closes the
// channel without the subscription being torn down locally.
var ErrStreamClosed = errors.New("stream closed by peer")

// Transport opens one underlying connection and delivers raw frames until
// the context is cancelled or the connection fails. Implementations call
// opened exactly once after the channel is established.
type Transport interface {
	Open(ctx context.Context, url string, opened func(), frame func(envelope.Frame)) error
}

// ScheduleFunc runs fn after d and returns a cancel func. Injectable so
// backoff delays are assertable in tests without sleeping. fn must not be
// invoked synchronously from inside the schedule call itself.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func())

func defaultSchedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Manager maintains at most one live push-channel connection. Changing the
// subscription URL tears down the previous connection and any pending
// reconnect timer before the next one is established; timers of a
// superseded subscription never fire.
type Manager struct {
	mu        sync.Mutex
	transport Transport
	schedule  ScheduleFunc

	handlers   map[string]func(envelope.Frame)
	onState    func(State)
	onTerminal func(error)

	url           string
	gen           uint64
	state         State
	attempts      int
	cancelConn    context.CancelFunc
	cancelTimer   func()
	terminalFired bool
}

// NewManager builds a manager over the given transport.
func NewManager(t Transport) *Manager {
	return &Manager{
		transport: t,
		schedule:  defaultSchedule,
		handlers:  make(map[string]func(envelope.Frame)),
		state:     StateIdle,
	}
}

// SetSchedule overrides the reconnect timer for tests.
func (m *Manager) SetSchedule(fn ScheduleFunc) {
	m.mu.Lock()
	m.schedule = fn
	m.mu.Unlock()
}

// On registers the handler for a logical event name. Frames with event
// names that have no handler are ignored, not errors.
func (m *Manager) On(event string, fn func(envelope.Frame)) {
	m.mu.Lock()
	m.handlers[event] = fn
	m.mu.Unlock()
}

// OnStateChange registers the single connection-status callback.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// OnTerminalError registers the handler invoked exactly once when the
// retry budget is exhausted for the current subscription.
func (m *Manager) OnTerminalError(fn func(error)) {
	m.mu.Lock()
	m.onTerminal = fn
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetURL switches the subscription. An empty url means "no active
// subscription" and only tears down. A fresh subscription starts with a
// zeroed attempt counter.
func (m *Manager) SetURL(url string) {
	m.mu.Lock()
	m.teardownLocked()
	m.gen++
	m.url = url
	m.attempts = 0
	m.terminalFired = false
	if url == "" {
		notify := m.setStateLocked(StateIdle)
		m.mu.Unlock()
		notify()
		return
	}
	gen := m.gen
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()
	go m.connect(gen)
}

// Close is a clean shutdown (unmount/navigation): no reconnection is
// attempted and no error is surfaced.
func (m *Manager) Close() {
	m.mu.Lock()
	m.teardownLocked()
	m.gen++
	m.url = ""
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	notify()
}

// teardownLocked cancels the live connection and any pending timer.
func (m *Manager) teardownLocked() {
	if m.cancelConn != nil {
		m.cancelConn()
		m.cancelConn = nil
	}
	if m.cancelTimer != nil {
		m.cancelTimer()
		m.cancelTimer = nil
	}
}

// setStateLocked updates state and returns the notification to run after
// the lock is released.
func (m *Manager) setStateLocked(s State) func() {
	m.state = s
	cb := m.onState
	if cb == nil {
		return func() {}
	}
	return func() { cb(s) }
}

// connect runs one transport attempt for the given subscription
// generation. Results for superseded generations are dropped.
func (m *Manager) connect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	url := m.url
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelConn = cancel
	m.mu.Unlock()

	opened := func() {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.attempts = 0
		notify := m.setStateLocked(StateConnected)
		m.mu.Unlock()
		notify()
	}
	frame := func(f envelope.Frame) {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		handler := m.handlers[f.Event]
		m.mu.Unlock()
		if handler != nil {
			handler(f)
		}
	}

	err := m.transport.Open(ctx, url, opened, frame)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.cancelConn = nil
	if ctx.Err() != nil {
		// Deliberate teardown, not a transport failure.
		m.mu.Unlock()
		return
	}
	if err == nil {
		err = ErrStreamClosed
	}
	notify := m.failLocked(gen, err)
	m.mu.Unlock()
	notify()
}

// failLocked applies the backoff policy after a transport failure and
// returns the callback notifications to run once the lock is released.
func (m *Manager) failLocked(gen uint64, err error) func() {
	if m.attempts < MaxAttempts {
		delay := InitialDelay << m.attempts
		m.attempts++
		log.Printf("[stream] connection lost (%v), reconnect %d/%d in %s", err, m.attempts, MaxAttempts, delay)
		notify := m.setStateLocked(StateReconnecting)
		m.cancelTimer = m.schedule(delay, func() {
			m.mu.Lock()
			if gen != m.gen {
				m.mu.Unlock()
				return
			}
			m.cancelTimer = nil
			m.mu.Unlock()
			m.connect(gen)
		})
		return notify
	}

	log.Printf("[stream] giving up after %d attempts: %v", MaxAttempts, err)
	notify := m.setStateLocked(StateFailed)
	var terminal func()
	if m.onTerminal != nil && !m.terminalFired {
		m.terminalFired = true
		cb := m.onTerminal
		terminal = func() { cb(err) }
	}
	return func() {
		notify()
		if terminal != nil {
			terminal()
		}
	}
}
