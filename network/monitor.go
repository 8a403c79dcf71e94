// Package network tracks connectivity to the DAV server.
//
// The platform reports online/offline changes through SetOnline. Run adds an
// optional low-frequency probe as a safety net for missed signals.
package network

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cyp0633/libcaldora-sync/status"
)

// DefaultProbeInterval is the period of the background probe.
const DefaultProbeInterval = 2 * time.Minute

// Transition is published whenever the online state changes.
type Transition struct {
	Online bool
	At     time.Time
}

// DeferredID identifies a deferred callback.
type DeferredID uint64

type deferredCall struct {
	id DeferredID
	fn func(context.Context) error
}

type Monitor struct {
	mu     sync.RWMutex
	online bool

	// transitionMu keeps transitions and their notifications in order.
	transitionMu sync.Mutex
	transitions  *status.Broadcaster[Transition]

	deferredMu sync.Mutex
	deferred   []deferredCall
	nextID     DeferredID

	prober   Prober
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Monitor)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithProber sets the prober used by Run.
func WithProber(p Prober) Option {
	return func(m *Monitor) { m.prober = p }
}

func WithProbeInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// New creates a monitor with the given initial state.
func New(online bool, opts ...Option) *Monitor {
	m := &Monitor{
		online:   online,
		interval: DefaultProbeInterval,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.transitions = status.NewBroadcaster[Transition](m.logger)
	return m
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records the platform's connectivity signal. Repeating the current
// state is a no-op. On a transition, subscribers are notified first; on
// going online the deferred callbacks run afterwards.
func (m *Monitor) SetOnline(online bool) {
	m.transitionMu.Lock()

	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		m.transitionMu.Unlock()
		return
	}

	m.logger.Info("network state changed", "online", online)
	m.transitions.Publish(Transition{Online: online, At: m.now()})
	m.transitionMu.Unlock()

	if online {
		for _, err := range m.RunDeferred(context.Background()) {
			m.logger.Warn("deferred callback failed", "error", err)
		}
	}
}

// Subscribe registers fn for transitions and returns its unsubscribe func.
func (m *Monitor) Subscribe(fn func(Transition)) func() {
	_, unsubscribe := m.transitions.Subscribe(fn)
	return unsubscribe
}

// Defer registers fn to run the next time the network is online. A callback
// that fails stays registered for the following transition.
func (m *Monitor) Defer(fn func(context.Context) error) DeferredID {
	m.deferredMu.Lock()
	defer m.deferredMu.Unlock()

	m.nextID++
	m.deferred = append(m.deferred, deferredCall{id: m.nextID, fn: fn})
	return m.nextID
}

func (m *Monitor) RemoveDeferred(id DeferredID) {
	m.deferredMu.Lock()
	defer m.deferredMu.Unlock()

	for i, d := range m.deferred {
		if d.id == id {
			m.deferred = append(m.deferred[:i:i], m.deferred[i+1:]...)
			return
		}
	}
}

// Deferred returns the number of registered deferred callbacks.
func (m *Monitor) Deferred() int {
	m.deferredMu.Lock()
	defer m.deferredMu.Unlock()
	return len(m.deferred)
}

// RunDeferred runs the registered callbacks in registration order and
// unregisters those that succeed.
func (m *Monitor) RunDeferred(ctx context.Context) []error {
	m.deferredMu.Lock()
	calls := make([]deferredCall, len(m.deferred))
	copy(calls, m.deferred)
	m.deferredMu.Unlock()

	var errs []error
	for _, d := range calls {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := d.fn(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		m.RemoveDeferred(d.id)
	}
	return errs
}

// Run probes the server every interval until ctx is done. It is a no-op
// without a prober.
func (m *Monitor) Run(ctx context.Context) {
	if m.prober == nil {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.prober.Probe(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Debug("connectivity probe failed", "error", err)
	}
	m.SetOnline(err == nil)
}
