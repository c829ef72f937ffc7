// Package connectivity tracks whether the remote backend is reachable.
//
// State comes from two sources: a periodic reachability probe and explicit
// reports (the UI forwards browser online/offline events). Consumers either
// poll IsOnline or subscribe to transitions.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
)

// Source names where a state change came from.
const (
	SourceProbe  = "probe"
	SourceReport = "report"
)

// Prober checks reachability of the remote backend.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f ProberFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Transition is a change of connectivity state.
type Transition struct {
	Online bool      `json:"online"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Online      bool       `json:"online"`
	Source      string     `json:"source,omitempty"`
	ChangedAt   *time.Time `json:"changed_at,omitempty"`
	LastProbeAt *time.Time `json:"last_probe_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Config holds probe timing.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfig returns the default probe timing.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Monitor holds the best-known connectivity state. The initial state is
// offline until a probe succeeds or a report says otherwise.
type Monitor struct {
	online atomic.Bool
	prober Prober
	cfg    Config
	now    func() time.Time

	// dispatchMu serializes state changes with their delivery so listeners
	// observe transitions in order. Listeners must not call Set or Check.
	dispatchMu sync.Mutex

	mu          sync.Mutex
	nextID      uint64
	listeners   map[uint64]func(online bool)
	subscribers map[uint64]chan Transition
	source      string
	changedAt   time.Time
	lastProbeAt time.Time
	lastErr     string
}

// New creates a Monitor. A nil prober disables probing; state then only
// changes through Set.
func New(prober Prober, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Monitor{
		prober:      prober,
		cfg:         cfg,
		now:         time.Now,
		listeners:   make(map[uint64]func(bool)),
		subscribers: make(map[uint64]chan Transition),
	}
}

// IsOnline returns the current best-known state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// OnTransition registers fn to be called on every real state change. The
// returned function unregisters it.
func (m *Monitor) OnTransition(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Subscribe returns a channel receiving transitions. Delivery does not
// block: a transition is dropped for a subscriber whose buffer is full.
// cancel closes the channel.
func (m *Monitor) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Transition, buffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Set records an explicit connectivity report.
func (m *Monitor) Set(online bool) {
	m.update(online, SourceReport)
}

// Check probes the backend once and updates the state. It returns the
// resulting state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := m.prober.Ping(probeCtx)
	cancel()

	m.mu.Lock()
	m.lastProbeAt = m.now()
	if err != nil {
		m.lastErr = err.Error()
	} else {
		m.lastErr = ""
	}
	m.mu.Unlock()

	if err != nil && ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the network.
		return m.IsOnline()
	}
	if err != nil {
		logging.Debug("connectivity probe failed", map[string]interface{}{"error": err.Error()})
	}
	m.update(err == nil, SourceProbe)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Online:    m.online.Load(),
		Source:    m.source,
		LastError: m.lastErr,
	}
	if !m.changedAt.IsZero() {
		t := m.changedAt
		st.ChangedAt = &t
	}
	if !m.lastProbeAt.IsZero() {
		t := m.lastProbeAt
		st.LastProbeAt = &t
	}
	return st
}

func (m *Monitor) update(online bool, source string) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	if m.online.Load() == online {
		return
	}
	m.online.Store(online)

	t := Transition{Online: online, Source: source, At: m.now()}

	m.mu.Lock()
	m.source = source
	m.changedAt = t.At
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	for _, ch := range m.subscribers {
		select {
		case ch <- t:
		default:
		}
	}
	m.mu.Unlock()

	logging.Info("connectivity changed", map[string]interface{}{
		"online": online,
		"source": source,
	})

	for _, fn := range listeners {
		fn(online)
	}
}
