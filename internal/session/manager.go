package session

import (
	"sync"

	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/metrics"
)

// Close reasons.
const (
	ReasonReopened     = "reopened"
	ReasonClosed       = "closed"
	ReasonDisconnected = "disconnected"
	ReasonError        = "error"
	ReasonShutdown     = "shutdown"
)

// Manager tracks the current session context of every camera.
type Manager struct {
	api                 string
	logger              logging.Logger
	bus                 *events.Bus
	releaseOnDisconnect bool

	mu         sync.Mutex
	contexts   map[string]*Context
	generation uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithEventBus publishes session events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithReleaseOnDisconnect controls whether a disconnect or device error
// releases the session's bindings. When false those paths only log.
func WithReleaseOnDisconnect(release bool) Option {
	return func(m *Manager) { m.releaseOnDisconnect = release }
}

// NewManager creates a manager for one camera API generation ("legacy" or
// "modern"); api only labels events.
func NewManager(api string, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		api:                 api,
		logger:              logger,
		releaseOnDisconnect: true,
		contexts:            make(map[string]*Context),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open tears down any existing context for id and returns a fresh one.
func (m *Manager) Open(id string, passive bool) *Context {
	m.mu.Lock()
	old := m.contexts[id]
	m.generation++
	ctx := newContext(id, m.generation, passive, m.logger, m.recordBindings)
	m.contexts[id] = ctx
	m.mu.Unlock()

	if old != nil {
		released := old.close()
		m.logger.Info("Session reset", "camera", id, "released", released, "generation", old.Generation())
		m.bus.Publish(events.SessionClosedEvent{Camera: id, Reason: ReasonReopened, Released: released})
	}
	metrics.SetSessionBindings(id, 0)
	m.logger.Info("Session opened", "camera", id, "api", m.api, "generation", ctx.generation, "passive", passive)
	m.bus.Publish(events.SessionOpenedEvent{Camera: id, API: m.api, Generation: ctx.generation, Passive: passive})
	return ctx
}

// Get returns the current context for id, opening one if the camera was
// never opened.
func (m *Manager) Get(id string) *Context {
	m.mu.Lock()
	ctx := m.contexts[id]
	m.mu.Unlock()
	if ctx != nil {
		return ctx
	}
	return m.Open(id, false)
}

// Lookup returns the current context for id, or nil.
func (m *Manager) Lookup(id string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts[id]
}

// Close handles a device close, disconnect or error. A close always
// releases the bindings and forgets the context. Disconnects and errors
// release them only when configured to.
func (m *Manager) Close(id, reason string) int {
	m.mu.Lock()
	ctx := m.contexts[id]
	forget := reason == ReasonClosed || reason == ReasonShutdown
	if ctx != nil && forget {
		delete(m.contexts, id)
	}
	m.mu.Unlock()

	if ctx == nil {
		m.logger.Debug("Close for unknown session", "camera", id, "reason", reason)
		return 0
	}

	released := 0
	switch {
	case forget:
		released = ctx.close()
		metrics.DeleteSession(id)
	case m.releaseOnDisconnect:
		released = ctx.Teardown()
	default:
		m.logger.Warn("Session lost, bindings kept", "camera", id, "reason", reason, "bindings", ctx.Len())
	}
	m.logger.Info("Session closed", "camera", id, "reason", reason, "released", released)
	m.bus.Publish(events.SessionClosedEvent{Camera: id, Reason: reason, Released: released})
	return released
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.contexts))
	for id := range m.contexts {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id, ReasonShutdown)
	}
}

// Sessions returns the ids of open sessions.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.contexts))
	for id := range m.contexts {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) recordBindings(c *Context) {
	m.mu.Lock()
	current := m.contexts[c.id] == c
	m.mu.Unlock()
	if current {
		metrics.SetSessionBindings(c.id, c.Len())
	}
}
