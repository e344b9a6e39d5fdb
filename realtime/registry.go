package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"medsync/auth"
	"medsync/logging"
	"medsync/models"

	"github.com/rs/zerolog"
)

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

// Registry binds event names to at most one active handler each. Feature
// code registers against names like "new_message" without ever touching
// the transport; registering while disconnected lazily triggers connection
// establishment.
type Registry struct {
	mgr *Manager
	log zerolog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

func NewRegistry(m *Manager) *Registry {
	r := &Registry{
		mgr:      m,
		log:      logging.Component("registry"),
		handlers: make(map[string]Handler),
	}
	m.dispatch = r.dispatch
	return r
}

// Register binds h to event, replacing any existing binding for that name.
// Repeated registration from view mount/unmount cycles therefore never
// stacks handlers. If no connection exists one is initiated as a side
// effect. Returns false only when no usable credential is available.
func (r *Registry) Register(event string, h Handler) bool {
	if !r.mgr.Connected() {
		if err := r.mgr.Connect(); err != nil {
			if errors.Is(err, auth.ErrNoCredential) ||
				errors.Is(err, auth.ErrExpiredCredential) ||
				errors.Is(err, auth.ErrMalformedToken) {
				r.log.Warn().Str("event", event).Err(err).Msg("registration refused, no credential")
				return false
			}
			// A dial failure is not fatal to the binding: the manager's
			// reconnect supervisor is already working on it.
			r.log.Warn().Str("event", event).Err(err).Msg("connect failed, binding anyway")
		}
	}

	r.mu.Lock()
	r.handlers[event] = h
	r.mu.Unlock()
	return true
}

// Unregister removes the binding for event. Removing an absent binding is
// a no-op. The shared connection is untouched: it is a session-scoped
// resource outliving any single feature view.
func (r *Registry) Unregister(event string) {
	r.mu.Lock()
	delete(r.handlers, event)
	r.mu.Unlock()
}

// Clear drops every binding. Only session teardown calls this.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = make(map[string]Handler)
	r.mu.Unlock()
}

func (r *Registry) dispatch(ev models.Event) {
	r.mu.Lock()
	h, ok := r.handlers[ev.Type]
	r.mu.Unlock()

	if !ok {
		r.log.Debug().Str("event", ev.Type).Msg("no handler registered, dropping")
		return
	}
	h(ev.Payload)
}
