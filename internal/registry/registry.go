// Package registry tracks which client-side modules can accept a targeted
// update. A module is identified by a stable id; its value is produced by a
// named factory that is re-invoked with each update payload, and every
// accept handler registered for the id receives the new value.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoFactory is returned by Evaluate when no factory is registered for a
// module id.
var ErrNoFactory = errors.New("no factory registered for module")

// AcceptHandler receives the new value of a module after an update.
type AcceptHandler func(value any) error

// Factory builds a module value from an update payload.
type Factory func(payload string) (any, error)

// Registry maps module ids to accept handlers and factories. It is owned by
// a single client runtime; the zero value is not usable, use New.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string][]AcceptHandler
	factories map[string]Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		handlers:  make(map[string][]AcceptHandler),
		factories: make(map[string]Factory),
	}
}

// Register appends handler to the list for moduleID. Earlier registrations
// are kept and run first.
func (r *Registry) Register(moduleID string, handler AcceptHandler) {
	if handler == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[moduleID] = append(r.handlers[moduleID], handler)
}

// Handlers returns a copy of the handlers for moduleID in registration order.
func (r *Registry) Handlers(moduleID string) []AcceptHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hs := r.handlers[moduleID]
	if len(hs) == 0 {
		return nil
	}

	out := make([]AcceptHandler, len(hs))
	copy(out, hs)

	return out
}

// Accepts reports whether at least one handler is registered for moduleID.
func (r *Registry) Accepts(moduleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers[moduleID]) > 0
}

// RegisterFactory sets the factory producing values for moduleID. A later
// call replaces the factory; a module has exactly one current definition.
func (r *Registry) RegisterFactory(moduleID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[moduleID] = f
}

// Evaluate runs the factory for moduleID against payload and returns the
// new module value. A panicking factory is reported as an error.
func (r *Registry) Evaluate(moduleID, payload string) (value any, err error) {
	r.mu.RLock()
	f, ok := r.factories[moduleID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoFactory, moduleID)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("evaluating module %q: panic: %v", moduleID, rec)
		}
	}()

	value, err = f(payload)
	if err != nil {
		return nil, fmt.Errorf("evaluating module %q: %w", moduleID, err)
	}

	return value, nil
}
