package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/shardflow/engine/event"
)

// Enqueuer appends follow-up events to the cascade queue of the shard handling
// the current event. Events added during a transactional pass are handled in
// the same transaction.
type Enqueuer interface {
	AddToQueue(ev event.Event)
}

// Handler applies one event to persisted job and context state.
//
// ctx carries the open store transaction; every repository call must use it.
// A returned error aborts the transaction and rolls back every mutation made
// for the event group.
type Handler interface {
	Handle(ctx context.Context, ev event.Event, q Enqueuer) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev event.Event, q Enqueuer) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev event.Event, q Enqueuer) error {
	return f(ctx, ev, q)
}

// HandlerFactory resolves the handler for an event type.
type HandlerFactory interface {
	Get(t event.Type) (Handler, error)
}

// Handlers is a map-backed HandlerFactory. Safe for concurrent use.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[event.Type]Handler
}

// NewHandlers creates an empty registry.
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[event.Type]Handler)}
}

// Register binds h to t, replacing any previous handler.
func (r *Handlers) Register(t event.Type, h Handler) error {
	if h == nil {
		return &EngineError{Message: "handler cannot be nil: " + string(t), Code: "NIL_HANDLER"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
	return nil
}

// Get returns the handler for t, or an error wrapping ErrNoHandler.
func (r *Handlers) Get(t event.Type) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, t)
	}
	return h, nil
}

// handleEvent resolves and runs the handler for ev. Every failure is reported
// as a *HandlingError.
func handleEvent(ctx context.Context, f HandlerFactory, ev event.Event, q Enqueuer) error {
	h, err := f.Get(ev.Type())
	if err != nil {
		return &HandlingError{Type: ev.Type(), ContextID: ev.ContextID(), Err: err}
	}
	if err := h.Handle(ctx, ev, q); err != nil {
		var herr *HandlingError
		if errors.As(err, &herr) {
			return err
		}
		return &HandlingError{Type: ev.Type(), ContextID: ev.ContextID(), Err: err}
	}
	return nil
}
