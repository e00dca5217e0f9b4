// Package engine is the event-sourced, sharded execution core. A Coordinator
// routes every event of a workflow context to one Processor, which handles it
// and its cascade inside a single store transaction.
package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/shardflow/engine/event"
)

// ErrNoHandler indicates that no handler is registered for an event type.
var ErrNoHandler = errors.New("no handler registered for event type")

// EngineError represents a configuration or usage error.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// HandlingError is raised when a handler fails to apply one event. It always
// aborts the enclosing transaction.
type HandlingError struct {
	Type      event.Type
	ContextID uuid.UUID
	Err       error
}

func (e *HandlingError) Error() string {
	return fmt.Sprintf("failed to handle %s event for context %s: %v", e.Type, e.ContextID, e.Err)
}

func (e *HandlingError) Unwrap() error { return e.Err }

// TransactionError wraps any failure inside the transactional pass over an
// event group, including a HandlingError.
type TransactionError struct {
	GroupID uuid.UUID
	Err     error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction for event group %s failed: %v", e.GroupID, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// CallbackError records a failed ready-jobs notification. It is logged and
// never aborts the transaction.
type CallbackError struct {
	ContextID uuid.UUID
	Err       error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("status callback failed for context %s: %v", e.ContextID, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
