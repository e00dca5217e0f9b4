package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ContextStatus is the status of a workflow context (one workflow root execution).
type ContextStatus string

const (
	ContextActive    ContextStatus = "ACTIVE"
	ContextCompleted ContextStatus = "COMPLETED"
	ContextFailed    ContextStatus = "FAILED"
	ContextAborted   ContextStatus = "ABORTED"
)

// ParseContextStatus converts a string into a ContextStatus.
func ParseContextStatus(s string) (ContextStatus, error) {
	switch st := ContextStatus(s); st {
	case ContextActive, ContextCompleted, ContextFailed, ContextAborted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown context status %q", s)
	}
}

// ContextRecord is the persisted state of a workflow context.
// The execution core never writes it directly; handlers do.
type ContextRecord struct {
	ID     uuid.UUID      `json:"id"`
	Status ContextStatus  `json:"status"`
	Config map[string]any `json:"config,omitempty"`
}
