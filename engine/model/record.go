package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordStatus is the status of a persisted event record.
type RecordStatus string

const (
	// RecordUnprocessed marks a write-ahead record whose group has not been handled yet.
	RecordUnprocessed RecordStatus = "UNPROCESSED"

	// RecordFailed marks a forensic record capturing why a group failed.
	RecordFailed RecordStatus = "FAILED"
)

// ParseRecordStatus converts a string into a RecordStatus.
func ParseRecordStatus(s string) (RecordStatus, error) {
	switch st := RecordStatus(s); st {
	case RecordUnprocessed, RecordFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown record status %q", s)
	}
}

// EventRecord is the persisted projection of an event or of a processing failure.
//
// Lifecycle:
//   - Inserted as UNPROCESSED before the event is handled (write-ahead)
//   - On success the whole group is deleted
//   - On failure a FAILED record with the captured error is inserted, then the group is deleted
//
// Deleting a group removes its UNPROCESSED records only; FAILED records are kept for
// inspection.
type EventRecord struct {
	// ID is assigned by the store on insert. Zero before that.
	ID int64 `json:"id"`

	// GroupID correlates all events handled in one transactional pass.
	GroupID uuid.UUID `json:"group_id"`

	Status RecordStatus `json:"status"`

	// Payload is the JSON snapshot of the event or the failure.
	Payload []byte `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
}
