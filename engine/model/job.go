// Package model defines the persisted entities the execution core reads and writes:
// jobs, workflow contexts and write-ahead event records.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a job.
type JobState string

const (
	// JobPending means the job is waiting on unresolved inputs.
	JobPending JobState = "PENDING"

	// JobReady means all dependencies are satisfied and the job can be scheduled.
	JobReady JobState = "READY"

	// JobRunning means the job was handed to a backend for execution.
	JobRunning JobState = "RUNNING"

	// JobCompleted means the job finished and produced its outputs.
	JobCompleted JobState = "COMPLETED"

	// JobFailed means the job or its workflow failed.
	JobFailed JobState = "FAILED"

	// JobAborted means the job was cancelled before completing.
	JobAborted JobState = "ABORTED"
)

// Terminal reports whether no further transitions are expected from s.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobAborted:
		return true
	default:
		return false
	}
}

// ParseJobState converts a string into a JobState.
// Returns an error for unknown values.
func ParseJobState(s string) (JobState, error) {
	switch st := JobState(s); st {
	case JobPending, JobReady, JobRunning, JobCompleted, JobFailed, JobAborted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job state %q", s)
	}
}

// Job is a unit of computation inside a workflow context.
//
// The root job of a context shares its ID with the context:
// ID == RootID == context id. Every other job points at the root via RootID.
type Job struct {
	// ID uniquely identifies the job.
	ID uuid.UUID `json:"id"`

	// RootID is the workflow root (context) this job belongs to.
	RootID uuid.UUID `json:"root_id"`

	// Name is the node name from the workflow definition.
	Name string `json:"name"`

	// State is the current lifecycle state.
	State JobState `json:"state"`

	// GroupID is the event group in which the job last changed state.
	// Ready-job queries are scoped by this value.
	GroupID uuid.UUID `json:"group_id"`

	// Message carries diagnostics, e.g. why the workflow failed.
	Message string `json:"message,omitempty"`

	// Inputs and Outputs hold port values keyed by port id.
	Inputs  map[string]any `json:"inputs,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// IsRoot reports whether j is the root job of its context.
func (j Job) IsRoot() bool {
	return j.ID == j.RootID
}

// CloneWithMessage returns a copy of j carrying msg as its diagnostic message.
// Input and output maps are copied so the clone can be mutated independently.
func (j Job) CloneWithMessage(msg string) Job {
	clone := j
	clone.Message = msg
	clone.Inputs = copyValues(j.Inputs)
	clone.Outputs = copyValues(j.Outputs)
	return clone
}

func copyValues(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
