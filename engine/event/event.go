// Package event defines the event taxonomy consumed by the execution core.
//
// An event is an immutable record describing one state change of a workflow:
// a context being initialised, a port value being produced, a job or a context
// changing status. Every event belongs to exactly one workflow root (its context id)
// and to one processing batch (its event group id). All events sharing a group id
// are handled and deleted as one atomic unit.
package event

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/shardflow/engine/model"
)

// Type identifies the kind of an event. Handlers are registered per Type.
type Type string

const (
	TypeInit          Type = "INIT"
	TypeInputUpdate   Type = "INPUT_UPDATE"
	TypeOutputUpdate  Type = "OUTPUT_UPDATE"
	TypeJobStatus     Type = "JOB_STATUS_UPDATE"
	TypeContextStatus Type = "CONTEXT_STATUS_UPDATE"
)

// Types lists every known event type in a stable order.
func Types() []Type {
	return []Type{TypeInit, TypeInputUpdate, TypeOutputUpdate, TypeJobStatus, TypeContextStatus}
}

// Event is the common contract of every event variant.
type Event interface {
	// Type returns the variant discriminator.
	Type() Type

	// ContextID returns the workflow root id the event belongs to.
	ContextID() uuid.UUID

	// GroupID returns the event group id correlating one transactional pass.
	GroupID() uuid.UUID

	// ProducedBy returns the originating job/node id, or "" when unknown.
	ProducedBy() string
}

// NewGroupID returns a fresh event group id.
func NewGroupID() uuid.UUID {
	return uuid.New()
}

// Header carries the attributes shared by all variants.
type Header struct {
	Context  uuid.UUID `json:"context_id"`
	Group    uuid.UUID `json:"event_group_id"`
	Producer string    `json:"produced_by_node,omitempty"`
}

func (h Header) ContextID() uuid.UUID { return h.Context }
func (h Header) GroupID() uuid.UUID   { return h.Group }
func (h Header) ProducedBy() string   { return h.Producer }

// Init starts the processing of a workflow context. It is the only event that
// originates a new transactional unit of work when sent directly.
type Init struct {
	Header

	// Config holds per-context engine configuration.
	Config map[string]any `json:"config,omitempty"`

	// Value holds the root inputs of the workflow.
	Value map[string]any `json:"value,omitempty"`
}

// NewInit creates an Init event for a context in a fresh group.
func NewInit(contextID uuid.UUID, value, config map[string]any) Init {
	return Init{
		Header: Header{Context: contextID, Group: NewGroupID()},
		Config: config,
		Value:  value,
	}
}

func (Init) Type() Type { return TypeInit }

func (e Init) String() string {
	return fmt.Sprintf("Init [contextId=%s, groupId=%s, value=%v]", e.Context, e.Group, e.Value)
}

// InputUpdate sets one input port of a job.
type InputUpdate struct {
	Header

	JobID  string `json:"job_id"`
	PortID string `json:"port_id"`
	Value  any    `json:"value"`

	// ScatteredCount is the number of scattered values still expected on the port.
	// Zero when the input does not come from a scatter.
	ScatteredCount int `json:"scattered_count,omitempty"`
}

func (InputUpdate) Type() Type { return TypeInputUpdate }

func (e InputUpdate) String() string {
	return fmt.Sprintf("InputUpdate [contextId=%s, jobId=%s, portId=%s, value=%v, scatteredCount=%d]",
		e.Context, e.JobID, e.PortID, e.Value, e.ScatteredCount)
}

// OutputUpdate carries one output value (per port) produced by a job.
//
// ScatteredNodes is meaningful only when FromScatter is true; nil is valid otherwise.
type OutputUpdate struct {
	Header

	JobID  string `json:"job_id"`
	PortID string `json:"port_id"`
	Value  any    `json:"value"`

	FromScatter    bool `json:"from_scatter"`
	ScatteredNodes *int `json:"scattered_nodes,omitempty"`
}

// NewOutputUpdate creates a non-scatter OutputUpdate.
func NewOutputUpdate(h Header, jobID, portID string, value any) OutputUpdate {
	return OutputUpdate{Header: h, JobID: jobID, PortID: portID, Value: value}
}

// NewScatterOutputUpdate creates an OutputUpdate produced by a scattered job.
func NewScatterOutputUpdate(h Header, jobID, portID string, value any, scatteredNodes int) OutputUpdate {
	n := scatteredNodes
	return OutputUpdate{
		Header:         h,
		JobID:          jobID,
		PortID:         portID,
		Value:          value,
		FromScatter:    true,
		ScatteredNodes: &n,
	}
}

func (OutputUpdate) Type() Type { return TypeOutputUpdate }

func (e OutputUpdate) String() string {
	nodes := "nil"
	if e.ScatteredNodes != nil {
		nodes = fmt.Sprint(*e.ScatteredNodes)
	}
	return fmt.Sprintf("OutputUpdate [contextId=%s, jobId=%s, portId=%s, value=%v, fromScatter=%t, scatteredNodes=%s]",
		e.Context, e.JobID, e.PortID, e.Value, e.FromScatter, nodes)
}

// JobStatus reports a job state transition.
type JobStatus struct {
	Header

	JobID   string         `json:"job_id"`
	State   model.JobState `json:"state"`
	Message string         `json:"message,omitempty"`
}

func (JobStatus) Type() Type { return TypeJobStatus }

func (e JobStatus) String() string {
	return fmt.Sprintf("JobStatus [contextId=%s, jobId=%s, state=%s]", e.Context, e.JobID, e.State)
}

// ContextStatus reports a context status transition.
type ContextStatus struct {
	Header

	Status model.ContextStatus `json:"status"`
}

// NewContextStatus creates a ContextStatus event for contextID in a fresh group.
func NewContextStatus(contextID uuid.UUID, status model.ContextStatus) ContextStatus {
	return ContextStatus{
		Header: Header{Context: contextID, Group: NewGroupID()},
		Status: status,
	}
}

func (ContextStatus) Type() Type { return TypeContextStatus }

func (e ContextStatus) String() string {
	return fmt.Sprintf("ContextStatus [contextId=%s, status=%s]", e.Context, e.Status)
}
