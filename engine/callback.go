package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/dshills/shardflow/engine/model"
)

// StatusCallback receives scheduling notifications from the processors.
//
// Both methods are called from shard worker goroutines. OnJobsReady runs
// inside the batch transaction, and ctx carries it.
type StatusCallback interface {
	// OnJobsReady reports the READY jobs of a committed batch. An error is
	// logged as a *CallbackError and does not abort the batch.
	OnJobsReady(ctx context.Context, jobs []model.Job, contextID uuid.UUID, producedBy string) error

	// OnJobRootFailed reports that a context's root job failed terminally.
	// job carries the diagnostic message.
	OnJobRootFailed(ctx context.Context, job model.Job) error
}

// NopCallback ignores every notification.
type NopCallback struct{}

func (NopCallback) OnJobsReady(context.Context, []model.Job, uuid.UUID, string) error { return nil }
func (NopCallback) OnJobRootFailed(context.Context, model.Job) error                   { return nil }

// CallbackFuncs adapts functions to StatusCallback. Nil fields are no-ops.
type CallbackFuncs struct {
	JobsReady  func(ctx context.Context, jobs []model.Job, contextID uuid.UUID, producedBy string) error
	RootFailed func(ctx context.Context, job model.Job) error
}

func (c CallbackFuncs) OnJobsReady(ctx context.Context, jobs []model.Job, contextID uuid.UUID, producedBy string) error {
	if c.JobsReady == nil {
		return nil
	}
	return c.JobsReady(ctx, jobs, contextID, producedBy)
}

func (c CallbackFuncs) OnJobRootFailed(ctx context.Context, job model.Job) error {
	if c.RootFailed == nil {
		return nil
	}
	return c.RootFailed(ctx, job)
}
