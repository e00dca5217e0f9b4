package engine

import (
	"github.com/dshills/shardflow/engine/event"
	"github.com/dshills/shardflow/engine/model"
)

// ReadyCheck reports whether a batch triggered by ev may have made jobs ready:
// true for Init and for JobStatus with state COMPLETED, false otherwise.
// Events produced by the cascade are never consulted.
func ReadyCheck(ev event.Event) bool {
	switch e := ev.(type) {
	case event.Init, *event.Init:
		return true
	case event.JobStatus:
		return e.State == model.JobCompleted
	case *event.JobStatus:
		return e != nil && e.State == model.JobCompleted
	default:
		return false
	}
}
