// Package emit provides pluggable observability sinks for the execution core.
package emit

// Emitter receives observability events from shard processors.
//
// A processor emits one event per batch outcome (batch_committed,
// batch_failed) and per notable step inside it (jobs_ready, callback_failed,
// context_invalidated). Emitters turn them into log lines, spans or in-memory
// history:
//   - LogEmitter: text or JSON lines
//   - OTelEmitter: OpenTelemetry spans
//   - BufferedEmitter: per-context history for tests and inspection
//   - NullEmitter: discards everything
//
// Implementations must be safe for concurrent use, since every shard emits
// from its own goroutine. Emit runs on the shard worker, often while the
// batch transaction is open, so it should return quickly and must not panic.
type Emitter interface {
	// Emit records one event. It has no error result; an emitter that
	// cannot deliver an event drops it.
	Emit(event Event)
}

// Multi fans events out to several emitters, in slice order. Nil entries are
// skipped.
//
// Example usage:
//
//	emitter := emit.Multi{
//	    emit.NewLogEmitter(os.Stdout, false),
//	    emit.NewOTelEmitter(tp, "shardflow"),
//	}
type Multi []Emitter

// Emit forwards the event to every non-nil emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
