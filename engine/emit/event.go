package emit

// Event is an observability event emitted by a shard processor.
//
// Events describe what happened to a batch (one transactional pass over an
// event group):
//   - batch_committed / batch_failed: outcome of the transaction
//   - jobs_ready: the status callback was invoked with ready jobs
//   - callback_failed: the status callback returned an error
//   - context_invalidated: recovery marked the context FAILED
type Event struct {
	// ContextID identifies the workflow context (root job id) of the batch.
	ContextID string

	// GroupID identifies the event group handled in the batch.
	GroupID string

	// Shard is the index of the processor that handled the batch.
	Shard int

	// Msg names the event, e.g. "batch_committed".
	Msg string

	// Meta contains additional structured data. Common keys:
	//   - "type": triggering event type
	//   - "duration_ms": batch duration in milliseconds
	//   - "ready_jobs": number of READY jobs reported to the callback
	//   - "error": error details
	Meta map[string]any
}

// WithMeta returns a copy of the event with key set in its metadata.
func (e Event) WithMeta(key string, value any) Event {
	meta := make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[key] = value
	e.Meta = meta
	return e
}
