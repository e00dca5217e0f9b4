package emit

// NullEmitter implements Emitter by discarding every event.
//
// It is the default emitter of processors and coordinators built without
// WithEmitter. Emit returns immediately, performs no I/O and is safe for
// concurrent use from every shard.
//
// Use cases:
//   - Deployments that rely on metrics and logs only
//   - Tests that do not inspect batch outcomes
//   - Turning emission off without changing the wiring
//
// Example usage:
//
//	c, err := engine.NewCoordinator(deps, engine.WithEmitter(emit.NewNullEmitter()))
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
