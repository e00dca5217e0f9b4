package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/shardflow/engine/emit"
	"github.com/dshills/shardflow/engine/event"
	"github.com/dshills/shardflow/engine/model"
	"github.com/dshills/shardflow/engine/store"
)

// Dependencies are the collaborators a Processor is constructed with.
type Dependencies struct {
	Handlers HandlerFactory
	Events   store.EventRepository
	Jobs     store.JobRepository
	Tx       store.Transactor
	Callback StatusCallback
}

// DependenciesFrom binds the repositories and transactor of s.
func DependenciesFrom(s store.Store, handlers HandlerFactory, callback StatusCallback) Dependencies {
	return Dependencies{
		Handlers: handlers,
		Events:   s.Events(),
		Jobs:     s.Jobs(),
		Tx:       s,
		Callback: callback,
	}
}

func (d Dependencies) validate() error {
	switch {
	case d.Handlers == nil:
		return &EngineError{Message: "handler factory cannot be nil", Code: "MISSING_DEPENDENCY"}
	case d.Events == nil:
		return &EngineError{Message: "event repository cannot be nil", Code: "MISSING_DEPENDENCY"}
	case d.Jobs == nil:
		return &EngineError{Message: "job repository cannot be nil", Code: "MISSING_DEPENDENCY"}
	case d.Tx == nil:
		return &EngineError{Message: "transactor cannot be nil", Code: "MISSING_DEPENDENCY"}
	}
	return nil
}

// rootFailureMessage prefixes the diagnostic attached to a failed root job.
const rootFailureMessage = "processor failed to process event:\n"

// Processor is one shard: a single worker goroutine that handles the events
// of the workflow contexts routed to it, strictly in arrival order.
//
// Each event taken from the external queue opens a store transaction in
// which the event and every cascade event its handlers enqueue are applied.
// The readiness check, the status callback and the deletion of the event
// group run in the same transaction. When anything in it fails the
// transaction rolls back and the context is failed through the recovery path.
//
// After Stop, Send, AddToQueue, AddToExternalQueue and Persist are no-ops.
type Processor struct {
	index   int
	deps    Dependencies
	logger  *slog.Logger
	emitter emit.Emitter
	metrics *PrometheusMetrics

	external *eventQueue
	cascade  *eventQueue

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopped   atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
}

// NewProcessor creates a standalone shard processor. Use NewCoordinator to
// run several shards.
func NewProcessor(deps Dependencies, opts ...Option) (*Processor, error) {
	cfg, err := newEngineConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return newProcessor(0, deps, cfg), nil
}

func newProcessor(index int, deps Dependencies, cfg *engineConfig) *Processor {
	if deps.Callback == nil {
		deps.Callback = NopCallback{}
	}
	return &Processor{
		index:    index,
		deps:     deps,
		logger:   cfg.logger.With(slog.Int("shard", index)),
		emitter:  cfg.emitter,
		metrics:  cfg.metrics,
		external: newEventQueue(),
		cascade:  newEventQueue(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Index returns the shard index of the processor.
func (p *Processor) Index() int { return p.index }

// Start launches the worker goroutine. Later calls, and calls after Stop,
// do nothing.
func (p *Processor) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		p.logger.Debug("shard processor starting")
		go p.run()
	})
}

// Stop asks the worker to exit before its next dequeue. A batch in flight
// completes. Events still in the external queue are not handled; their
// write-ahead records stay UNPROCESSED for Coordinator.Recover.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.stopCh)
		// A processor that never started has no worker to close done.
		p.startOnce.Do(func() { close(p.done) })
	})
}

// IsRunning reports whether Start has been called and Stop has not.
func (p *Processor) IsRunning() bool {
	return p.started.Load() && !p.stopped.Load()
}

// Done is closed when the worker goroutine has exited, or at Stop when the
// processor was never started.
func (p *Processor) Done() <-chan struct{} { return p.done }

// QueueDepth returns the number of events waiting in the external queue.
func (p *Processor) QueueDepth() int { return p.external.len() }

// Send delivers an event directly. Init events are placed on the cascade
// queue and handled by the next transactional pass; every other type is
// handled synchronously on the caller's goroutine, outside any batch.
func (p *Processor) Send(ctx context.Context, ev event.Event) error {
	if p.stopped.Load() {
		p.dropAfterStop(ev)
		return nil
	}
	if ev.Type() == event.TypeInit {
		p.AddToQueue(ev)
		return nil
	}
	return handleEvent(ctx, p.deps.Handlers, ev, p)
}

// AddToQueue appends ev to the cascade queue.
//
// After Stop the event is dropped with a warning. When a handler enqueues it
// during the last batch, that batch commits without it.
func (p *Processor) AddToQueue(ev event.Event) {
	if p.stopped.Load() {
		p.dropAfterStop(ev)
		return
	}
	p.cascade.push(ev)
}

// AddToExternalQueue appends ev to the queue consumed by the worker.
func (p *Processor) AddToExternalQueue(ev event.Event) {
	if p.stopped.Load() {
		return
	}
	p.external.push(ev)
	p.metrics.UpdateExternalQueueDepth(p.index, p.external.len())
}

// Persist writes the UNPROCESSED write-ahead record of ev.
func (p *Processor) Persist(ctx context.Context, ev event.Event) error {
	if p.stopped.Load() {
		return nil
	}
	payload, err := event.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	rec := model.EventRecord{
		GroupID: ev.GroupID(),
		Status:  model.RecordUnprocessed,
		Payload: payload,
	}
	if err := p.deps.Events.Insert(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	return nil
}

func (p *Processor) dropAfterStop(ev event.Event) {
	p.logger.Warn("dropping event after stop",
		slog.String("context_id", ev.ContextID().String()),
		slog.String("group_id", ev.GroupID().String()),
		slog.String("type", string(ev.Type())),
	)
}

func (p *Processor) run() {
	defer close(p.done)
	defer p.logger.Debug("shard processor stopped")

	for !p.stopped.Load() {
		ev, ok := p.external.wait(p.stopCh)
		if !ok {
			return
		}
		p.metrics.UpdateExternalQueueDepth(p.index, p.external.len())
		p.process(context.Background(), ev)
	}
}

// process runs one transactional pass for ev. It never panics on handler or
// store errors; failures go through the recovery path.
func (p *Processor) process(ctx context.Context, ev event.Event) {
	start := time.Now()

	err := p.deps.Tx.InTx(ctx, func(ctx context.Context) error {
		proceed, err := p.handle(ctx, ev)
		if err != nil {
			return err
		}
		if !proceed {
			return p.deps.Events.DeleteGroup(ctx, ev.GroupID())
		}
		if ReadyCheck(ev) {
			if err := p.notifyReady(ctx, ev); err != nil {
				return err
			}
		}
		return p.deps.Events.DeleteGroup(ctx, ev.GroupID())
	})

	elapsed := time.Since(start)
	if err != nil {
		txErr := &TransactionError{GroupID: ev.GroupID(), Err: err}
		dropped := p.cascade.clear()

		p.metrics.RecordBatchLatency(elapsed, "failed")
		p.metrics.IncrementTransactionFailures(string(ev.Type()))
		p.emitter.Emit(p.batchEvent(ev, "batch_failed").
			WithMeta("duration_ms", elapsed.Milliseconds()).
			WithMeta("error", txErr.Error()).
			WithMeta("dropped_cascade", dropped))

		p.fail(ctx, ev, txErr)
		return
	}

	p.metrics.RecordBatchLatency(elapsed, "committed")
	p.emitter.Emit(p.batchEvent(ev, "batch_committed").WithMeta("duration_ms", elapsed.Milliseconds()))
}

// handle applies ev and drains the cascade queue. proceed is false when the
// batch should stop without a readiness check.
func (p *Processor) handle(ctx context.Context, ev event.Event) (proceed bool, err error) {
	for next, ok := ev, true; ok; next, ok = p.cascade.pop() {
		if err := handleEvent(ctx, p.deps.Handlers, next, p); err != nil {
			return false, err
		}
		p.metrics.RecordEventHandled(string(next.Type()))
	}
	return true, nil
}

// notifyReady reports the READY jobs of ev's group. Only the query can fail
// the batch; a callback error is logged.
func (p *Processor) notifyReady(ctx context.Context, ev event.Event) error {
	jobs, err := p.deps.Jobs.GetReadyJobsByGroupID(ctx, ev.GroupID())
	if err != nil {
		return fmt.Errorf("failed to load ready jobs: %w", err)
	}

	if err := p.deps.Callback.OnJobsReady(ctx, jobs, ev.ContextID(), ev.ProducedBy()); err != nil {
		cbErr := &CallbackError{ContextID: ev.ContextID(), Err: err}
		p.logger.Error("failed to report ready jobs",
			slog.String("context_id", ev.ContextID().String()),
			slog.String("event", fmt.Sprint(ev)),
			slog.Any("error", cbErr),
		)
		p.metrics.IncrementCallbackFailures()
		p.emitter.Emit(p.batchEvent(ev, "callback_failed").WithMeta("error", cbErr.Error()))
		return nil
	}

	p.metrics.AddReadyJobs(len(jobs))
	p.emitter.Emit(p.batchEvent(ev, "jobs_ready").WithMeta("ready_jobs", len(jobs)))
	return nil
}

// fail is the recovery path of an aborted batch. Every step is best effort:
// errors are logged and the next step still runs.
func (p *Processor) fail(ctx context.Context, ev event.Event, txErr *TransactionError) {
	contextID := ev.ContextID()
	log := p.logger.With(
		slog.String("context_id", contextID.String()),
		slog.String("group_id", ev.GroupID().String()),
	)
	log.Error("failed to process event", slog.String("event", fmt.Sprint(ev)), slog.Any("error", txErr))

	root, err := p.deps.Jobs.Get(ctx, contextID)
	if err != nil {
		log.Error("failed to load root job", slog.Any("error", err))
	} else {
		root = root.CloneWithMessage(rootFailureMessage + fmt.Sprint(ev))
		if err := p.deps.Callback.OnJobRootFailed(ctx, root); err != nil {
			log.Error("failed to report root job failure", slog.Any("error", err))
		}
	}

	rec := model.EventRecord{
		GroupID: ev.GroupID(),
		Status:  model.RecordFailed,
		Payload: failurePayload(ev, txErr),
	}
	if err := p.deps.Events.Insert(ctx, rec); err != nil {
		log.Error("failed to record failed event group", slog.Any("error", err))
	}
	if err := p.deps.Events.DeleteGroup(ctx, ev.GroupID()); err != nil {
		log.Error("failed to delete failed event group", slog.Any("error", err))
	}

	if err := p.invalidate(ctx, contextID); err != nil {
		log.Error("failed to invalidate context", slog.Any("error", err))
		return
	}
	p.emitter.Emit(p.batchEvent(ev, "context_invalidated"))
}

// invalidate drives ContextStatus{FAILED} for contextID through its handler.
// Follow-up events go to a queue private to this call and are drained here,
// so nothing reaches the shard's cascade queue and the next batch. The first
// error stops the drain.
func (p *Processor) invalidate(ctx context.Context, contextID uuid.UUID) error {
	q := &localQueue{}
	q.AddToQueue(event.NewContextStatus(contextID, model.ContextFailed))
	for i := 0; i < len(q.events); i++ {
		if err := handleEvent(ctx, p.deps.Handlers, q.events[i], q); err != nil {
			return err
		}
	}
	return nil
}

// localQueue is an Enqueuer that collects events for the caller to drain.
type localQueue struct {
	events []event.Event
}

func (q *localQueue) AddToQueue(ev event.Event) { q.events = append(q.events, ev) }

// failurePayload is the JSON body of a FAILED record: the error text and the
// encoded triggering event.
func failurePayload(ev event.Event, txErr error) []byte {
	body := map[string]any{"error": txErr.Error()}
	if data, err := event.Marshal(ev); err == nil {
		body["event"] = json.RawMessage(data)
	} else {
		body["event"] = fmt.Sprint(ev)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return []byte(`{"error":"failed to encode failure"}`)
	}
	return payload
}

func (p *Processor) batchEvent(ev event.Event, msg string) emit.Event {
	return emit.Event{
		ContextID: ev.ContextID().String(),
		GroupID:   ev.GroupID().String(),
		Shard:     p.index,
		Msg:       msg,
		Meta:      map[string]any{"type": string(ev.Type())},
	}
}
