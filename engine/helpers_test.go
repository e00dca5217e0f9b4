package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/shardflow/engine/emit"
	"github.com/dshills/shardflow/engine/event"
	"github.com/dshills/shardflow/engine/model"
	"github.com/dshills/shardflow/engine/store"
)

// readyCall is one recorded OnJobsReady invocation.
type readyCall struct {
	jobs       []model.Job
	contextID  uuid.UUID
	producedBy string
}

type recordingCallback struct {
	mu       sync.Mutex
	ready    []readyCall
	failed   []model.Job
	readyErr error
}

func (c *recordingCallback) OnJobsReady(_ context.Context, jobs []model.Job, contextID uuid.UUID, producedBy string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = append(c.ready, readyCall{jobs: jobs, contextID: contextID, producedBy: producedBy})
	return c.readyErr
}

func (c *recordingCallback) OnJobRootFailed(_ context.Context, job model.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, job)
	return nil
}

func (c *recordingCallback) readyCalls() []readyCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]readyCall(nil), c.ready...)
}

func (c *recordingCallback) failedJobs() []model.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Job(nil), c.failed...)
}

// signalEmitter forwards every event to a channel so tests can wait for a
// batch outcome.
type signalEmitter struct {
	ch chan emit.Event
}

func newSignalEmitter() *signalEmitter {
	return &signalEmitter{ch: make(chan emit.Event, 1024)}
}

func (s *signalEmitter) Emit(e emit.Event) { s.ch <- e }

// waitFor consumes events until one named msg arrives.
func (s *signalEmitter) waitFor(t *testing.T, msg string) emit.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-s.ch:
			if e.Msg == msg {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", msg)
			return emit.Event{}
		}
	}
}

// harness wires a processor or coordinator to a MemStore with recording
// collaborators. Every event type has a default handler that records the
// event; tests override handlers as needed.
type harness struct {
	store    *store.MemStore
	handlers *Handlers
	callback *recordingCallback
	emitter  *signalEmitter

	mu      sync.Mutex
	handled []event.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemStore(),
		handlers: NewHandlers(),
		callback: &recordingCallback{},
		emitter:  newSignalEmitter(),
	}
	for _, typ := range event.Types() {
		h.register(t, typ, HandlerFunc(func(context.Context, event.Event, Enqueuer) error { return nil }))
	}
	// Context invalidation updates the stored context record.
	h.register(t, event.TypeContextStatus, HandlerFunc(func(ctx context.Context, ev event.Event, _ Enqueuer) error {
		cs := ev.(event.ContextStatus)
		return h.store.Contexts().UpdateStatus(ctx, cs.ContextID(), cs.Status)
	}))
	return h
}

// register installs fn for typ, recording every event it receives.
func (h *harness) register(t *testing.T, typ event.Type, fn Handler) {
	t.Helper()
	err := h.handlers.Register(typ, HandlerFunc(func(ctx context.Context, ev event.Event, q Enqueuer) error {
		h.mu.Lock()
		h.handled = append(h.handled, ev)
		h.mu.Unlock()
		return fn.Handle(ctx, ev, q)
	}))
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", typ, err)
	}
}

func (h *harness) handledEvents() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]event.Event(nil), h.handled...)
}

func (h *harness) deps() Dependencies {
	return DependenciesFrom(h.store, h.handlers, h.callback)
}

// newContext stores an ACTIVE context with its root job.
func (h *harness) newContext(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	if err := h.store.Contexts().Insert(ctx, model.ContextRecord{ID: id, Status: model.ContextActive}); err != nil {
		t.Fatalf("failed to insert context: %v", err)
	}
	root := model.Job{ID: id, RootID: id, Name: "root", State: model.JobRunning}
	if err := h.store.Jobs().Insert(ctx, root); err != nil {
		t.Fatalf("failed to insert root job: %v", err)
	}
	return id
}

func (h *harness) newProcessor(t *testing.T, opts ...Option) *Processor {
	t.Helper()
	opts = append([]Option{WithEmitter(h.emitter)}, opts...)
	p, err := NewProcessor(h.deps(), opts...)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func jobStatus(contextID uuid.UUID, jobID string, state model.JobState) event.JobStatus {
	return event.JobStatus{
		Header: event.Header{Context: contextID, Group: event.NewGroupID(), Producer: jobID},
		JobID:  jobID,
		State:  state,
	}
}

func recordsOf(t *testing.T, s *store.MemStore, group uuid.UUID) []model.EventRecord {
	t.Helper()
	recs, err := s.Events().FindByGroup(context.Background(), group)
	if err != nil {
		t.Fatalf("FindByGroup failed: %v", err)
	}
	return recs
}
