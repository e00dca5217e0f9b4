package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/shardflow/engine/event"
	"github.com/dshills/shardflow/engine/store"
)

// Dispatch maps a workflow root id to a shard index in [0, n).
//
// The index is the xxhash64 of the 16 id bytes modulo n, so it is stable for
// a fixed n and spreads random ids uniformly. It returns 0 when n <= 1.
func Dispatch(rootID uuid.UUID, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64(rootID[:]) % uint64(n))
}

func invalidShardCount(n int) error {
	return &EngineError{
		Message: "shard count must be at least 1, got " + strconv.Itoa(n),
		Code:    "INVALID_SHARD_COUNT",
	}
}

// Coordinator owns a fixed set of shard processors and routes every event to
// the shard of its context, so the events of one workflow root are handled
// sequentially while distinct roots progress in parallel.
//
// The shard slice is built once in NewCoordinator and never modified.
type Coordinator struct {
	shards  []*Processor
	events  store.EventRepository
	logger  *slog.Logger
	started atomic.Bool
	stopped atomic.Bool
}

// NewCoordinator creates WithShardCount processors (default runtime.NumCPU())
// sharing deps.
func NewCoordinator(deps Dependencies, opts ...Option) (*Coordinator, error) {
	cfg, err := newEngineConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.shardCount < 1 {
		return nil, invalidShardCount(cfg.shardCount)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	shards := make([]*Processor, cfg.shardCount)
	for i := range shards {
		shards[i] = newProcessor(i, deps, cfg)
	}
	return &Coordinator{
		shards: shards,
		events: deps.Events,
		logger: cfg.logger,
	}, nil
}

// Len returns the number of shards.
func (c *Coordinator) Len() int { return len(c.shards) }

// Shard returns the processor owning rootID.
func (c *Coordinator) Shard(rootID uuid.UUID) *Processor {
	return c.shards[Dispatch(rootID, len(c.shards))]
}

// Start starts every shard. Processors cannot be restarted, so Start after
// Stop does nothing.
func (c *Coordinator) Start() {
	if c.stopped.Load() || c.started.Swap(true) {
		return
	}
	for _, p := range c.shards {
		p.Start()
	}
	c.logger.Info("coordinator started", slog.Int("shards", len(c.shards)))
}

// Stop stops every shard. It does not wait for in-flight batches; use
// Shutdown for that.
func (c *Coordinator) Stop() {
	c.stopped.Store(true)
	for _, p := range c.shards {
		p.Stop()
	}
}

// IsRunning reports whether Start has been called and Stop has not.
func (c *Coordinator) IsRunning() bool { return c.started.Load() && !c.stopped.Load() }

// Shutdown stops every shard and waits for their workers to exit, or for ctx
// to be done.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.Stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range c.shards {
		g.Go(func() error {
			select {
			case <-p.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("shard %d did not stop: %w", p.Index(), ctx.Err())
			}
		})
	}
	return g.Wait()
}

// Send delegates to the shard of ev's context. See Processor.Send.
func (c *Coordinator) Send(ctx context.Context, ev event.Event) error {
	return c.Shard(ev.ContextID()).Send(ctx, ev)
}

// AddToQueue delegates to the shard of ev's context.
func (c *Coordinator) AddToQueue(ev event.Event) {
	c.Shard(ev.ContextID()).AddToQueue(ev)
}

// AddToExternalQueue delegates to the shard of ev's context.
func (c *Coordinator) AddToExternalQueue(ev event.Event) {
	c.Shard(ev.ContextID()).AddToExternalQueue(ev)
}

// Persist delegates to the shard of ev's context.
func (c *Coordinator) Persist(ctx context.Context, ev event.Event) error {
	return c.Shard(ev.ContextID()).Persist(ctx, ev)
}

// Submit persists the write-ahead record of ev and then enqueues it on the
// external queue of its shard. ev is not enqueued when persisting fails.
func (c *Coordinator) Submit(ctx context.Context, ev event.Event) error {
	p := c.Shard(ev.ContextID())
	if err := p.Persist(ctx, ev); err != nil {
		return err
	}
	p.AddToExternalQueue(ev)
	return nil
}

// Recover re-enqueues the write-ahead records left UNPROCESSED by a previous
// run. The earliest record of each group is decoded and placed on the
// external queue of its shard; the other records of the group are cascade
// events its handlers will produce again. Records that cannot be decoded are
// logged and skipped. Returns the number of re-enqueued events.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	records, err := c.events.FindUnprocessed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load unprocessed events: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(records))
	n := 0
	for _, rec := range records {
		if _, ok := seen[rec.GroupID]; ok {
			continue
		}
		seen[rec.GroupID] = struct{}{}

		ev, err := event.Unmarshal(rec.Payload)
		if err != nil {
			c.logger.Error("failed to decode unprocessed event",
				slog.Int64("record_id", rec.ID),
				slog.String("group_id", rec.GroupID.String()),
				slog.Any("error", err),
			)
			continue
		}
		c.AddToExternalQueue(ev)
		n++
	}

	if n > 0 {
		c.logger.Info("recovered unprocessed event groups", slog.Int("groups", n))
	}
	return n, nil
}
