package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/shardflow/engine/model"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Testing and development
//   - Single-process engines where persistence isn't required
//
// MemStore is thread-safe. Transactions keep an undo log: every mutation made
// through a transactional context records how to revert itself, and a failed
// InTx replays the log in reverse. Writes are visible to other goroutines before
// commit; shards never share a context, so they never observe each other's
// uncommitted rows.
//
// Data is lost when the process terminates. Use SQLiteStore, MySQLStore or
// PostgresStore for durable write-ahead records.
type MemStore struct {
	mu       sync.RWMutex
	nextID   int64
	records  []model.EventRecord // ordered by ID
	jobs     map[uuid.UUID]model.Job
	contexts map[uuid.UUID]model.ContextRecord
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make([]model.EventRecord, 0),
		jobs:     make(map[uuid.UUID]model.Job),
		contexts: make(map[uuid.UUID]model.ContextRecord),
	}
}

// memTx is the undo log of one in-memory transaction.
type memTx struct {
	store *MemStore
	undo  []func()
}

type memTxKey struct{}

// InTx runs fn in a transaction. See Transactor.
func (m *MemStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok && tx.store == m {
		return fn(ctx)
	}

	tx := &memTx{store: m}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		m.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// record registers an undo step when ctx carries a transaction. Caller holds m.mu.
func (m *MemStore) record(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok && tx.store == m {
		tx.undo = append(tx.undo, undo)
	}
}

// Events returns the event record repository.
func (m *MemStore) Events() EventRepository { return memEvents{m} }

// Jobs returns the job repository.
func (m *MemStore) Jobs() JobRepository { return memJobs{m} }

// Contexts returns the context repository.
func (m *MemStore) Contexts() ContextRepository { return memContexts{m} }

type memEvents struct{ m *MemStore }

func (r memEvents) Insert(ctx context.Context, rec model.EventRecord) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	m.records = append(m.records, rec)

	id := rec.ID
	m.record(ctx, func() { m.removeRecords(func(r model.EventRecord) bool { return r.ID == id }) })
	return nil
}

func (r memEvents) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.removeRecords(func(r model.EventRecord) bool {
		return r.GroupID == groupID && r.Status == model.RecordUnprocessed
	})
	if len(removed) > 0 {
		m.record(ctx, func() { m.restoreRecords(removed) })
	}
	return nil
}

func (r memEvents) FindByGroup(_ context.Context, groupID uuid.UUID) ([]model.EventRecord, error) {
	return r.m.findRecords(func(r model.EventRecord) bool { return r.GroupID == groupID }), nil
}

func (r memEvents) FindUnprocessed(_ context.Context) ([]model.EventRecord, error) {
	return r.m.findRecords(func(r model.EventRecord) bool { return r.Status == model.RecordUnprocessed }), nil
}

func (m *MemStore) findRecords(match func(model.EventRecord) bool) []model.EventRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.EventRecord, 0)
	for _, rec := range m.records {
		if match(rec) {
			rec.Payload = append([]byte(nil), rec.Payload...)
			result = append(result, rec)
		}
	}
	return result
}

// removeRecords deletes matching records and returns them. Caller holds m.mu.
func (m *MemStore) removeRecords(match func(model.EventRecord) bool) []model.EventRecord {
	var removed []model.EventRecord
	kept := m.records[:0]
	for _, rec := range m.records {
		if match(rec) {
			removed = append(removed, rec)
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept
	return removed
}

// restoreRecords puts previously removed records back in ID order. Caller holds m.mu.
func (m *MemStore) restoreRecords(recs []model.EventRecord) {
	m.records = append(m.records, recs...)
	sort.Slice(m.records, func(i, j int) bool { return m.records[i].ID < m.records[j].ID })
}

type memJobs struct{ m *MemStore }

func (r memJobs) Get(_ context.Context, contextID uuid.UUID) (model.Job, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[contextID]
	if !ok || !job.IsRoot() {
		return model.Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r memJobs) GetByID(_ context.Context, jobID uuid.UUID) (model.Job, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r memJobs) GetReadyJobsByGroupID(_ context.Context, groupID uuid.UUID) ([]model.Job, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	ready := make([]model.Job, 0)
	for _, job := range m.jobs {
		if job.State == model.JobReady && job.GroupID == groupID {
			ready = append(ready, cloneJob(job))
		}
	}
	sortJobs(ready)
	return ready, nil
}

func (r memJobs) Insert(ctx context.Context, job model.Job) error {
	return r.put(ctx, job, false)
}

func (r memJobs) Update(ctx context.Context, job model.Job) error {
	return r.put(ctx, job, true)
}

func (r memJobs) put(ctx context.Context, job model.Job, mustExist bool) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.jobs[job.ID]
	if mustExist && !existed {
		return ErrNotFound
	}
	m.jobs[job.ID] = cloneJob(job)

	m.record(ctx, func() {
		if existed {
			m.jobs[job.ID] = prev
		} else {
			delete(m.jobs, job.ID)
		}
	})
	return nil
}

type memContexts struct{ m *MemStore }

func (r memContexts) Insert(ctx context.Context, rec model.ContextRecord) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.contexts[rec.ID]
	m.contexts[rec.ID] = rec
	m.record(ctx, func() {
		if existed {
			m.contexts[rec.ID] = prev
		} else {
			delete(m.contexts, rec.ID)
		}
	})
	return nil
}

func (r memContexts) Get(_ context.Context, id uuid.UUID) (model.ContextRecord, error) {
	m := r.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.contexts[id]
	if !ok {
		return model.ContextRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r memContexts) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ContextStatus) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.contexts[id]
	if !ok {
		return ErrNotFound
	}
	prev := rec.Status
	rec.Status = status
	m.contexts[id] = rec

	m.record(ctx, func() {
		if cur, ok := m.contexts[id]; ok {
			cur.Status = prev
			m.contexts[id] = cur
		}
	})
	return nil
}

// serializableMemStore is the JSON representation of MemStore.
type serializableMemStore struct {
	NextID   int64                 `json:"next_id"`
	Records  []model.EventRecord   `json:"records"`
	Jobs     []model.Job           `json:"jobs"`
	Contexts []model.ContextRecord `json:"contexts"`
}

// MarshalJSON serializes the store contents, e.g. to dump state after a failed run.
//
// Thread-safe: acquires read lock during serialization.
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := serializableMemStore{
		NextID:   m.nextID,
		Records:  m.records,
		Jobs:     make([]model.Job, 0, len(m.jobs)),
		Contexts: make([]model.ContextRecord, 0, len(m.contexts)),
	}
	for _, job := range m.jobs {
		s.Jobs = append(s.Jobs, job)
	}
	sortJobs(s.Jobs)
	for _, rec := range m.contexts {
		s.Contexts = append(s.Contexts, rec)
	}
	sort.Slice(s.Contexts, func(i, j int) bool { return s.Contexts[i].ID.String() < s.Contexts[j].ID.String() })

	return json.Marshal(s)
}

// UnmarshalJSON replaces the store contents with data produced by MarshalJSON.
//
// Thread-safe: acquires write lock during deserialization.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	var s serializableMemStore
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID = s.NextID
	m.records = s.Records
	if m.records == nil {
		m.records = make([]model.EventRecord, 0)
	}
	m.jobs = make(map[uuid.UUID]model.Job, len(s.Jobs))
	for _, job := range s.Jobs {
		m.jobs[job.ID] = job
	}
	m.contexts = make(map[uuid.UUID]model.ContextRecord, len(s.Contexts))
	for _, rec := range s.Contexts {
		m.contexts[rec.ID] = rec
	}
	return nil
}

func cloneJob(job model.Job) model.Job {
	return job.CloneWithMessage(job.Message)
}

func sortJobs(jobs []model.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Name != jobs[j].Name {
			return jobs[i].Name < jobs[j].Name
		}
		return jobs[i].ID.String() < jobs[j].ID.String()
	})
}
