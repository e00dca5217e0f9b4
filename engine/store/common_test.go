package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/dshills/shardflow/engine/model"
	"github.com/dshills/shardflow/engine/store"
)

// runStoreContract exercises the behaviour every Store implementation must share:
// MemStore, SQLiteStore, MySQLStore and PostgresStore.
func runStoreContract(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert and find by group", func(t *testing.T) {
		group := uuid.New()
		for _, payload := range []string{`{"n":1}`, `{"n":2}`} {
			rec := model.EventRecord{GroupID: group, Status: model.RecordUnprocessed, Payload: []byte(payload)}
			if err := s.Events().Insert(ctx, rec); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
		}

		recs, err := s.Events().FindByGroup(ctx, group)
		if err != nil {
			t.Fatalf("FindByGroup failed: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 records, got %d", len(recs))
		}
		if string(recs[0].Payload) != `{"n":1}` || string(recs[1].Payload) != `{"n":2}` {
			t.Errorf("expected insertion order, got %s then %s", recs[0].Payload, recs[1].Payload)
		}
		if recs[0].ID >= recs[1].ID {
			t.Errorf("expected increasing ids, got %d then %d", recs[0].ID, recs[1].ID)
		}
		if recs[0].CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be assigned")
		}
	})

	t.Run("delete group keeps failed records", func(t *testing.T) {
		group := uuid.New()
		_ = s.Events().Insert(ctx, model.EventRecord{GroupID: group, Status: model.RecordUnprocessed, Payload: []byte(`{}`)})
		_ = s.Events().Insert(ctx, model.EventRecord{GroupID: group, Status: model.RecordFailed, Payload: []byte(`{"error":"x"}`)})

		if err := s.Events().DeleteGroup(ctx, group); err != nil {
			t.Fatalf("DeleteGroup failed: %v", err)
		}
		recs, err := s.Events().FindByGroup(ctx, group)
		if err != nil {
			t.Fatalf("FindByGroup failed: %v", err)
		}
		if len(recs) != 1 || recs[0].Status != model.RecordFailed {
			t.Fatalf("expected only the FAILED record to remain, got %+v", recs)
		}

		if err := s.Events().DeleteGroup(ctx, uuid.New()); err != nil {
			t.Errorf("deleting an unknown group should not fail, got %v", err)
		}
	})

	t.Run("find unprocessed", func(t *testing.T) {
		group := uuid.New()
		_ = s.Events().Insert(ctx, model.EventRecord{GroupID: group, Status: model.RecordUnprocessed, Payload: []byte(`{}`)})

		recs, err := s.Events().FindUnprocessed(ctx)
		if err != nil {
			t.Fatalf("FindUnprocessed failed: %v", err)
		}
		found := false
		for _, rec := range recs {
			if rec.Status != model.RecordUnprocessed {
				t.Errorf("unexpected status %s in FindUnprocessed", rec.Status)
			}
			if rec.GroupID == group {
				found = true
			}
		}
		if !found {
			t.Error("expected the new record to be reported as unprocessed")
		}
		_ = s.Events().DeleteGroup(ctx, group)
	})

	t.Run("jobs", func(t *testing.T) {
		root := uuid.New()
		group := uuid.New()
		rootJob := model.Job{ID: root, RootID: root, Name: "root", State: model.JobRunning, GroupID: group}
		b := model.Job{ID: uuid.New(), RootID: root, Name: "b", State: model.JobReady, GroupID: group,
			Inputs: map[string]any{"in": "x"}}
		a := model.Job{ID: uuid.New(), RootID: root, Name: "a", State: model.JobReady, GroupID: group}
		other := model.Job{ID: uuid.New(), RootID: root, Name: "c", State: model.JobReady, GroupID: uuid.New()}
		pending := model.Job{ID: uuid.New(), RootID: root, Name: "d", State: model.JobPending, GroupID: group}

		for _, job := range []model.Job{rootJob, b, a, other, pending} {
			if err := s.Jobs().Insert(ctx, job); err != nil {
				t.Fatalf("Insert(%s) failed: %v", job.Name, err)
			}
		}

		got, err := s.Jobs().Get(ctx, root)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Name != "root" || !got.IsRoot() {
			t.Errorf("expected root job, got %+v", got)
		}

		if _, err := s.Jobs().Get(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get on a non-root job should return ErrNotFound, got %v", err)
		}
		if _, err := s.Jobs().GetByID(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		ready, err := s.Jobs().GetReadyJobsByGroupID(ctx, group)
		if err != nil {
			t.Fatalf("GetReadyJobsByGroupID failed: %v", err)
		}
		if len(ready) != 2 || ready[0].Name != "a" || ready[1].Name != "b" {
			t.Fatalf("expected ready jobs [a b], got %+v", ready)
		}
		if ready[1].Inputs["in"] != "x" {
			t.Errorf("expected inputs to round-trip, got %v", ready[1].Inputs)
		}

		empty, err := s.Jobs().GetReadyJobsByGroupID(ctx, uuid.New())
		if err != nil || len(empty) != 0 {
			t.Errorf("expected empty result for unknown group, got %v, %v", empty, err)
		}

		a.State = model.JobRunning
		if err := s.Jobs().Update(ctx, a); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		got, _ = s.Jobs().GetByID(ctx, a.ID)
		if got.State != model.JobRunning {
			t.Errorf("expected RUNNING after update, got %s", got.State)
		}

		if err := s.Jobs().Update(ctx, model.Job{ID: uuid.New(), RootID: root, State: model.JobReady}); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Update on unknown job should return ErrNotFound, got %v", err)
		}
	})

	t.Run("contexts", func(t *testing.T) {
		id := uuid.New()
		rec := model.ContextRecord{ID: id, Status: model.ContextActive, Config: map[string]any{"mode": "local"}}
		if err := s.Contexts().Insert(ctx, rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if err := s.Contexts().UpdateStatus(ctx, id, model.ContextFailed); err != nil {
			t.Fatalf("UpdateStatus failed: %v", err)
		}
		got, err := s.Contexts().Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != model.ContextFailed {
			t.Errorf("expected FAILED, got %s", got.Status)
		}
		if got.Config["mode"] != "local" {
			t.Errorf("expected config to round-trip, got %v", got.Config)
		}
		if err := s.Contexts().UpdateStatus(ctx, uuid.New(), model.ContextFailed); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("transaction rollback", func(t *testing.T) {
		group := uuid.New()
		root := uuid.New()
		boom := errors.New("boom")

		err := s.InTx(ctx, func(ctx context.Context) error {
			_ = s.Events().Insert(ctx, model.EventRecord{GroupID: group, Status: model.RecordUnprocessed, Payload: []byte(`{}`)})
			if err := s.Jobs().Insert(ctx, model.Job{ID: root, RootID: root, Name: "root", State: model.JobReady, GroupID: group}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected InTx to return the callback error, got %v", err)
		}

		recs, _ := s.Events().FindByGroup(ctx, group)
		if len(recs) != 0 {
			t.Errorf("expected record insert to be rolled back, got %d records", len(recs))
		}
		if _, err := s.Jobs().GetByID(ctx, root); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected job insert to be rolled back, got %v", err)
		}
	})

	t.Run("transaction commit and nesting", func(t *testing.T) {
		group := uuid.New()
		err := s.InTx(ctx, func(ctx context.Context) error {
			if err := s.Events().Insert(ctx, model.EventRecord{GroupID: group, Status: model.RecordUnprocessed, Payload: []byte(`{}`)}); err != nil {
				return err
			}
			return s.InTx(ctx, func(ctx context.Context) error {
				return s.Events().DeleteGroup(ctx, group)
			})
		})
		if err != nil {
			t.Fatalf("InTx failed: %v", err)
		}
		recs, _ := s.Events().FindByGroup(ctx, group)
		if len(recs) != 0 {
			t.Errorf("expected group to be deleted inside the joined transaction, got %d", len(recs))
		}
	})

	t.Run("rollback restores deleted group", func(t *testing.T) {
		group := uuid.New()
		_ = s.Events().Insert(ctx, model.EventRecord{GroupID: group, Status: model.RecordUnprocessed, Payload: []byte(`{}`)})

		_ = s.InTx(ctx, func(ctx context.Context) error {
			_ = s.Events().DeleteGroup(ctx, group)
			return errors.New("abort")
		})

		recs, _ := s.Events().FindByGroup(ctx, group)
		if len(recs) != 1 {
			t.Errorf("expected deleted record to be restored, got %d", len(recs))
		}
		_ = s.Events().DeleteGroup(ctx, group)
	})
}
