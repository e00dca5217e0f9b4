// Package store defines the persistence contracts consumed by the execution core
// and provides in-memory and SQL-backed implementations.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/shardflow/engine/model"
)

// ErrNotFound is returned when a requested job, context or record does not exist.
var ErrNotFound = errors.New("not found")

// EventRepository persists write-ahead event records.
//
// It enables:
//   - Write-ahead persistence of every event before it is handled
//   - Atomic removal of a processed group
//   - Forensic FAILED records describing why a group failed
//   - Recovery of groups that were never processed (crash before commit)
type EventRepository interface {
	// Insert stores a record. The record's ID is assigned by the store.
	Insert(ctx context.Context, rec model.EventRecord) error

	// DeleteGroup removes the UNPROCESSED records of a group.
	// FAILED records are kept. Deleting an unknown group is not an error.
	DeleteGroup(ctx context.Context, groupID uuid.UUID) error

	// FindByGroup returns every record of a group ordered by insertion.
	FindByGroup(ctx context.Context, groupID uuid.UUID) ([]model.EventRecord, error)

	// FindUnprocessed returns all UNPROCESSED records ordered by insertion.
	FindUnprocessed(ctx context.Context) ([]model.EventRecord, error)
}

// JobRepository reads and writes jobs.
type JobRepository interface {
	// Get returns the root job of a context (the job whose ID equals contextID).
	// Returns ErrNotFound if the context has no root job.
	Get(ctx context.Context, contextID uuid.UUID) (model.Job, error)

	// GetByID returns any job by its own id.
	GetByID(ctx context.Context, jobID uuid.UUID) (model.Job, error)

	// GetReadyJobsByGroupID returns the READY jobs whose GroupID equals groupID,
	// ordered by name then id. An empty result is not an error.
	GetReadyJobsByGroupID(ctx context.Context, groupID uuid.UUID) ([]model.Job, error)

	// Insert stores a new job.
	Insert(ctx context.Context, job model.Job) error

	// Update replaces an existing job. Returns ErrNotFound if it does not exist.
	Update(ctx context.Context, job model.Job) error
}

// ContextRepository reads and writes workflow context records.
type ContextRepository interface {
	Insert(ctx context.Context, rec model.ContextRecord) error
	Get(ctx context.Context, id uuid.UUID) (model.ContextRecord, error)

	// UpdateStatus changes the status of a context. Returns ErrNotFound if it does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ContextStatus) error
}

// Transactor runs a function inside one atomic transaction.
//
// The context passed to fn carries the transaction: repository calls made with it
// join the transaction. If fn returns an error every mutation made through that
// context is rolled back and the error is returned unchanged. Calling InTx with a
// context that already carries a transaction of the same store joins it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles the repositories of one backend behind a shared Transactor.
// All implementations in this package satisfy it.
type Store interface {
	Transactor

	Events() EventRepository
	Jobs() JobRepository
	Contexts() ContextRepository
}

// Open creates a store for the named driver: "memory", "sqlite", "mysql" or
// "postgres". The dsn is ignored for "memory".
func Open(driver, dsn string) (Store, error) {
	var (
		s   *SQLStore
		err error
	)
	switch driver {
	case "memory", "":
		return NewMemStore(), nil
	case "sqlite":
		s, err = NewSQLiteStore(dsn)
	case "mysql":
		s, err = NewMySQLStore(dsn)
	case "postgres", "pgx":
		s, err = NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
