package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/shardflow/engine/model"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	// name is used in error messages ("sqlite", "mysql", "postgres").
	name string

	// numbered selects $1, $2, ... placeholders instead of ?.
	numbered bool

	// schema lists the statements creating the tables and indexes.
	schema []string
}

// SQLStore is the database/sql implementation of Store shared by the SQLite,
// MySQL and PostgreSQL backends.
//
// Schema:
//   - event_records: write-ahead and FAILED event records
//   - jobs: job state, inputs and outputs (JSON)
//   - contexts: workflow context status and config (JSON)
//
// Transactions are carried in the context passed to InTx's callback; every
// repository call made with that context runs on the same *sql.Tx.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
}

var _ Store = (*SQLStore)(nil)

// newSQLStore wraps an open database and creates the schema.
func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLStore) createTables(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema statement failed: %w", s.dialect.name, err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTxKey struct{ store *SQLStore }

// conn returns the transaction carried by ctx, or the database handle.
func (s *SQLStore) conn(ctx context.Context) (querier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if tx, ok := ctx.Value(sqlTxKey{s}).(*sql.Tx); ok {
		return tx, nil
	}
	return s.db, nil
}

// q rewrites ? placeholders for dialects using numbered parameters.
func (s *SQLStore) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InTx runs fn inside a database transaction. See Transactor.
func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(sqlTxKey{s}).(*sql.Tx); ok {
		return fn(ctx)
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure rollback on error or panic
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback() // Ignore rollback error when already returning error
		}
	}()

	if err = fn(context.WithValue(ctx, sqlTxKey{s}, tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Events returns the event record repository.
func (s *SQLStore) Events() EventRepository { return sqlEvents{s} }

// Jobs returns the job repository.
func (s *SQLStore) Jobs() JobRepository { return sqlJobs{s} }

// Contexts returns the context repository.
func (s *SQLStore) Contexts() ContextRepository { return sqlContexts{s} }

// Close closes the database connection.
//
// After Close, all operations return an error.
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	return s.db.PingContext(ctx)
}

// Dialect returns the backend name ("sqlite", "mysql" or "postgres").
func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

type sqlEvents struct{ s *SQLStore }

const recordColumns = "id, group_id, status, payload, created_at"

func (r sqlEvents) Insert(ctx context.Context, rec model.EventRecord) error {
	c, err := r.s.conn(ctx)
	if err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := r.s.q(`INSERT INTO event_records (group_id, status, payload, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := c.ExecContext(ctx, query,
		rec.GroupID.String(), string(rec.Status), string(rec.Payload), createdAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to insert event record: %w", err)
	}
	return nil
}

func (r sqlEvents) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	c, err := r.s.conn(ctx)
	if err != nil {
		return err
	}

	query := r.s.q(`DELETE FROM event_records WHERE group_id = ? AND status = ?`)
	if _, err := c.ExecContext(ctx, query, groupID.String(), string(model.RecordUnprocessed)); err != nil {
		return fmt.Errorf("failed to delete event group: %w", err)
	}
	return nil
}

func (r sqlEvents) FindByGroup(ctx context.Context, groupID uuid.UUID) ([]model.EventRecord, error) {
	return r.find(ctx, `SELECT `+recordColumns+` FROM event_records WHERE group_id = ? ORDER BY id ASC`, groupID.String())
}

func (r sqlEvents) FindUnprocessed(ctx context.Context) ([]model.EventRecord, error) {
	return r.find(ctx, `SELECT `+recordColumns+` FROM event_records WHERE status = ? ORDER BY id ASC`, string(model.RecordUnprocessed))
}

func (r sqlEvents) find(ctx context.Context, query string, args ...any) ([]model.EventRecord, error) {
	c, err := r.s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.QueryContext(ctx, r.s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]model.EventRecord, 0)
	for rows.Next() {
		var (
			rec       model.EventRecord
			groupID   string
			status    string
			payload   string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &groupID, &status, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event record: %w", err)
		}
		if rec.GroupID, err = uuid.Parse(groupID); err != nil {
			return nil, fmt.Errorf("invalid group id %q: %w", groupID, err)
		}
		if rec.Status, err = model.ParseRecordStatus(status); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event records: %w", err)
	}
	return records, nil
}

type sqlJobs struct{ s *SQLStore }

const jobColumns = "id, root_id, name, state, group_id, message, inputs, outputs"

func (r sqlJobs) Get(ctx context.Context, contextID uuid.UUID) (model.Job, error) {
	return r.one(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ? AND root_id = ?`, contextID.String(), contextID.String())
}

func (r sqlJobs) GetByID(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	return r.one(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID.String())
}

func (r sqlJobs) GetReadyJobsByGroupID(ctx context.Context, groupID uuid.UUID) ([]model.Job, error) {
	c, err := r.s.conn(ctx)
	if err != nil {
		return nil, err
	}

	query := r.s.q(`SELECT ` + jobColumns + ` FROM jobs WHERE group_id = ? AND state = ? ORDER BY name ASC, id ASC`)
	rows, err := c.QueryContext(ctx, query, groupID.String(), string(model.JobReady))
	if err != nil {
		return nil, fmt.Errorf("failed to query ready jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

func (r sqlJobs) one(ctx context.Context, query string, args ...any) (model.Job, error) {
	c, err := r.s.conn(ctx)
	if err != nil {
		return model.Job{}, err
	}

	job, err := scanJob(c.QueryRowContext(ctx, r.s.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	return job, err
}

func (r sqlJobs) Insert(ctx context.Context, job model.Job) error {
	c, err := r.s.conn(ctx)
	if err != nil {
		return err
	}

	inputs, outputs, err := marshalPorts(job)
	if err != nil {
		return err
	}

	query := r.s.q(`INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := c.ExecContext(ctx, query,
		job.ID.String(), job.RootID.String(), job.Name, string(job.State), job.GroupID.String(),
		job.Message, inputs, outputs,
	); err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r sqlJobs) Update(ctx context.Context, job model.Job) error {
	c, err := r.s.conn(ctx)
	if err != nil {
		return err
	}

	inputs, outputs, err := marshalPorts(job)
	if err != nil {
		return err
	}

	query := r.s.q(`UPDATE jobs SET root_id = ?, name = ?, state = ?, group_id = ?, message = ?, inputs = ?, outputs = ? WHERE id = ?`)
	res, err := c.ExecContext(ctx, query,
		job.RootID.String(), job.Name, string(job.State), job.GroupID.String(), job.Message,
		inputs, outputs, job.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return requireAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.Job, error) {
	var (
		job                    model.Job
		id, rootID, groupID    string
		state                  string
		inputsJSON, outputJSON string
	)
	if err := row.Scan(&id, &rootID, &job.Name, &state, &groupID, &job.Message, &inputsJSON, &outputJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, err
		}
		return model.Job{}, fmt.Errorf("failed to scan job: %w", err)
	}

	var err error
	if job.ID, err = uuid.Parse(id); err != nil {
		return model.Job{}, fmt.Errorf("invalid job id %q: %w", id, err)
	}
	if job.RootID, err = uuid.Parse(rootID); err != nil {
		return model.Job{}, fmt.Errorf("invalid root id %q: %w", rootID, err)
	}
	if job.GroupID, err = uuid.Parse(groupID); err != nil {
		return model.Job{}, fmt.Errorf("invalid group id %q: %w", groupID, err)
	}
	if job.State, err = model.ParseJobState(state); err != nil {
		return model.Job{}, err
	}
	if err := unmarshalMap(inputsJSON, &job.Inputs); err != nil {
		return model.Job{}, fmt.Errorf("failed to unmarshal inputs: %w", err)
	}
	if err := unmarshalMap(outputJSON, &job.Outputs); err != nil {
		return model.Job{}, fmt.Errorf("failed to unmarshal outputs: %w", err)
	}
	return job, nil
}

type sqlContexts struct{ s *SQLStore }

func (r sqlContexts) Insert(ctx context.Context, rec model.ContextRecord) error {
	c, err := r.s.conn(ctx)
	if err != nil {
		return err
	}

	config, err := marshalMap(rec.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal context config: %w", err)
	}

	query := r.s.q(`INSERT INTO contexts (id, status, config) VALUES (?, ?, ?)`)
	if _, err := c.ExecContext(ctx, query, rec.ID.String(), string(rec.Status), config); err != nil {
		return fmt.Errorf("failed to insert context: %w", err)
	}
	return nil
}

func (r sqlContexts) Get(ctx context.Context, id uuid.UUID) (model.ContextRecord, error) {
	c, err := r.s.conn(ctx)
	if err != nil {
		return model.ContextRecord{}, err
	}

	var (
		status, config string
		rec            = model.ContextRecord{ID: id}
	)
	err = c.QueryRowContext(ctx, r.s.q(`SELECT status, config FROM contexts WHERE id = ?`), id.String()).Scan(&status, &config)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContextRecord{}, ErrNotFound
	}
	if err != nil {
		return model.ContextRecord{}, fmt.Errorf("failed to load context: %w", err)
	}

	if rec.Status, err = model.ParseContextStatus(status); err != nil {
		return model.ContextRecord{}, err
	}
	if err := unmarshalMap(config, &rec.Config); err != nil {
		return model.ContextRecord{}, fmt.Errorf("failed to unmarshal context config: %w", err)
	}
	return rec, nil
}

func (r sqlContexts) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ContextStatus) error {
	c, err := r.s.conn(ctx)
	if err != nil {
		return err
	}

	res, err := c.ExecContext(ctx, r.s.q(`UPDATE contexts SET status = ? WHERE id = ?`), string(status), id.String())
	if err != nil {
		return fmt.Errorf("failed to update context status: %w", err)
	}
	return requireAffected(res)
}

// requireAffected maps an UPDATE touching no rows to ErrNotFound.
//
// MySQL reports rows changed rather than rows matched, so an UPDATE writing
// identical values also reports zero; the DSN built by NewMySQLStore sets
// clientFoundRows to report matched rows instead.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalPorts(job model.Job) (string, string, error) {
	inputs, err := marshalMap(job.Inputs)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal inputs: %w", err)
	}
	outputs, err := marshalMap(job.Outputs)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal outputs: %w", err)
	}
	return inputs, outputs, nil
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "null", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(data string, dst *map[string]any) error {
	if data == "" || data == "null" {
		*dst = nil
		return nil
	}
	return json.Unmarshal([]byte(data), dst)
}
