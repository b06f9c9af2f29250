package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.StateStore and engine.RunRecorder on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens the SQLite state database at path, creating and
// migrating it as needed. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, engine.NewStateError("sqlite state path is required", nil).
			WithCode(engine.ErrCodeStateIO)
	}

	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, engine.NewStateError("failed to open state database", err).
			WithCode(engine.ErrCodeStateIO)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, engine.NewStateError("failed to ping state database", err).
			WithCode(engine.ErrCodeStateIO)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return engine.NewStateError("failed to load state migrations", err).
			WithCode(engine.ErrCodeStateIO)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return engine.NewStateError("failed to create migration driver", err).
			WithCode(engine.ErrCodeStateIO)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return engine.NewStateError("failed to create migration instance", err).
			WithCode(engine.ErrCodeStateIO)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return engine.NewStateError("failed to migrate state database", err).
			WithCode(engine.ErrCodeStateIO)
	}
	return nil
}

// Get returns the record for a resource id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*engine.ObservedRecord, error) {
	query := `
		SELECT kind, exists_flag, provider_handle, spec_hash, attributes, depends_on, last_applied_at, last_run_id
		FROM observed_state
		WHERE resource_id = ?
	`

	var (
		rec         engine.ObservedRecord
		exists      int
		attrsJSON   string
		dependsJSON string
		appliedAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.Kind,
		&exists,
		&rec.ProviderHandle,
		&rec.SpecHash,
		&attrsJSON,
		&dependsJSON,
		&appliedAt,
		&rec.LastRunID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewStateError(
			fmt.Sprintf("no state record for resource %q", id), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(id)
	}
	if err != nil {
		return nil, engine.NewStateError("failed to read state record", err).
			WithCode(engine.ErrCodeStateIO).WithResource(id)
	}

	rec.Exists = exists != 0
	if appliedAt.Valid {
		rec.LastAppliedAt = appliedAt.Time
	}
	if err := json.Unmarshal([]byte(attrsJSON), &rec.Attributes); err != nil {
		return nil, engine.NewStateError("state record attributes are corrupt", err).
			WithCode(engine.ErrCodeStateIO).WithResource(id)
	}
	if err := json.Unmarshal([]byte(dependsJSON), &rec.DependsOn); err != nil {
		return nil, engine.NewStateError("state record dependencies are corrupt", err).
			WithCode(engine.ErrCodeStateIO).WithResource(id)
	}
	return &rec, nil
}

// Put atomically replaces the record for a resource id.
func (s *SQLiteStore) Put(ctx context.Context, id string, rec engine.ObservedRecord) error {
	attrsJSON, err := json.Marshal(rec.Attributes)
	if err != nil {
		return engine.NewStateError("failed to encode record attributes", err).
			WithCode(engine.ErrCodeStateIO).WithResource(id)
	}
	dependsJSON, err := json.Marshal(rec.DependsOn)
	if err != nil {
		return engine.NewStateError("failed to encode record dependencies", err).
			WithCode(engine.ErrCodeStateIO).WithResource(id)
	}

	exists := 0
	if rec.Exists {
		exists = 1
	}

	query := `
		INSERT INTO observed_state (resource_id, kind, exists_flag, provider_handle, spec_hash, attributes, depends_on, last_applied_at, last_run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			kind = excluded.kind,
			exists_flag = excluded.exists_flag,
			provider_handle = excluded.provider_handle,
			spec_hash = excluded.spec_hash,
			attributes = excluded.attributes,
			depends_on = excluded.depends_on,
			last_applied_at = excluded.last_applied_at,
			last_run_id = excluded.last_run_id,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		id,
		rec.Kind,
		exists,
		rec.ProviderHandle,
		rec.SpecHash,
		string(attrsJSON),
		string(dependsJSON),
		rec.LastAppliedAt,
		rec.LastRunID,
		time.Now().UTC(),
	)
	if err != nil {
		return engine.NewStateError("failed to write state record", err).
			WithCode(engine.ErrCodeStateIO).WithResource(id)
	}
	return nil
}

// Delete removes the record for a resource id. Absent records are a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM observed_state WHERE resource_id = ?`, id)
	if err != nil {
		return engine.NewStateError("failed to delete state record", err).
			WithCode(engine.ErrCodeStateIO).WithResource(id)
	}
	return nil
}

// All returns every record keyed by resource id.
func (s *SQLiteStore) All(ctx context.Context) (engine.ObservedState, error) {
	query := `
		SELECT resource_id, kind, exists_flag, provider_handle, spec_hash, attributes, depends_on, last_applied_at, last_run_id
		FROM observed_state
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, engine.NewStateError("failed to list state records", err).
			WithCode(engine.ErrCodeStateIO)
	}
	defer rows.Close()

	out := make(engine.ObservedState)
	for rows.Next() {
		var (
			id          string
			rec         engine.ObservedRecord
			exists      int
			attrsJSON   string
			dependsJSON string
			appliedAt   sql.NullTime
		)
		if err := rows.Scan(
			&id,
			&rec.Kind,
			&exists,
			&rec.ProviderHandle,
			&rec.SpecHash,
			&attrsJSON,
			&dependsJSON,
			&appliedAt,
			&rec.LastRunID,
		); err != nil {
			return nil, engine.NewStateError("failed to scan state record", err).
				WithCode(engine.ErrCodeStateIO)
		}
		rec.Exists = exists != 0
		if appliedAt.Valid {
			rec.LastAppliedAt = appliedAt.Time
		}
		if err := json.Unmarshal([]byte(attrsJSON), &rec.Attributes); err != nil {
			return nil, engine.NewStateError("state record attributes are corrupt", err).
				WithCode(engine.ErrCodeStateIO).WithResource(id)
		}
		if err := json.Unmarshal([]byte(dependsJSON), &rec.DependsOn); err != nil {
			return nil, engine.NewStateError("state record dependencies are corrupt", err).
				WithCode(engine.ErrCodeStateIO).WithResource(id)
		}
		out[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStateError("failed to iterate state records", err).
			WithCode(engine.ErrCodeStateIO)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun persists or updates a run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.Run) error {
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return engine.NewStateError("failed to encode run summary", err).
			WithCode(engine.ErrCodeStateIO)
	}

	query := `
		INSERT INTO runs (id, plan_id, status, started_at, completed_at, summary)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			summary = excluded.summary
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.PlanID,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		string(summaryJSON),
	)
	if err != nil {
		return engine.NewStateError("failed to save run", err).
			WithCode(engine.ErrCodeStateIO)
	}
	return nil
}

// ListRuns returns recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*engine.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, plan_id, status, started_at, completed_at, summary
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, engine.NewStateError("failed to list runs", err).
			WithCode(engine.ErrCodeStateIO)
	}
	defer rows.Close()

	var runs []*engine.Run
	for rows.Next() {
		var (
			run         engine.Run
			completedAt sql.NullTime
			summaryJSON string
		)
		if err := rows.Scan(&run.ID, &run.PlanID, &run.Status, &run.StartedAt, &completedAt, &summaryJSON); err != nil {
			return nil, engine.NewStateError("failed to scan run", err).
				WithCode(engine.ErrCodeStateIO)
		}
		if completedAt.Valid {
			t := completedAt.Time
			run.CompletedAt = &t
		}
		if err := json.Unmarshal([]byte(summaryJSON), &run.Summary); err != nil {
			return nil, engine.NewStateError("run summary is corrupt", err).
				WithCode(engine.ErrCodeStateIO)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStateError("failed to iterate runs", err).
			WithCode(engine.ErrCodeStateIO)
	}
	return runs, nil
}
