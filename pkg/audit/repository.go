package audit

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Entry is one terminal-state record in the processing history. It is
// additive to the Tracker file (pkg/tracker) and the Sheet row
// (pkg/sheets) — the audit store answers "what happened to package X"
// queries without weakening either of those as sources of truth.
type Entry struct {
	ID                 int64
	RemoteID           string
	PackageName        string
	State              string
	Outcome            string
	ValidationScore    *float64
	TransientDecision  string
	ErrorMessage       string
	WarningMessage     string
	Detail             map[string]any
	RecordedAt         time.Time
}

// Repository persists Entry rows to Postgres. A nil pool degrades every
// method to a no-op returning nil error, so callers can wire a Repository
// unconditionally and simply skip creating a pool when AUDIT_DSN is unset.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps an existing pool. Pass nil to get a no-op repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Enabled reports whether the repository is backed by a live connection pool.
func (r *Repository) Enabled() bool {
	return r != nil && r.pool != nil
}

// EnsureSchema applies the embedded migrations. Safe to call on every
// process start; already-applied migrations are skipped.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}

	dir, err := os.MkdirTemp("", "metacam-audit-migrations-*")
	if err != nil {
		return fmt.Errorf("audit: staging migrations: %w", err)
	}
	defer os.RemoveAll(dir)

	entries, err := embeddedMigrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("audit: reading embedded migrations: %w", err)
	}
	for _, e := range entries {
		data, err := embeddedMigrations.ReadFile(filepath.Join("migrations", e.Name()))
		if err != nil {
			return fmt.Errorf("audit: reading embedded migration %s: %w", e.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(dir, e.Name()), data, 0o644); err != nil {
			return fmt.Errorf("audit: staging migration %s: %w", e.Name(), err)
		}
	}

	if _, err := RunMigrations(ctx, r.pool, dir); err != nil {
		return fmt.Errorf("audit: applying migrations: %w", err)
	}
	return nil
}

// Record appends a terminal-state entry. Failures are returned to the
// caller (the Orchestrator logs and continues — the audit store is
// observational and must never block a package's terminal transition).
func (r *Repository) Record(ctx context.Context, e Entry) error {
	if !r.Enabled() {
		return nil
	}

	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("audit: marshal detail: %w", err)
	}

	const q = `
		INSERT INTO processing_history
			(remote_id, package_name, state, outcome, validation_score, transient_decision, error_message, warning_message, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, q,
		e.RemoteID, e.PackageName, e.State, e.Outcome, e.ValidationScore,
		e.TransientDecision, e.ErrorMessage, e.WarningMessage, detailJSON)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if !r.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	const q = `
		SELECT id, remote_id, package_name, state, outcome, validation_score,
		       transient_decision, error_message, warning_message, detail, recorded_at
		FROM processing_history
		ORDER BY recorded_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByRemoteID returns the full history for a single package, oldest first.
func (r *Repository) ByRemoteID(ctx context.Context, remoteID string) ([]Entry, error) {
	if !r.Enabled() {
		return nil, nil
	}

	const q = `
		SELECT id, remote_id, package_name, state, outcome, validation_score,
		       transient_decision, error_message, warning_message, detail, recorded_at
		FROM processing_history
		WHERE remote_id = $1
		ORDER BY recorded_at ASC`

	rows, err := r.pool.Query(ctx, q, remoteID)
	if err != nil {
		return nil, fmt.Errorf("audit: query by remote id: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.RemoteID, &e.PackageName, &e.State, &e.Outcome,
			&e.ValidationScore, &e.TransientDecision, &e.ErrorMessage, &e.WarningMessage,
			&detailJSON, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("audit: unmarshal detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
