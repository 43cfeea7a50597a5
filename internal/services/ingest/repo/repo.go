// Package repo provides postgres access for ingest window checkpoints
package repo

import (
	"context"

	"tidemark/internal/modkit/repokit"
	"tidemark/internal/services/ingest/domain"
)

type (
	// PG is a Postgres binder for domain.CheckpointRepo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.CheckpointRepo
func NewPG() repokit.Binder[domain.CheckpointRepo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.CheckpointRepo { return &queries{q: q} }

// PreseedWindows registers planned windows as pending (idempotent).
// Windows already finished or in flight are left untouched.
func (r *queries) PreseedWindows(ctx context.Context, ref domain.EntityRef, ws []domain.Window) (int, error) {
	seeded := 0
	for _, w := range ws {
		tag, err := r.q.Exec(ctx, `
			INSERT INTO ingest_windows (entity_key, source, entity_type, window_start, window_end, status)
			VALUES ($1, $2, $3, $4, $5, 'pending')
			ON CONFLICT (entity_key, source, entity_type, window_start) DO NOTHING
		`, ref.EntityKey, ref.Source, ref.EntityType, w.Start.UTC(), w.End.UTC())
		if err != nil {
			return seeded, err
		}
		seeded += int(tag.RowsAffected())
	}
	return seeded, nil
}

// PendingWindows lists unfinished windows for one stream in
// chronological order. Errored windows are included so resume retries
// them.
func (r *queries) PendingWindows(ctx context.Context, ref domain.EntityRef) ([]domain.Window, error) {
	rows, err := r.q.Query(ctx, `
		SELECT window_start, window_end
		FROM ingest_windows
		WHERE entity_key = $1 AND source = $2 AND entity_type = $3
		  AND status IN ('pending', 'error')
		ORDER BY window_start ASC
	`, ref.EntityKey, ref.Source, ref.EntityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ws []domain.Window
	for rows.Next() {
		var w domain.Window
		if err := rows.Scan(&w.Start, &w.End); err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, rows.Err()
}

// PendingRefs lists every stream with unfinished windows
func (r *queries) PendingRefs(ctx context.Context) ([]domain.EntityRef, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT entity_key, source, entity_type
		FROM ingest_windows
		WHERE status IN ('pending', 'error')
		ORDER BY entity_key, source, entity_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []domain.EntityRef
	for rows.Next() {
		var ref domain.EntityRef
		if err := rows.Scan(&ref.EntityKey, &ref.Source, &ref.EntityType); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// StartWindow marks a window running (idempotent)
func (r *queries) StartWindow(ctx context.Context, ref domain.EntityRef, w domain.Window) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO ingest_windows (entity_key, source, entity_type, window_start, window_end, started_at, status)
		VALUES ($1, $2, $3, $4, $5, now(), 'running')
		ON CONFLICT (entity_key, source, entity_type, window_start) DO UPDATE
		SET started_at = now(), status = 'running', error = null, finished_at = null
	`, ref.EntityKey, ref.Source, ref.EntityType, w.Start.UTC(), w.End.UTC())
	return err
}

// FinishWindow records the terminal state of a window (idempotent)
func (r *queries) FinishWindow(ctx context.Context, ref domain.EntityRef, w domain.Window, fin domain.WindowFinish) error {
	_, err := r.q.Exec(ctx, `
		UPDATE ingest_windows SET
			finished_at = now(),
			status = $5,
			fetched = $6,
			normalized = $7,
			inserted = $8,
			updated = $9,
			skipped = $10,
			failed = $11,
			fetch_ms = $12,
			db_ms = $13,
			elapsed_ms = $14,
			error = NULLIF($15,'')
		WHERE entity_key = $1 AND source = $2 AND entity_type = $3 AND window_start = $4
	`,
		ref.EntityKey, ref.Source, ref.EntityType, w.Start.UTC(),
		fin.Status, fin.Fetched, fin.Normalized, fin.Inserted, fin.Updated, fin.Skipped, fin.Failed,
		fin.FetchMS, fin.DBMS, fin.ElapsedMS, fin.ErrText,
	)
	return err
}

// compile-time interface check
var _ domain.CheckpointRepo = (*queries)(nil)
