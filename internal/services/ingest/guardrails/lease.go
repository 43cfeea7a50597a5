package guardrails

import (
	"context"
	"errors"
	"time"

	"tidemark/internal/modkit"
	"tidemark/internal/platform/store"
	"tidemark/internal/services/ingest/domain"
)

// ErrLeaseHeld signals another worker owns the window already.
var ErrLeaseHeld = errors.New("ingest: window lease already held")

// MakeAdvisoryLease returns a lease backed by the ingest_window_leases
// table. Claiming is a one-time INSERT ... ON CONFLICT DO NOTHING; a
// lost claim returns ErrLeaseHeld so callers can skip cleanly. The
// lease is never released, which is acceptable because windows are
// terminal once finished. It assumes the ingest_window_leases table
// exists.
func MakeAdvisoryLease(deps modkit.Deps) domain.Lease {
	return func(ctx context.Context, ref domain.EntityRef, start time.Time, do func(context.Context) error) error {
		var claimed bool
		err := deps.PG.Tx(ctx, func(q store.RowQuerier) error {
			rows, err := q.Query(ctx, `
				insert into ingest_window_leases (entity_key, source, entity_type, window_start)
				values ($1, $2, $3, $4)
				on conflict (entity_key, source, entity_type, window_start) do nothing
				returning true
			`, ref.EntityKey, ref.Source, ref.EntityType, start.UTC())
			if err != nil {
				return err
			}
			defer rows.Close()
			if rows.Next() {
				claimed = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !claimed {
			return ErrLeaseHeld // clean skip
		}
		return do(ctx)
	}
}
