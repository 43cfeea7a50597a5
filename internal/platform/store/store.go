// Package store provides a unified interface to the storage backends:
// the Mongo document store, its GridFS blob bucket, and the Postgres
// checkpoint database
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tidemark/internal/platform/logger"
)

// Store is the facade for optional backends
// zero value is safe but does nothing
type Store struct {
	// Log is the logger used by subclients
	// zero means a no op zerolog logger
	Log logger.Logger

	// PG is the postgres seam for checkpoints and leases, nil when disabled
	PG TxRunner

	// Docs is the document store seam, nil when disabled
	Docs Documents

	// Blobs is the blob store seam, nil when disabled
	Blobs Blobs
}

// Row exposes the minimal scan contract a single row needs
type Row interface {
	Scan(dest ...any) error
}

// Rows exposes the minimal iteration and scan for a result set
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
	Columns() []string
}

// CommandTag is a tiny interface to inspect command results
type CommandTag interface {
	String() string
	RowsAffected() int64
}

// RowQuerier is the read and write surface repos use for sql
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner wraps transaction execution around a function
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
}

// IndexSpec describes one secondary index on a collection.
// Keys preserve declaration order; negative order means descending
type IndexSpec struct {
	Keys   []IndexKey
	Unique bool
}

// IndexKey is a single field in an index definition
type IndexKey struct {
	Field string
	Order int // 1 ascending, -1 descending
}

// CollectionSpec declares the shape the router expects a collection to have.
// EnsureCollection applies it lazily on first write
type CollectionSpec struct {
	Indexes []IndexSpec
}

// UpsertOp is one conditional write against a collection: match on identity,
// guard on fingerprint so an unchanged re-ingest is a guaranteed no-op
type UpsertOp struct {
	Identity    string
	EntityKey   string
	Fingerprint string
	Document    map[string]any
}

// UpsertFailure records one op that the backend rejected
type UpsertFailure struct {
	Index    int
	Identity string
	Err      error
}

// UpsertResult aggregates per-op outcomes of one bulk conditional write
type UpsertResult struct {
	Inserted  int
	Updated   int
	Unchanged int
	Failed    []UpsertFailure

	// Outcomes maps op index -> what happened, for callers that need
	// per-record decisions (e.g. offload only on real changes)
	Outcomes []Outcome
}

// Outcome classifies what one conditional upsert did
type Outcome uint8

// Outcome values for a single conditional upsert
const (
	OutcomeFailed Outcome = iota
	OutcomeInserted
	OutcomeUpdated
	OutcomeUnchanged
)

// Documents is the document store seam: lazy collection creation with index
// guarantees, bulk conditional writes with per-op outcomes, and point lookups
type Documents interface {
	EnsureCollection(ctx context.Context, name string, spec CollectionSpec) error
	BulkUpsert(ctx context.Context, coll string, ops []UpsertOp) (UpsertResult, error)
	FindFingerprint(ctx context.Context, coll, identity string) (string, error)
	Close(ctx context.Context) error
}

// Blobs is the blob store seam; append-only, no update-in-place
type Blobs interface {
	Put(ctx context.Context, filename string, data []byte, tags map[string]string) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
}

// Pinger is any seam that can report readiness
type Pinger interface{ Ping(context.Context) error }

// Open constructs a Store with the requested backends
// backends not enabled in cfg remain nil on the Store
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	// defaults for zero logger to avoid nil checks
	s.Log = s.Log.With().Logger()

	if cfg.PG.Enabled {
		pgClient, err := openPG(ctx, cfg, s)
		if err != nil {
			return nil, err
		}
		s.PG = pgClient
	}

	if cfg.Mongo.Enabled {
		docs, blobs, err := openMongo(ctx, cfg, s)
		if err != nil {
			return nil, err
		}
		s.Docs = docs
		s.Blobs = blobs
	}

	return s, nil
}

// Guard verifies all configured seams the Store knows about
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	var errs []error
	if s.PG != nil {
		if p, ok := any(s.PG).(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("pg: %w", err))
			}
		}
	}
	if s.Docs != nil {
		if p, ok := any(s.Docs).(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("mongo: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes all initialized backends gracefully
// nil backends are ignored
func (s *Store) Close(ctx context.Context) error {
	var errs []error

	if s.Docs != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if e := s.Docs.Close(cctx); e != nil {
			errs = append(errs, e)
		}
		cancel()
	}

	if c, ok := s.PG.(interface{ Close() error }); ok {
		if e := c.Close(); e != nil {
			errs = append(errs, e)
		}
	}

	return errors.Join(errs...)
}
