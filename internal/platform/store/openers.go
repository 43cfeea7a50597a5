package store

import (
	"context"
	"fmt"
	"time"

	mgo "tidemark/internal/platform/store/mongo"
	"tidemark/internal/platform/store/pg"
)

// openPG opens pg and wraps it with our sql adapter
func openPG(ctx context.Context, cfg Config, s *Store) (TxRunner, error) {
	var tracer pg.QueryTracer
	if cfg.PG.LogSQL {
		tracer = pg.Tracer(s.Log)
	}

	p, err := pg.Open(ctx, pg.Config{
		URL:      cfg.PG.URL,
		MaxConns: cfg.PG.MaxConns,
		SlowMs:   cfg.PG.SlowQueryMs,
	}, tracer, nil)
	if err != nil {
		return nil, err
	}

	// Connection guardrails: ping with retry/backoff using the *pool* directly
	maxAttempts := cfg.PG.ConnectRetries
	if maxAttempts <= 0 {
		maxAttempts = 20
	}
	pingTimeout := cfg.PG.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 3 * time.Second
	}
	const (
		backoffStart   = 150 * time.Millisecond
		backoffCeiling = 2 * time.Second
	)

	var lastErr error
	backoff := backoffStart
	for i := 0; i < maxAttempts; i++ {
		toCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = p.Pool.Ping(toCtx)
		cancel()

		if lastErr == nil {
			a := newPGAdapter(p) // publish adapter only after the pool is healthy
			s.PG = a
			return a, nil
		}
		if ctx.Err() != nil {
			p.Close()
			return nil, ctx.Err()
		}
		time.Sleep(backoff)
		if backoff < backoffCeiling {
			backoff *= 2
			if backoff > backoffCeiling {
				backoff = backoffCeiling
			}
		}
	}

	p.Close()
	return nil, fmt.Errorf("postgres ping failed after %d attempts: %w", maxAttempts, lastErr)
}

// openMongo opens the document database and derives the blob bucket from it
func openMongo(ctx context.Context, cfg Config, s *Store) (Documents, Blobs, error) {
	m, err := mgo.Open(ctx, mgo.Config{
		URL:            cfg.Mongo.URL,
		DB:             cfg.Mongo.DB,
		AppName:        cfg.AppName,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	docs := newMongoAdapter(m, s.Log)
	blobs, err := newBlobAdapter(m, cfg.Mongo.BlobBucket)
	if err != nil {
		_ = m.Close(ctx)
		return nil, nil, err
	}
	return docs, blobs, nil
}
