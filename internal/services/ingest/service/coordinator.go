package service

import (
	"context"
	"maps"

	"tidemark/internal/core/collections"
	"tidemark/internal/core/identity"
	perr "tidemark/internal/platform/errors"
	"tidemark/internal/platform/logger"
	"tidemark/internal/platform/store"
	"tidemark/internal/services/ingest/domain"
	offdom "tidemark/internal/services/offload/domain"
)

// Coordinator turns normalized records into conditional bulk upserts.
// Record-level problems (unresolvable identity, unroutable entity,
// failed blob offload) are collected per record; only store
// unavailability fails a batch.
type Coordinator struct {
	Docs    store.Documents
	Offload offdom.Port // optional; records with Raw need it

	// MaxBatch caps the ops in one BulkWrite; oversize groups split.
	// <=0 -> 500
	MaxBatch int
}

// NewCoordinator constructs the upsert coordinator
func NewCoordinator(docs store.Documents, off offdom.Port, maxBatch int) *Coordinator {
	if docs == nil {
		panic("ingest.Coordinator requires a non nil Documents seam")
	}
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &Coordinator{Docs: docs, Offload: off, MaxBatch: maxBatch}
}

// plannedOp is one resolved record bound for a collection
type plannedOp struct {
	index int // position in the caller's batch
	op    store.UpsertOp
}

// Apply implements domain.ApplierPort. collection, when non-empty,
// overrides routing for every record in the batch.
func (c *Coordinator) Apply(ctx context.Context, batch []domain.Record, collection string) (domain.BatchResult, error) {
	var res domain.BatchResult
	if len(batch) == 0 {
		return res, nil
	}

	// resolve, route, and offload record by record; keep per-collection
	// arrival order so outcomes map back by index
	grouped := map[string][]plannedOp{}
	var order []string
	for i := range batch {
		rec := &batch[i]

		id, fp, err := identity.Resolve(rec.Identity, rec.Features)
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, domain.RecordFailure{Index: i, EntityKey: rec.EntityKey, Err: err})
			continue
		}

		coll := collection
		if coll == "" {
			coll, err = collections.Route(rec.EntityType, rec.Periodicity)
			if err != nil {
				res.Failed++
				res.Failures = append(res.Failures, domain.RecordFailure{Index: i, EntityKey: rec.EntityKey, Err: err})
				continue
			}
		}

		doc := maps.Clone(rec.Document)
		if doc == nil {
			doc = map[string]any{}
		}

		if len(rec.Raw) > 0 {
			ref, skip, err := c.offloadIfChanged(ctx, coll, id, fp, rec)
			if err != nil {
				res.Failed++
				res.Failures = append(res.Failures, domain.RecordFailure{Index: i, EntityKey: rec.EntityKey, Err: err})
				continue
			}
			if !skip {
				doc["content_ref"] = ref
			}
		}

		if _, seen := grouped[coll]; !seen {
			order = append(order, coll)
		}
		grouped[coll] = append(grouped[coll], plannedOp{
			index: i,
			op: store.UpsertOp{
				Identity:    id,
				EntityKey:   rec.EntityKey,
				Fingerprint: fp,
				Document:    doc,
			},
		})
	}

	for _, coll := range order {
		ops := grouped[coll]
		if err := c.Docs.EnsureCollection(ctx, coll, collections.Spec()); err != nil {
			return res, perr.Wrap(err, perr.ErrorCodeUnavailable, "ensure collection "+coll)
		}
		for start := 0; start < len(ops); start += c.MaxBatch {
			end := min(start+c.MaxBatch, len(ops))
			if err := c.flush(ctx, coll, ops[start:end], &res, batch); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// flush runs one bulk write and folds its per-op outcomes into res
func (c *Coordinator) flush(ctx context.Context, coll string, ops []plannedOp, res *domain.BatchResult, batch []domain.Record) error {
	raw := make([]store.UpsertOp, len(ops))
	for i, p := range ops {
		raw[i] = p.op
	}

	ur, err := c.Docs.BulkUpsert(ctx, coll, raw)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "bulk upsert to "+coll)
	}

	failures := map[int]error{}
	for _, f := range ur.Failed {
		failures[f.Index] = f.Err
	}
	for i, p := range ops {
		switch ur.Outcomes[i] {
		case store.OutcomeInserted:
			res.Inserted++
		case store.OutcomeUpdated:
			res.Updated++
		case store.OutcomeUnchanged:
			res.Skipped++
		case store.OutcomeFailed:
			res.Failed++
			ferr := failures[i]
			res.Failures = append(res.Failures, domain.RecordFailure{
				Index:     p.index,
				EntityKey: batch[p.index].EntityKey,
				Err:       perr.Wrap(ferr, perr.ErrorCodeDB, "upsert rejected"),
			})
		}
	}

	logger.C(ctx).Debug().
		Str("collection", coll).
		Int("ops", len(ops)).
		Int("inserted", ur.Inserted).
		Int("updated", ur.Updated).
		Int("unchanged", ur.Unchanged).
		Int("failed", len(ur.Failed)).
		Msg("bulk upsert applied")
	return nil
}

// offloadIfChanged stores rec.Raw in the blob store unless the stored
// fingerprint already equals fp, which means the coming upsert is a
// no-op and must not produce a new blob. skip reports the no-op case.
func (c *Coordinator) offloadIfChanged(ctx context.Context, coll, id, fp string, rec *domain.Record) (ref string, skip bool, err error) {
	stored, err := c.Docs.FindFingerprint(ctx, coll, id)
	if err != nil {
		return "", false, perr.Wrap(err, perr.ErrorCodeUnavailable, "fingerprint lookup")
	}
	if stored == fp {
		return "", true, nil
	}
	if c.Offload == nil {
		return "", false, perr.Internalf("record carries raw payload but no offload port is wired")
	}

	filename := rec.EntityKey + "/" + id
	if u, ok := rec.Document["url"].(string); ok && u != "" {
		filename = u
	}
	ref, err = c.Offload.Offload(ctx, rec.Raw, offdom.Meta{
		Filename:  filename,
		EntityKey: rec.EntityKey,
		Source:    rec.Source,
	})
	if err != nil {
		return "", false, err
	}
	return ref, false, nil
}

var _ domain.ApplierPort = (*Coordinator)(nil)
