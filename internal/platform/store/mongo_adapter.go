package store

import (
	"bytes"
	"context"
	"sync"

	"tidemark/internal/platform/logger"
	mgo "tidemark/internal/platform/store/mongo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoAdapter implements Documents on top of the mongo client
// collections are created lazily; EnsureCollection is idempotent and cached
type mongoAdapter struct {
	m   *mgo.Mongo
	log logger.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

func newMongoAdapter(m *mgo.Mongo, log logger.Logger) *mongoAdapter {
	return &mongoAdapter{m: m, log: log, ensured: make(map[string]bool)}
}

func (a *mongoAdapter) Ping(ctx context.Context) error { return a.m.Ping(ctx) }

func (a *mongoAdapter) Close(ctx context.Context) error { return a.m.Close(ctx) }

// EnsureCollection creates the declared indexes on first touch of a collection.
// CreateMany is idempotent on the server so a lost cache entry only costs a
// round trip, never a failure
func (a *mongoAdapter) EnsureCollection(ctx context.Context, name string, spec CollectionSpec) error {
	a.mu.Lock()
	done := a.ensured[name]
	a.mu.Unlock()
	if done {
		return nil
	}

	if len(spec.Indexes) > 0 {
		models := make([]mongo.IndexModel, 0, len(spec.Indexes))
		for _, ix := range spec.Indexes {
			keys := bson.D{}
			for _, k := range ix.Keys {
				keys = append(keys, bson.E{Key: k.Field, Value: k.Order})
			}
			im := mongo.IndexModel{Keys: keys}
			if ix.Unique {
				im.Options = options.Index().SetUnique(true)
			}
			models = append(models, im)
		}
		if _, err := a.m.DB.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
		a.log.Debug().Str("collection", name).Int("indexes", len(models)).Msg("collection ensured")
	}

	a.mu.Lock()
	a.ensured[name] = true
	a.mu.Unlock()
	return nil
}

// BulkUpsert issues one unordered bulk of conditional updates.
// Each op matches on identity and guards on fingerprint inequality, so a
// re-ingest of unchanged content hits the unique index instead of writing;
// that duplicate key error is counted as Unchanged, not as a failure
func (a *mongoAdapter) BulkUpsert(ctx context.Context, coll string, ops []UpsertOp) (UpsertResult, error) {
	if len(ops) == 0 {
		return UpsertResult{}, nil
	}

	models := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		doc := make(bson.M, len(op.Document)+2)
		for k, v := range op.Document {
			doc[k] = v
		}
		doc["unique_id"] = op.Identity
		doc["fingerprint"] = op.Fingerprint

		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{
				"unique_id":   op.Identity,
				"fingerprint": bson.M{"$ne": op.Fingerprint},
			}).
			SetUpdate(bson.M{"$set": doc}).
			SetUpsert(true))
	}

	res, err := a.m.DB.Collection(coll).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))

	out := UpsertResult{Outcomes: make([]Outcome, len(ops))}
	for i := range out.Outcomes {
		out.Outcomes[i] = OutcomeUpdated
	}

	var bwe mongo.BulkWriteException
	if err != nil {
		ok := false
		if bwe, ok = err.(mongo.BulkWriteException); !ok {
			// whole-batch failure, nothing landed
			return UpsertResult{}, err
		}
	}

	if res != nil {
		for idx := range res.UpsertedIDs {
			if int(idx) < len(out.Outcomes) {
				out.Outcomes[idx] = OutcomeInserted
			}
		}
	}
	for _, we := range bwe.WriteErrors {
		if we.Index < 0 || we.Index >= len(ops) {
			continue
		}
		if mongo.IsDuplicateKeyError(we.WriteError) {
			// identity exists with an equal fingerprint: the no-op path
			out.Outcomes[we.Index] = OutcomeUnchanged
			continue
		}
		out.Outcomes[we.Index] = OutcomeFailed
		out.Failed = append(out.Failed, UpsertFailure{
			Index:    we.Index,
			Identity: ops[we.Index].Identity,
			Err:      we.WriteError,
		})
	}

	for _, o := range out.Outcomes {
		switch o {
		case OutcomeInserted:
			out.Inserted++
		case OutcomeUpdated:
			out.Updated++
		case OutcomeUnchanged:
			out.Unchanged++
		}
	}
	return out, nil
}

// FindFingerprint returns the stored fingerprint for an identity,
// empty string when the document does not exist
func (a *mongoAdapter) FindFingerprint(ctx context.Context, coll, identity string) (string, error) {
	var doc struct {
		Fingerprint string `bson:"fingerprint"`
	}
	err := a.m.DB.Collection(coll).FindOne(ctx,
		bson.M{"unique_id": identity},
		options.FindOne().SetProjection(bson.M{"fingerprint": 1, "_id": 0}),
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.Fingerprint, nil
}

// blobAdapter implements Blobs over a GridFS bucket
type blobAdapter struct {
	bucket *gridfs.Bucket
}

func newBlobAdapter(m *mgo.Mongo, name string) (*blobAdapter, error) {
	opts := options.GridFSBucket()
	if name != "" {
		opts = opts.SetName(name)
	}
	b, err := gridfs.NewBucket(m.DB, opts)
	if err != nil {
		return nil, err
	}
	return &blobAdapter{bucket: b}, nil
}

// Put stores a blob and returns its hex object id.
// Blobs are append only: a changed payload gets a new file, never an overwrite
func (b *blobAdapter) Put(ctx context.Context, filename string, data []byte, tags map[string]string) (string, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = b.bucket.SetWriteDeadline(dl)
	}
	var upload *options.UploadOptions
	if len(tags) > 0 {
		meta := make(bson.M, len(tags))
		for k, v := range tags {
			meta[k] = v
		}
		upload = options.GridFSUpload().SetMetadata(meta)
	} else {
		upload = options.GridFSUpload()
	}
	id, err := b.bucket.UploadFromStream(filename, bytes.NewReader(data), upload)
	if err != nil {
		return "", err
	}
	return id.Hex(), nil
}

// Get fetches a blob by the id Put returned
func (b *blobAdapter) Get(ctx context.Context, id string) ([]byte, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = b.bucket.SetReadDeadline(dl)
	}
	var buf bytes.Buffer
	if _, err := b.bucket.DownloadToStream(oid, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
