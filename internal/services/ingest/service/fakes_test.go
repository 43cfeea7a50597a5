package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tidemark/internal/modkit/repokit"
	"tidemark/internal/platform/store"
	"tidemark/internal/services/ingest/domain"
	offdom "tidemark/internal/services/offload/domain"
)

// fakeDocs is an in-memory store.Documents with the conditional upsert
// semantics of the mongo adapter: match identity, write only when the
// fingerprint differs
type fakeDocs struct {
	mu        sync.Mutex
	colls     map[string]map[string]storedDoc // coll -> identity -> doc
	ensured   map[string]int
	bulkCalls []bulkCall

	failIdentity map[string]error // identity -> injected op failure
	failAll      error            // injected whole-call failure
}

type storedDoc struct {
	fingerprint string
	doc         map[string]any
}

type bulkCall struct {
	coll string
	ops  int
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		colls:        map[string]map[string]storedDoc{},
		ensured:      map[string]int{},
		failIdentity: map[string]error{},
	}
}

func (f *fakeDocs) EnsureCollection(_ context.Context, name string, _ store.CollectionSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured[name]++
	if f.colls[name] == nil {
		f.colls[name] = map[string]storedDoc{}
	}
	return nil
}

func (f *fakeDocs) BulkUpsert(_ context.Context, coll string, ops []store.UpsertOp) (store.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return store.UpsertResult{}, f.failAll
	}
	f.bulkCalls = append(f.bulkCalls, bulkCall{coll: coll, ops: len(ops)})
	if f.colls[coll] == nil {
		f.colls[coll] = map[string]storedDoc{}
	}

	res := store.UpsertResult{Outcomes: make([]store.Outcome, len(ops))}
	for i, op := range ops {
		if err := f.failIdentity[op.Identity]; err != nil {
			res.Outcomes[i] = store.OutcomeFailed
			res.Failed = append(res.Failed, store.UpsertFailure{Index: i, Identity: op.Identity, Err: err})
			continue
		}
		cur, exists := f.colls[coll][op.Identity]
		switch {
		case !exists:
			f.colls[coll][op.Identity] = storedDoc{fingerprint: op.Fingerprint, doc: op.Document}
			res.Outcomes[i] = store.OutcomeInserted
			res.Inserted++
		case cur.fingerprint == op.Fingerprint:
			res.Outcomes[i] = store.OutcomeUnchanged
			res.Unchanged++
		default:
			f.colls[coll][op.Identity] = storedDoc{fingerprint: op.Fingerprint, doc: op.Document}
			res.Outcomes[i] = store.OutcomeUpdated
			res.Updated++
		}
	}
	return res, nil
}

func (f *fakeDocs) FindFingerprint(_ context.Context, coll, identity string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.colls[coll][identity]; ok {
		return d.fingerprint, nil
	}
	return "", nil
}

func (f *fakeDocs) Close(context.Context) error { return nil }

func (f *fakeDocs) count(coll string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.colls[coll])
}

func (f *fakeDocs) calls(coll string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.bulkCalls {
		if c.coll == coll {
			n++
		}
	}
	return n
}

var _ store.Documents = (*fakeDocs)(nil)

// fakeOffload counts blob puts
type fakeOffload struct {
	mu   sync.Mutex
	puts int
	last offdom.Meta
}

func (f *fakeOffload) Offload(_ context.Context, _ []byte, meta offdom.Meta) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.last = meta
	return fmt.Sprintf("blob-%d", f.puts), nil
}

func (f *fakeOffload) Fetch(context.Context, string) ([]byte, error) { return nil, nil }

func (f *fakeOffload) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

var _ offdom.Port = (*fakeOffload)(nil)

// fakeTx is a TxRunner whose transactions are plain function calls
type fakeTx struct{}

func (fakeTx) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (fakeTx) Query(context.Context, string, ...any) (store.Rows, error)     { return nil, nil }
func (fakeTx) QueryRow(context.Context, string, ...any) store.Row            { return nil }
func (f fakeTx) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error {
	return fn(f)
}

// fakeCheckpoint is an in-memory domain.CheckpointRepo that records
// the order windows were started in
type fakeCheckpoint struct {
	mu      sync.Mutex
	windows map[domain.EntityRef]map[time.Time]*cpWindow
	started map[domain.EntityRef][]time.Time
}

type cpWindow struct {
	w      domain.Window
	status string
	fin    domain.WindowFinish
}

func newFakeCheckpoint() *fakeCheckpoint {
	return &fakeCheckpoint{
		windows: map[domain.EntityRef]map[time.Time]*cpWindow{},
		started: map[domain.EntityRef][]time.Time{},
	}
}

func (f *fakeCheckpoint) binder() repokit.Binder[domain.CheckpointRepo] {
	return repokit.BindFunc[domain.CheckpointRepo](func(repokit.Queryer) domain.CheckpointRepo { return f })
}

func (f *fakeCheckpoint) PreseedWindows(_ context.Context, ref domain.EntityRef, ws []domain.Window) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.windows[ref] == nil {
		f.windows[ref] = map[time.Time]*cpWindow{}
	}
	n := 0
	for _, w := range ws {
		if _, ok := f.windows[ref][w.Start]; ok {
			continue
		}
		f.windows[ref][w.Start] = &cpWindow{w: w, status: "pending"}
		n++
	}
	return n, nil
}

func (f *fakeCheckpoint) PendingWindows(_ context.Context, ref domain.EntityRef) ([]domain.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ws []domain.Window
	for _, cw := range f.windows[ref] {
		if cw.status == "pending" || cw.status == "error" {
			ws = append(ws, cw.w)
		}
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].Start.Before(ws[j].Start) })
	return ws, nil
}

func (f *fakeCheckpoint) PendingRefs(context.Context) ([]domain.EntityRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var refs []domain.EntityRef
	for ref, ws := range f.windows {
		for _, cw := range ws {
			if cw.status == "pending" || cw.status == "error" {
				refs = append(refs, ref)
				break
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].EntityKey < refs[j].EntityKey })
	return refs, nil
}

func (f *fakeCheckpoint) StartWindow(_ context.Context, ref domain.EntityRef, w domain.Window) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.windows[ref] == nil {
		f.windows[ref] = map[time.Time]*cpWindow{}
	}
	if f.windows[ref][w.Start] == nil {
		f.windows[ref][w.Start] = &cpWindow{w: w}
	}
	f.windows[ref][w.Start].status = "running"
	f.started[ref] = append(f.started[ref], w.Start)
	return nil
}

func (f *fakeCheckpoint) FinishWindow(_ context.Context, ref domain.EntityRef, w domain.Window, fin domain.WindowFinish) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cw := f.windows[ref][w.Start]
	if cw == nil {
		return fmt.Errorf("finish of unknown window %v", w.Start)
	}
	cw.status = fin.Status
	cw.fin = fin
	return nil
}

func (f *fakeCheckpoint) startedOrder(ref domain.EntityRef) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.started[ref]...)
}

func (f *fakeCheckpoint) statuses(ref domain.EntityRef) map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, cw := range f.windows[ref] {
		out[cw.status]++
	}
	return out
}

var _ domain.CheckpointRepo = (*fakeCheckpoint)(nil)

// fakeAdapter delegates to configurable funcs
type fakeAdapter struct {
	name      string
	fetch     func(ctx context.Context, entityKey string, w domain.Window) ([]domain.RawItem, error)
	normalize func(entityKey string, item domain.RawItem) (domain.Record, error)
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Fetch(ctx context.Context, entityKey string, w domain.Window) ([]domain.RawItem, error) {
	return a.fetch(ctx, entityKey, w)
}

func (a *fakeAdapter) Normalize(entityKey string, item domain.RawItem) (domain.Record, error) {
	return a.normalize(entityKey, item)
}

var _ domain.SourceAdapter = (*fakeAdapter)(nil)
