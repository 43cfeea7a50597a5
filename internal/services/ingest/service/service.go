// Package service implements the ingestion runs: window planning,
// checkpointed processing, and the conditional upsert coordinator
package service

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tidemark/internal/modkit/repokit"
	perr "tidemark/internal/platform/errors"
	"tidemark/internal/platform/logger"
	"tidemark/internal/services/ingest/domain"
	"tidemark/internal/services/ingest/guardrails"
	"tidemark/internal/services/ingest/planner"
)

// Config holds tuning for ingestion runs
type Config struct {
	// Workers is the number of entities processed in parallel; <=0 -> 4
	Workers int

	// Per-window retry
	MaxRetries int           // attempts per window; <=0 -> 1
	RetryBase  time.Duration // base backoff; <=0 -> 500ms

	// Timeouts applied via guardrails
	FetchTimeout time.Duration
	DBTimeout    time.Duration

	// ProviderSlots caps concurrent fetches against one provider; <=0 -> 2
	ProviderSlots int

	// EnableLeases serializes windows across processes
	EnableLeases bool
}

// Service implements domain.RunnerPort
type Service struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[domain.CheckpointRepo]
	Coord  domain.ApplierPort
	Lease  domain.Lease
	Cfg    Config

	adapters map[string]domain.SourceAdapter // keyed source+"/"+entityType

	mu   sync.Mutex
	sems map[string]chan struct{}
}

// New constructs the ingest service. adapters maps source/entityType
// pairs to their provider implementations.
func New(
	db repokit.TxRunner,
	binder repokit.Binder[domain.CheckpointRepo],
	coord domain.ApplierPort,
	adapters map[string]domain.SourceAdapter,
	cfg Config,
	lease domain.Lease,
) *Service {
	if db == nil {
		panic("ingest.Service requires a non nil TxRunner")
	}
	if binder == nil {
		panic("ingest.Service requires a non nil Repo binder")
	}
	if coord == nil {
		panic("ingest.Service requires a non nil Coordinator")
	}
	return &Service{
		DB:       db,
		Binder:   binder,
		Coord:    coord,
		Lease:    lease,
		Cfg:      cfg,
		adapters: adapters,
		sems:     map[string]chan struct{}{},
	}
}

func (s *Service) adapterFor(source, entityType string) (domain.SourceAdapter, error) {
	ad, ok := s.adapters[domain.AdapterKey(source, entityType)]
	if !ok {
		return nil, perr.InvalidArgf("no source adapter for %s/%s", source, entityType)
	}
	return ad, nil
}

// providerSem returns the fetch semaphore for one provider
func (s *Service) providerSem(source string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[source]
	if !ok {
		slots := s.Cfg.ProviderSlots
		if slots <= 0 {
			slots = 2
		}
		sem = make(chan struct{}, slots)
		s.sems[source] = sem
	}
	return sem
}

// Run implements domain.RunnerPort
func (s *Service) Run(ctx context.Context, req domain.RunRequest) (domain.RunReport, error) {
	var rep domain.RunReport
	if len(req.Tickers) == 0 {
		return rep, perr.Validationf("no tickers in run request")
	}
	ad, err := s.adapterFor(req.Source, req.EntityType)
	if err != nil {
		return rep, err
	}
	policy := planner.ForProvider(req.Source, req.EntityType)
	ws, err := planner.Plan(req.From, req.To, policy)
	if err != nil {
		return rep, err
	}

	ctx = logger.WithRun(ctx, uuid.NewString())
	logger.C(ctx).Info().
		Str("source", req.Source).
		Str("entity_type", req.EntityType).
		Int("tickers", len(req.Tickers)).
		Int("windows", len(ws)).
		Msg("ingest: run starting")

	var mu sync.Mutex
	fail := func(tk string) {
		mu.Lock()
		rep.Tickers.Failed = append(rep.Tickers.Failed, tk)
		mu.Unlock()
	}

	// seed checkpoints up front so a crash mid-run is resumable
	tickers := make([]string, 0, len(req.Tickers))
	for _, tk := range req.Tickers {
		ref := domain.EntityRef{EntityKey: tk, Source: req.Source, EntityType: req.EntityType}
		err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
			_, e := s.Binder.Bind(q).PreseedWindows(ctx, ref, ws)
			return e
		})
		if err != nil {
			logger.C(ctx).Error().Str("ticker", tk).Err(err).Msg("ingest: preseed failed")
			fail(tk)
			continue
		}
		tickers = append(tickers, tk)
	}

	runPool(ctx, s.Cfg.Workers, tickers, func(ctx context.Context, tk string) {
		ref := domain.EntityRef{EntityKey: tk, Source: req.Source, EntityType: req.EntityType}
		sum, err := s.runEntity(ctx, ad, ref, req.Collection)
		mu.Lock()
		defer mu.Unlock()
		rep.Windows += sum.windows
		rep.Inserted += sum.res.Inserted
		rep.Updated += sum.res.Updated
		rep.Skipped += sum.res.Skipped
		rep.Failed += sum.res.Failed
		if err != nil {
			logger.C(ctx).Error().Str("ticker", tk).Err(err).Msg("ingest: entity run failed")
			rep.Tickers.Failed = append(rep.Tickers.Failed, tk)
			return
		}
		rep.Tickers.Accepted = append(rep.Tickers.Accepted, tk)
	})

	sort.Strings(rep.Tickers.Accepted)
	sort.Strings(rep.Tickers.Failed)
	return rep, ctx.Err()
}

// RunResume implements domain.RunnerPort: drain whatever earlier runs
// left pending or errored
func (s *Service) RunResume(ctx context.Context) error {
	var refs []domain.EntityRef
	err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
		var e error
		refs, e = s.Binder.Bind(q).PendingRefs(ctx)
		return e
	})
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	ctx = logger.WithRun(ctx, uuid.NewString())
	logger.C(ctx).Info().Int("entities", len(refs)).Msg("ingest: resume starting")

	var fails int
	var mu sync.Mutex
	runPool(ctx, s.Cfg.Workers, refs, func(ctx context.Context, ref domain.EntityRef) {
		ad, err := s.adapterFor(ref.Source, ref.EntityType)
		if err == nil {
			_, err = s.runEntity(ctx, ad, ref, "")
		}
		if err != nil {
			logger.C(ctx).Error().
				Str("ticker", ref.EntityKey).
				Str("source", ref.Source).
				Err(err).
				Msg("ingest: resume failed")
			mu.Lock()
			fails++
			mu.Unlock()
		}
	})
	if fails > 0 {
		return errors.New("some entities failed to resume")
	}
	return ctx.Err()
}

// runPool fans work items across a bounded worker count
func runPool[T any](ctx context.Context, workers int, items []T, do func(context.Context, T)) {
	w := max(workers, 1)
	ch := make(chan T)
	var wg sync.WaitGroup
	for range w {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range ch {
				do(ctx, it)
			}
		}()
	}
	for _, it := range items {
		select {
		case <-ctx.Done():
			close(ch)
			wg.Wait()
			return
		case ch <- it:
		}
	}
	close(ch)
	wg.Wait()
}

type entitySummary struct {
	windows int
	res     domain.BatchResult
}

// runEntity drains one stream's pending windows in chronological order.
// The ordering is what lets later windows win on conflicting updates.
func (s *Service) runEntity(ctx context.Context, ad domain.SourceAdapter, ref domain.EntityRef, collection string) (entitySummary, error) {
	var sum entitySummary

	var pending []domain.Window
	err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
		var e error
		pending, e = s.Binder.Bind(q).PendingWindows(ctx, ref)
		return e
	})
	if err != nil {
		return sum, err
	}

	var failed int
	for _, w := range pending {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		res, err := s.runWindowWithRetry(ctx, ad, ref, w, collection)
		sum.windows++
		sum.res.Add(res)
		if err != nil {
			logger.C(ctx).Error().
				Str("ticker", ref.EntityKey).
				Time("window_start", w.Start).
				Err(err).
				Msg("ingest: window failed")
			failed++
		}
	}
	if failed > 0 {
		return sum, perr.Internalf("%d of %d windows failed", failed, len(pending))
	}
	return sum, nil
}

func (s *Service) runWindowWithRetry(ctx context.Context, ad domain.SourceAdapter, ref domain.EntityRef, w domain.Window, collection string) (domain.BatchResult, error) {
	attempts := max(s.Cfg.MaxRetries, 1)
	base := s.Cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var last error
	for i := range attempts {
		res, err := s.runWindow(ctx, ad, ref, w, collection)
		if err == nil {
			return res, nil
		}
		last = err

		// stop early on non-retryable errors
		if !perr.Retryable(err) && perr.CodeOf(err) != perr.ErrorCodeUnavailable {
			return res, last
		}
		if i == attempts-1 {
			break
		}

		// exponential backoff with jitter, cap at 30s
		j := min(base<<i, 30*time.Second)
		if h := j / 2; h > 0 {
			j = h + time.Duration(rand.Int63n(int64(h)))
		}
		if se := sleepCtx(ctx, j); se != nil {
			return res, se
		}
	}
	return domain.BatchResult{}, last
}

func (s *Service) runWindow(ctx context.Context, ad domain.SourceAdapter, ref domain.EntityRef, w domain.Window, collection string) (domain.BatchResult, error) {
	if s.Lease != nil && s.Cfg.EnableLeases {
		var res domain.BatchResult
		err := s.Lease(ctx, ref, w.Start, func(ctx context.Context) error {
			var e error
			res, e = s.runWindowUnlocked(ctx, ad, ref, w, collection)
			return e
		})
		if errors.Is(err, guardrails.ErrLeaseHeld) {
			// another worker owns the window, clean skip
			return domain.BatchResult{}, nil
		}
		return res, err
	}
	return s.runWindowUnlocked(ctx, ad, ref, w, collection)
}

func (s *Service) runWindowUnlocked(ctx context.Context, ad domain.SourceAdapter, ref domain.EntityRef, w domain.Window, collection string) (res domain.BatchResult, retErr error) {
	tos := guardrails.Timeouts{
		Fetch: s.Cfg.FetchTimeout,
		DB:    s.Cfg.DBTimeout,
	}
	wCtx, wCancel := guardrails.WithWindow(ctx, tos)
	defer wCancel()

	startWall := time.Now()
	var fetchMS, dbMS int
	var fetched, normalized int

	// start checkpoint, best effort
	{
		dbCtx, dbCancel := guardrails.ForDB(wCtx, tos)
		_ = s.DB.Tx(dbCtx, func(q repokit.Queryer) error {
			return s.Binder.Bind(q).StartWindow(dbCtx, ref, w)
		})
		dbCancel()
	}

	// finish checkpoint even on error; detached from ctx so a cancelled
	// run still records where it stopped
	defer func() {
		status, errText := "ok", ""
		if retErr != nil {
			status, errText = "error", retErr.Error()
		}
		finCtx, finCancel := guardrails.ForDB(context.WithoutCancel(wCtx), tos)
		_ = s.DB.Tx(finCtx, func(q repokit.Queryer) error {
			return s.Binder.Bind(q).FinishWindow(finCtx, ref, w, domain.WindowFinish{
				Status:     status,
				Fetched:    fetched,
				Normalized: normalized,
				Inserted:   res.Inserted,
				Updated:    res.Updated,
				Skipped:    res.Skipped,
				Failed:     res.Failed,
				FetchMS:    fetchMS,
				DBMS:       dbMS,
				ElapsedMS:  int(time.Since(startWall).Milliseconds()),
				ErrText:    errText,
			})
		})
		finCancel()
	}()

	// fetch under the provider's semaphore
	sem := s.providerSem(ref.Source)
	select {
	case <-wCtx.Done():
		retErr = wCtx.Err()
		return
	case sem <- struct{}{}:
	}
	t0 := time.Now()
	fetchCtx, fetchCancel := guardrails.ForFetch(wCtx, tos)
	items, err := ad.Fetch(fetchCtx, ref.EntityKey, w)
	fetchCancel()
	<-sem
	fetchMS = int(time.Since(t0).Milliseconds())
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			// provider has nothing for this window, that is a clean finish
			return
		}
		retErr = err
		return
	}
	fetched = len(items)

	recs := make([]domain.Record, 0, len(items))
	for _, it := range items {
		rec, err := ad.Normalize(ref.EntityKey, it)
		if err != nil {
			// record-level: count it, keep the window going
			res.Failed++
			res.Failures = append(res.Failures, domain.RecordFailure{
				Index:     -1,
				EntityKey: ref.EntityKey,
				Err:       err,
			})
			continue
		}
		if rec.Source == "" {
			rec.Source = ad.Name()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		recs = append(recs, rec)
	}
	normalized = len(recs)

	// writes run detached from run cancellation so an in-flight batch
	// always completes; new fetches stop at the loop above
	t1 := time.Now()
	dbCtx, dbCancel := guardrails.ForDB(context.WithoutCancel(wCtx), tos)
	applied, err := s.Coord.Apply(dbCtx, recs, collection)
	dbCancel()
	dbMS = int(time.Since(t1).Milliseconds())
	res.Add(applied)
	if err != nil {
		retErr = err
		return
	}
	return
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ domain.RunnerPort = (*Service)(nil)
