package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tidemark/internal/core/identity"
	perr "tidemark/internal/platform/errors"
	"tidemark/internal/services/ingest/domain"
)

func barRecord(ticker string, ts time.Time, closePrice float64) domain.Record {
	return domain.Record{
		EntityKey:  ticker,
		EntityType: "bars",
		Source:     "alpaca",
		Timestamp:  ts,
		Identity: []identity.Field{
			identity.F("ticker", ticker),
			identity.F("timestamp", ts),
		},
		Features: []identity.Field{
			identity.F("close", closePrice),
		},
		Document: map[string]any{
			"ticker":    ticker,
			"timestamp": ts,
			"close":     closePrice,
		},
	}
}

func TestCoordinator_Apply_InsertThenSkipThenUpdate(t *testing.T) {
	docs := newFakeDocs()
	coord := NewCoordinator(docs, nil, 0)
	ctx := context.Background()
	ts := time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC)

	batch := []domain.Record{
		barRecord("AAPL", ts, 171.0),
		barRecord("AAPL", ts.Add(time.Minute), 171.2),
	}

	res, err := coord.Apply(ctx, batch, "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Inserted != 2 || res.Updated != 0 || res.Skipped != 0 || res.Failed != 0 {
		t.Fatalf("first apply: %+v", res)
	}
	if docs.count("rawPriceColl") != 2 {
		t.Fatalf("expected 2 docs in rawPriceColl, got %d", docs.count("rawPriceColl"))
	}

	// identical re-ingest is a guaranteed no-op
	res, err = coord.Apply(ctx, batch, "")
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if res.Skipped != 2 || res.Inserted != 0 || res.Updated != 0 {
		t.Fatalf("re-apply should skip everything: %+v", res)
	}

	// one changed feature value flips exactly that record to updated
	batch[1] = barRecord("AAPL", ts.Add(time.Minute), 171.21)
	res, err = coord.Apply(ctx, batch, "")
	if err != nil {
		t.Fatalf("third apply: %v", err)
	}
	if res.Skipped != 1 || res.Updated != 1 {
		t.Fatalf("changed fingerprint should update: %+v", res)
	}
}

func TestCoordinator_Apply_RecordFailureDoesNotPoisonBatch(t *testing.T) {
	docs := newFakeDocs()
	coord := NewCoordinator(docs, nil, 0)
	ts := time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC)

	batch := []domain.Record{
		barRecord("AAPL", ts, 1),
		barRecord("AAPL", ts.Add(time.Minute), 2),
		barRecord("AAPL", ts.Add(2*time.Minute), 3),
	}
	// record 1 loses its timestamp, the classic one-bad-row batch
	batch[1].Identity = []identity.Field{
		identity.F("ticker", "AAPL"),
		identity.F("timestamp", time.Time{}),
	}

	res, err := coord.Apply(context.Background(), batch, "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Inserted != 2 || res.Failed != 1 {
		t.Fatalf("expected 2 inserted 1 failed: %+v", res)
	}
	if len(res.Failures) != 1 || res.Failures[0].Index != 1 {
		t.Fatalf("failure should name record 1: %+v", res.Failures)
	}
	if !identity.IsMissingIdentityField(res.Failures[0].Err) {
		t.Fatalf("failure should be a missing identity field: %v", res.Failures[0].Err)
	}
	e, _ := perr.As(res.Failures[0].Err)
	if e.Field() != "timestamp" {
		t.Fatalf("failure should name the field, got %q", e.Field())
	}
}

func TestCoordinator_Apply_RoutesStatementFanOut(t *testing.T) {
	docs := newFakeDocs()
	coord := NewCoordinator(docs, nil, 0)

	stmt := func(period string, year int) domain.Record {
		return domain.Record{
			EntityKey:   "MSFT",
			EntityType:  "income_statement",
			Periodicity: period,
			Source:      "fmp",
			Identity: []identity.Field{
				identity.F("ticker", "MSFT"),
				identity.F("period", period),
				identity.F("fiscal_year", year),
				identity.F("link", "https://sec.example/msft"),
			},
			Features: []identity.Field{identity.F("revenue", 1000)},
			Document: map[string]any{"ticker": "MSFT", "period": period},
		}
	}

	res, err := coord.Apply(context.Background(), []domain.Record{
		stmt("annual", 2023),
		stmt("quarter", 2023),
	}, "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("expected 2 inserts: %+v", res)
	}
	if docs.count("fs_annualIncomeStmt") != 1 || docs.count("fs_quarterIncomeStmt") != 1 {
		t.Fatalf("fan-out routed wrong: annual=%d quarter=%d",
			docs.count("fs_annualIncomeStmt"), docs.count("fs_quarterIncomeStmt"))
	}
}

func TestCoordinator_Apply_CollectionOverride(t *testing.T) {
	docs := newFakeDocs()
	coord := NewCoordinator(docs, nil, 0)
	ts := time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC)

	_, err := coord.Apply(context.Background(), []domain.Record{barRecord("AAPL", ts, 1)}, "replayPriceColl")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if docs.count("replayPriceColl") != 1 || docs.count("rawPriceColl") != 0 {
		t.Fatal("override collection was not honored")
	}
}

func TestCoordinator_Apply_UnroutableFailsClosed(t *testing.T) {
	docs := newFakeDocs()
	coord := NewCoordinator(docs, nil, 0)
	ts := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)

	rec := barRecord("AAPL", ts, 1)
	rec.EntityType = "dividends"

	res, err := coord.Apply(context.Background(), []domain.Record{rec}, "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Failed != 1 || len(res.Failures) != 1 {
		t.Fatalf("unroutable record must fail: %+v", res)
	}
	if !perr.IsCode(res.Failures[0].Err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("expected invalid-argument, got %v", res.Failures[0].Err)
	}
	if len(docs.bulkCalls) != 0 {
		t.Fatal("nothing should have been written")
	}
}

func TestCoordinator_Apply_OffloadExactlyOnce(t *testing.T) {
	docs := newFakeDocs()
	off := &fakeOffload{}
	coord := NewCoordinator(docs, off, 0)
	ctx := context.Background()

	news := func(body string) domain.Record {
		return domain.Record{
			EntityKey:  "AAPL",
			EntityType: "news",
			Source:     "fmp",
			Identity:   []identity.Field{identity.F("url", "https://example.com/a1")},
			Features: []identity.Field{
				identity.F("headline", "apple does a thing"),
				identity.F("body", body),
			},
			Document: map[string]any{"ticker": "AAPL", "url": "https://example.com/a1"},
			Raw:      []byte(body),
		}
	}

	// first ingest offloads exactly one blob
	res, err := coord.Apply(ctx, []domain.Record{news("v1")}, "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Inserted != 1 || off.count() != 1 {
		t.Fatalf("first ingest: res=%+v puts=%d", res, off.count())
	}
	if off.last.Filename != "https://example.com/a1" || off.last.EntityKey != "AAPL" {
		t.Fatalf("offload meta wrong: %+v", off.last)
	}

	// unchanged re-ingest stores zero new blobs
	res, err = coord.Apply(ctx, []domain.Record{news("v1")}, "")
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if res.Skipped != 1 || off.count() != 1 {
		t.Fatalf("no-op re-ingest must not offload: res=%+v puts=%d", res, off.count())
	}

	// changed payload produces exactly one more
	res, err = coord.Apply(ctx, []domain.Record{news("v2")}, "")
	if err != nil {
		t.Fatalf("changed apply: %v", err)
	}
	if res.Updated != 1 || off.count() != 2 {
		t.Fatalf("changed payload must offload once: res=%+v puts=%d", res, off.count())
	}
}

func TestCoordinator_Apply_SplitsOversizeBatches(t *testing.T) {
	docs := newFakeDocs()
	coord := NewCoordinator(docs, nil, 2)
	ts := time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)

	var batch []domain.Record
	for i := range 5 {
		batch = append(batch, barRecord("AAPL", ts.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	res, err := coord.Apply(context.Background(), batch, "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Inserted != 5 {
		t.Fatalf("expected 5 inserts: %+v", res)
	}
	if got := docs.calls("rawPriceColl"); got != 3 {
		t.Fatalf("expected 3 bulk calls for MaxBatch=2, got %d", got)
	}
}

func TestCoordinator_Apply_StoreUnavailableFailsBatch(t *testing.T) {
	docs := newFakeDocs()
	docs.failAll = errors.New("server selection error")
	coord := NewCoordinator(docs, nil, 0)
	ts := time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)

	_, err := coord.Apply(context.Background(), []domain.Record{barRecord("AAPL", ts, 1)}, "")
	if err == nil {
		t.Fatal("store failure must fail the batch")
	}
	if !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestCoordinator_Apply_PerOpFailureIsRecordLevel(t *testing.T) {
	docs := newFakeDocs()
	coord := NewCoordinator(docs, nil, 0)
	ts := time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)

	bad := barRecord("AAPL", ts, 1)
	id, _, err := identity.Resolve(bad.Identity, bad.Features)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	docs.failIdentity[id] = errors.New("document too large")

	res, err := coord.Apply(context.Background(), []domain.Record{
		bad,
		barRecord("AAPL", ts.Add(time.Minute), 2),
	}, "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Inserted != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 inserted 1 failed: %+v", res)
	}
	if res.Failures[0].Index != 0 {
		t.Fatalf("failure should name record 0: %+v", res.Failures[0])
	}
}
