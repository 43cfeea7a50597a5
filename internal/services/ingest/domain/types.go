// Package domain holds the core types and ports for the ingestion engine
package domain

import (
	"time"

	"tidemark/internal/core/identity"
)

// Window is a half-open [Start, End) time range a task ingests.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// EntityRef identifies one logical ingestion stream: one entity pulled
// from one source as one entity type. Windows checkpoint under this key.
type EntityRef struct {
	EntityKey  string // ticker or equivalent
	Source     string
	EntityType string
}

// RawItem is one provider item before normalization. Raw holds the
// provider's original content when the adapter wants it offloaded.
type RawItem struct {
	Payload     map[string]any
	Periodicity string // set by statement adapters during fan-out
	Raw         []byte
}

// Record is the canonical normalized form every adapter emits.
// Identity and Features are ordered; their order is part of the
// identity and fingerprint contracts.
type Record struct {
	EntityKey   string
	EntityType  string
	Periodicity string
	Source      string
	Timestamp   time.Time

	Identity []identity.Field
	Features []identity.Field

	// Document is the body persisted to the routed collection.
	// unique_id and fingerprint are stamped by the store layer.
	Document map[string]any

	// Raw, when non-nil, is offloaded to the blob store on a real
	// insert or update and referenced from the document.
	Raw []byte

	CreatedAt time.Time
}

// RecordFailure is a record-level failure inside an otherwise
// successful batch.
type RecordFailure struct {
	Index     int
	EntityKey string
	Err       error
}

// BatchResult is the outcome of applying one batch of records.
type BatchResult struct {
	Inserted int
	Updated  int
	Skipped  int // identity already stored with an equal fingerprint
	Failed   int

	Failures []RecordFailure
}

// Add folds another result into r.
func (r *BatchResult) Add(o BatchResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Failures = append(r.Failures, o.Failures...)
}

// Total returns the number of records accounted for.
func (r BatchResult) Total() int { return r.Inserted + r.Updated + r.Skipped + r.Failed }

// WindowFinish records the end state of one processed window.
type WindowFinish struct {
	Status     string // ok or error
	Fetched    int
	Normalized int
	Inserted   int
	Updated    int
	Skipped    int
	Failed     int
	FetchMS    int
	DBMS       int
	ElapsedMS  int
	ErrText    string
}

// RunRequest describes one ingestion run over a set of entities.
type RunRequest struct {
	Tickers    []string
	From, To   time.Time
	Source     string
	EntityType string
	Collection string // optional routing override
}

// TickerReport is the per-entity outcome of a run, in the shape the
// HTTP surface returns.
type TickerReport struct {
	Accepted []string `json:"accepted"`
	Failed   []string `json:"failed"`
}

// RunReport aggregates a whole run.
type RunReport struct {
	Tickers  TickerReport
	Windows  int
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
}

// Total returns the number of records accounted for across the run.
func (r RunReport) Total() int { return r.Inserted + r.Updated + r.Skipped + r.Failed }
