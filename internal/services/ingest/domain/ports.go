package domain

import (
	"context"
	"time"
)

// RunnerPort is the public port exposed by the ingest module.
type RunnerPort interface {
	// Run plans windows for each ticker in the request and processes
	// them, returning per-ticker outcomes. A ticker failure does not
	// fail the run.
	Run(ctx context.Context, req RunRequest) (RunReport, error)

	// RunResume drains pending and errored windows left by earlier
	// runs, regardless of request bounds.
	RunResume(ctx context.Context) error
}

// ApplierPort applies normalized records to the document store.
// Stream callers use this directly, bypassing window planning.
type ApplierPort interface {
	Apply(ctx context.Context, batch []Record, collection string) (BatchResult, error)
}

// CheckpointRepo persists per-window progress for resume.
type CheckpointRepo interface {
	// PreseedWindows registers planned windows as pending, skipping
	// ones already present. Returns how many were newly seeded.
	PreseedWindows(ctx context.Context, ref EntityRef, ws []Window) (int, error)

	// PendingWindows lists this stream's pending and errored windows
	// in chronological order.
	PendingWindows(ctx context.Context, ref EntityRef) ([]Window, error)

	// PendingRefs lists every stream that still has unfinished windows.
	PendingRefs(ctx context.Context) ([]EntityRef, error)

	// StartWindow marks a window running (idempotent).
	StartWindow(ctx context.Context, ref EntityRef, w Window) error

	// FinishWindow records the terminal state of a window.
	FinishWindow(ctx context.Context, ref EntityRef, w Window, fin WindowFinish) error
}

// AdapterKey builds the registry key for a source and entity type
func AdapterKey(source, entityType string) string { return source + "/" + entityType }

// SourceAdapter pulls raw items from a provider and normalizes them.
// Fetch and Normalize are split so record-level normalization failures
// can be collected without discarding the rest of the window.
type SourceAdapter interface {
	// Name is the provider name recorded on every emitted record.
	Name() string

	// Fetch returns the provider's raw items for one entity and window.
	Fetch(ctx context.Context, entityKey string, w Window) ([]RawItem, error)

	// Normalize converts one raw item to a canonical record.
	Normalize(entityKey string, item RawItem) (Record, error)
}

// Lease serializes window processing across workers. Implementations
// return ErrLeaseHeld-style errors when the window is already claimed.
type Lease func(ctx context.Context, ref EntityRef, start time.Time, do func(context.Context) error) error
