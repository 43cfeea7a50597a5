// Package domain defines the blob offload port
package domain

import "context"

// Meta tags an offloaded payload so it can be traced back to the
// record that owned it.
type Meta struct {
	// Filename is the blob's name in the bucket. News payloads use the
	// article url, matching how downstream tooling looks them up.
	Filename string

	EntityKey string
	Source    string
}

// Port moves large raw payloads out of documents and into the blob
// store. The bucket is append-only; there is no delete or overwrite.
type Port interface {
	// Offload stores the payload and returns an opaque reference for
	// the owning document's content_ref field.
	Offload(ctx context.Context, payload []byte, meta Meta) (string, error)

	// Fetch returns the payload a reference points at.
	Fetch(ctx context.Context, ref string) ([]byte, error)
}
