// Package service implements the blob offload manager over the store's
// blob seam
package service

import (
	"context"

	perr "tidemark/internal/platform/errors"
	"tidemark/internal/platform/store"
	"tidemark/internal/services/offload/domain"
)

// Service stores raw payloads in the blob bucket and hands back
// references. Staleness decisions live with the caller; by the time a
// payload reaches Offload it is being written exactly once.
type Service struct {
	Blobs store.Blobs
}

// New constructs the offload service
func New(blobs store.Blobs) *Service {
	if blobs == nil {
		panic("offload.Service requires a non nil Blobs seam")
	}
	return &Service{Blobs: blobs}
}

// Offload implements domain.Port
func (s *Service) Offload(ctx context.Context, payload []byte, meta domain.Meta) (string, error) {
	if len(payload) == 0 {
		return "", perr.InvalidArgf("offload: empty payload")
	}
	if meta.Filename == "" {
		return "", perr.InvalidArgf("offload: filename required")
	}
	tags := map[string]string{}
	if meta.EntityKey != "" {
		tags["ticker"] = meta.EntityKey
	}
	if meta.Source != "" {
		tags["source"] = meta.Source
	}
	ref, err := s.Blobs.Put(ctx, meta.Filename, payload, tags)
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeDB, "offload: blob put failed")
	}
	return ref, nil
}

// Fetch implements domain.Port
func (s *Service) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, perr.InvalidArgf("offload: empty ref")
	}
	b, err := s.Blobs.Get(ctx, ref)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDB, "offload: blob get failed")
	}
	return b, nil
}

var _ domain.Port = (*Service)(nil)
