package service

import (
	"context"
	"fmt"
	"testing"

	"tidemark/internal/services/offload/domain"
)

// fakeBlobs is an in-memory append-only blob store
type fakeBlobs struct {
	puts  int
	data  map[string][]byte
	tags  map[string]map[string]string
	names map[string]string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		data:  map[string][]byte{},
		tags:  map[string]map[string]string{},
		names: map[string]string{},
	}
}

func (f *fakeBlobs) Put(_ context.Context, filename string, data []byte, tags map[string]string) (string, error) {
	f.puts++
	id := fmt.Sprintf("blob-%d", f.puts)
	f.data[id] = data
	f.tags[id] = tags
	f.names[id] = filename
	return id, nil
}

func (f *fakeBlobs) Get(_ context.Context, id string) ([]byte, error) {
	b, ok := f.data[id]
	if !ok {
		return nil, fmt.Errorf("no blob %s", id)
	}
	return b, nil
}

func TestOffload_RoundTripAndTags(t *testing.T) {
	blobs := newFakeBlobs()
	svc := New(blobs)

	payload := []byte(`{"title":"q1 results"}`)
	ref, err := svc.Offload(context.Background(), payload, domain.Meta{
		Filename:  "https://example.com/q1",
		EntityKey: "AAPL",
		Source:    "fmp",
	})
	if err != nil {
		t.Fatalf("offload: %v", err)
	}
	if ref == "" {
		t.Fatal("empty ref")
	}

	got, err := svc.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("round trip mismatch: %q", got)
	}

	if blobs.names[ref] != "https://example.com/q1" {
		t.Fatalf("filename not carried: %q", blobs.names[ref])
	}
	if blobs.tags[ref]["ticker"] != "AAPL" || blobs.tags[ref]["source"] != "fmp" {
		t.Fatalf("tags not carried: %v", blobs.tags[ref])
	}
}

func TestOffload_RejectsBadInput(t *testing.T) {
	svc := New(newFakeBlobs())

	if _, err := svc.Offload(context.Background(), nil, domain.Meta{Filename: "x"}); err == nil {
		t.Fatal("empty payload must fail")
	}
	if _, err := svc.Offload(context.Background(), []byte("x"), domain.Meta{}); err == nil {
		t.Fatal("missing filename must fail")
	}
	if _, err := svc.Fetch(context.Background(), ""); err == nil {
		t.Fatal("empty ref must fail")
	}
}
