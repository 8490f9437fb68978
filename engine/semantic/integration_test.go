//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testIndex(t *testing.T, collection string) *Index {
	t.Helper()
	x, err := New(qdrantAddr(), nil)
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	if _, err := x.EnsureCollection(context.Background(), collection, CollectionConfig{VectorSize: 4, SparseEnabled: true}); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	t.Cleanup(func() {
		x.DeleteCollection(context.Background(), collection)
		x.Close()
	})
	return x
}

func TestQdrant_InsertSearchRoundTrip(t *testing.T) {
	x := testIndex(t, "test_roundtrip")
	ctx := context.Background()

	entries := []Entry{
		{ID: "a1111111-1111-1111-1111-111111111111", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{PayloadText: "interfaces in go", PayloadDocID: "d1"}},
		{ID: "b2222222-2222-2222-2222-222222222222", Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{PayloadText: "goroutine scheduling", PayloadDocID: "d2"}},
		{ID: "c3333333-3333-3333-3333-333333333333", Vector: []float32{0.9, 0.1, 0, 0}, Payload: map[string]any{PayloadText: "interface satisfaction", PayloadDocID: "d3"}},
	}
	if n, err := x.Insert(ctx, "test_roundtrip", entries, DefaultInsertOptions()); err != nil || n != 3 {
		t.Fatalf("Insert: n=%d err=%v", n, err)
	}

	// Searching with an inserted vector must return its own point first.
	for _, e := range entries {
		hits, err := x.Search(ctx, "test_roundtrip", e.Vector, Filters{}, 3)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) == 0 || hits[0].ID != e.ID {
			t.Fatalf("top hit for %s = %+v", e.ID, hits)
		}
	}
}

func TestQdrant_HybridQuery(t *testing.T) {
	x := testIndex(t, "test_hybrid")
	ctx := context.Background()

	entries := []Entry{
		{
			ID:      "a1111111-1111-1111-1111-111111111111",
			Vector:  []float32{1, 0, 0, 0},
			Sparse:  &domain.SparseVector{Indices: []uint32{3, 17}, Values: []float32{0.9, 0.4}},
			Payload: map[string]any{PayloadText: "channels and select", PayloadDocID: "d1", PayloadCourseID: "go-101"},
		},
		{
			ID:      "b2222222-2222-2222-2222-222222222222",
			Vector:  []float32{0, 1, 0, 0},
			Sparse:  &domain.SparseVector{Indices: []uint32{8}, Values: []float32{0.7}},
			Payload: map[string]any{PayloadText: "error wrapping", PayloadDocID: "d2", PayloadCourseID: "go-101"},
		},
	}
	if _, err := x.Insert(ctx, "test_hybrid", entries, DefaultInsertOptions()); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	hits, st, err := x.HybridSearch(ctx, "test_hybrid",
		[]float32{1, 0, 0, 0},
		&domain.SparseVector{Indices: []uint32{3}, Values: []float32{1}},
		Filters{CourseID: "go-101"}, 5)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if st != domain.SearchHybrid {
		t.Fatalf("searchType = %s", st)
	}
	if len(hits) == 0 || hits[0].ID != entries[0].ID {
		t.Fatalf("hits = %+v", hits)
	}

	// Dense-only input runs the single branch and reports it.
	_, st, err = x.HybridSearch(ctx, "test_hybrid", []float32{1, 0, 0, 0}, nil, Filters{}, 5)
	if err != nil {
		t.Fatalf("HybridSearch dense-only: %v", err)
	}
	if st != domain.SearchSemantic {
		t.Fatalf("dense-only searchType = %s", st)
	}
}

func TestQdrant_DeleteByDocument(t *testing.T) {
	x := testIndex(t, "test_delete_doc")
	ctx := context.Background()

	entries := []Entry{
		{ID: "d1111111-1111-1111-1111-111111111111", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{PayloadText: "to delete", PayloadDocID: "del-1"}},
		{ID: "d2222222-2222-2222-2222-222222222222", Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{PayloadText: "to keep", PayloadDocID: "keep-1"}},
	}
	if _, err := x.Insert(ctx, "test_delete_doc", entries, DefaultInsertOptions()); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := x.DeleteByDocument(ctx, "test_delete_doc", "del-1"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}

	n, err := x.Count(ctx, "test_delete_doc")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count after delete = %d, want 1", n)
	}
}
