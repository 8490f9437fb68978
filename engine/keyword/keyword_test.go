package keyword

import (
	"context"
	"testing"
	"time"

	"github.com/CourseForgeAI/courseforge-mvp/engine/semantic"
)

func testDocs() []Doc {
	now := time.Now()
	return []Doc{
		{ID: "p1", DocID: "doc-a", CourseID: "course-1", ResourceID: "res-1", Language: "en",
			Text: "Photosynthesis converts sunlight into chemical energy inside chloroplasts.", QualityScore: 80, CreatedAt: now},
		{ID: "p2", DocID: "doc-a", CourseID: "course-1", ResourceID: "res-1", Language: "en",
			Text: "Chlorophyll pigments absorb light most strongly in the blue band.", QualityScore: 75, CreatedAt: now},
		{ID: "p3", DocID: "doc-b", CourseID: "course-2", ResourceID: "res-2", Language: "en",
			Text: "Glycolysis breaks down glucose and yields pyruvate molecules.", QualityScore: 90, CreatedAt: now},
	}
}

func openWithDocs(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	if err := idx.IndexDocs(context.Background(), testDocs()); err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestSearchFindsExactTerms(t *testing.T) {
	idx := openWithDocs(t)
	hits, err := idx.Search(context.Background(), "chlorophyll", semantic.Filters{}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits for indexed term")
	}
	if hits[0].ID != "p2" {
		t.Errorf("top hit = %s, want p2", hits[0].ID)
	}
	if hits[0].Text == "" {
		t.Error("expected stored text on hit")
	}
}

func TestSearchCourseFilter(t *testing.T) {
	idx := openWithDocs(t)
	hits, err := idx.Search(context.Background(), "glucose", semantic.Filters{CourseID: "course-1"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("course-1 filter must exclude course-2 docs, got %d hits", len(hits))
	}

	hits, err = idx.Search(context.Background(), "glucose", semantic.Filters{CourseID: "course-2"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "p3" {
		t.Errorf("expected exactly p3, got %+v", hits)
	}
}

func TestSearchQualityFilter(t *testing.T) {
	idx := openWithDocs(t)
	hits, err := idx.Search(context.Background(), "pyruvate glucose chlorophyll sunlight", semantic.Filters{MinQuality: 85}, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.ID != "p3" {
			t.Errorf("hit %s should have been excluded by quality filter", h.ID)
		}
	}
}

func TestDeleteByDocument(t *testing.T) {
	idx := openWithDocs(t)
	deleted, err := idx.DeleteByDocument(context.Background(), "doc-a")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("remaining docs = %d, want 1", n)
	}
}
