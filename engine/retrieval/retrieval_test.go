package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/engine/keyword"
	"github.com/CourseForgeAI/courseforge-mvp/engine/semantic"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/rerank"
)

type fakeVector struct {
	hits  []semantic.Hit
	count uint64
	calls int
	err   error
}

func (f *fakeVector) Search(_ context.Context, _ string, _ []float32, _ semantic.Filters, topK int) ([]semantic.Hit, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeVector) Count(context.Context, string) (uint64, error) { return f.count, nil }

type fakeKeyword struct {
	hits  []keyword.Hit
	count uint64
	calls int
	err   error
}

func (f *fakeKeyword) Search(_ context.Context, _ string, _ semantic.Filters, topK int) ([]keyword.Hit, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeKeyword) DocCount() (uint64, error) { return f.count, nil }

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

type fakeReranker struct {
	rankings []rerank.Ranking
	err      error
	calls    int
}

func (f *fakeReranker) Rerank(context.Context, string, []string, int) ([]rerank.Ranking, error) {
	f.calls++
	return f.rankings, f.err
}

func newTestRetriever(vec *fakeVector, kw *fakeKeyword, rr rerank.Reranker) (*Retriever, *fakeEmbedder) {
	emb := &fakeEmbedder{}
	r := New(DefaultOptions("chunks"), Deps{
		Vector:   vec,
		Keyword:  kw,
		Embedder: emb,
		Reranker: rr,
	})
	return r, emb
}

func vecHits(ids ...string) []semantic.Hit {
	out := make([]semantic.Hit, len(ids))
	for i, id := range ids {
		out[i] = semantic.Hit{ID: id, Score: float32(len(ids) - i), Text: "text " + id}
	}
	return out
}

func kwHits(ids ...string) []keyword.Hit {
	out := make([]keyword.Hit, len(ids))
	for i, id := range ids {
		out[i] = keyword.Hit{ID: id, Score: float64(len(ids) - i), Text: "text " + id}
	}
	return out
}

func TestHybridFusesByReciprocalRank(t *testing.T) {
	vec := &fakeVector{hits: vecHits("x", "y", "z"), count: 3}
	kw := &fakeKeyword{hits: kwHits("y", "w"), count: 2}
	r, _ := newTestRetriever(vec, kw, nil)

	resp, err := r.Retrieve(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SearchType != domain.SearchHybrid {
		t.Fatalf("searchType = %s", resp.SearchType)
	}
	// y appears in both lists and must outrank every single-list result.
	want := []string{"y", "x", "w", "z"}
	if len(resp.Results) != len(want) {
		t.Fatalf("got %d results", len(resp.Results))
	}
	for i, id := range want {
		if resp.Results[i].ID != id {
			t.Fatalf("result %d = %s, want %s", i, resp.Results[i].ID, id)
		}
		if resp.Results[i].SearchType != domain.SearchHybrid {
			t.Fatalf("result %d searchType = %s", i, resp.Results[i].SearchType)
		}
	}
}

func TestCacheHitSkipsEmbedding(t *testing.T) {
	vec := &fakeVector{hits: vecHits("a"), count: 1}
	kw := &fakeKeyword{hits: kwHits("a"), count: 1}
	r, emb := newTestRetriever(vec, kw, nil)

	q := Query{Text: "same query", CourseID: "go-101"}
	first, err := r.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Fatal("first call should not be cached")
	}

	second, err := r.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Fatal("second identical call should hit the cache")
	}
	if emb.calls != 1 {
		t.Fatalf("embedder called %d times, want 1", emb.calls)
	}
	if vec.calls != 1 || kw.calls != 1 {
		t.Fatalf("index calls = (%d, %d), want (1, 1)", vec.calls, kw.calls)
	}
}

func TestCacheKeyDistinguishesFilters(t *testing.T) {
	vec := &fakeVector{hits: vecHits("a"), count: 1}
	kw := &fakeKeyword{hits: kwHits("a"), count: 1}
	r, emb := newTestRetriever(vec, kw, nil)

	r.Retrieve(context.Background(), Query{Text: "q", CourseID: "go-101"})
	r.Retrieve(context.Background(), Query{Text: "q", CourseID: "py-201"})
	if emb.calls != 2 {
		t.Fatalf("different filters shared a cache entry (%d embed calls)", emb.calls)
	}
}

func TestCacheExpiry(t *testing.T) {
	vec := &fakeVector{hits: vecHits("a"), count: 1}
	kw := &fakeKeyword{hits: kwHits("a"), count: 1}
	r, emb := newTestRetriever(vec, kw, nil)

	base := time.Now()
	r.cache.now = func() time.Time { return base }
	r.Retrieve(context.Background(), Query{Text: "q"})

	r.cache.now = func() time.Time { return base.Add(6 * time.Minute) }
	resp, err := r.Retrieve(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Cached {
		t.Fatal("expired entry served from cache")
	}
	if emb.calls != 2 {
		t.Fatalf("embedder called %d times, want 2", emb.calls)
	}
}

func TestClearCache(t *testing.T) {
	vec := &fakeVector{hits: vecHits("a"), count: 1}
	kw := &fakeKeyword{hits: kwHits("a"), count: 1}
	r, emb := newTestRetriever(vec, kw, nil)

	r.Retrieve(context.Background(), Query{Text: "q"})
	r.ClearCache()
	resp, _ := r.Retrieve(context.Background(), Query{Text: "q"})
	if resp.Cached || emb.calls != 2 {
		t.Fatalf("cached=%v embeds=%d after ClearCache", resp.Cached, emb.calls)
	}
}

func TestNoDocumentsIngested(t *testing.T) {
	r, _ := newTestRetriever(&fakeVector{}, &fakeKeyword{}, nil)

	_, err := r.Retrieve(context.Background(), Query{Text: "q"})
	if !errors.Is(err, domain.ErrNoDocuments) {
		t.Fatalf("err = %v, want ErrNoDocuments", err)
	}
}

func TestSemanticModeRequiresVectorIndex(t *testing.T) {
	r, _ := newTestRetriever(&fakeVector{}, &fakeKeyword{hits: kwHits("a"), count: 1}, nil)

	_, err := r.Retrieve(context.Background(), Query{Text: "q", Mode: domain.SearchSemantic})
	if domain.KindOf(err) != domain.KindNoIndex {
		t.Fatalf("kind = %v", domain.KindOf(err))
	}
}

func TestHybridDegradesToPopulatedIndex(t *testing.T) {
	vec := &fakeVector{}
	kw := &fakeKeyword{hits: kwHits("a", "b"), count: 2}
	r, emb := newTestRetriever(vec, kw, nil)

	resp, err := r.Retrieve(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SearchType != domain.SearchKeyword {
		t.Fatalf("searchType = %s, want keyword", resp.SearchType)
	}
	// The keyword path never needs a query embedding.
	if emb.calls != 0 {
		t.Fatalf("embedder called %d times in keyword-only path", emb.calls)
	}
}

func TestHybridServesVectorWhenKeywordFails(t *testing.T) {
	vec := &fakeVector{hits: vecHits("a", "b"), count: 2}
	kw := &fakeKeyword{count: 2, err: errors.New("keyword index i/o error")}
	r, _ := newTestRetriever(vec, kw, nil)

	resp, err := r.Retrieve(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("branch failure propagated: %v", err)
	}
	if resp.SearchType != domain.SearchSemantic {
		t.Fatalf("searchType = %s, want semantic", resp.SearchType)
	}
	if len(resp.Results) != 2 || resp.Results[0].ID != "a" || resp.Results[1].ID != "b" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Results[0].SearchType != domain.SearchSemantic {
		t.Fatalf("result searchType = %s", resp.Results[0].SearchType)
	}
}

func TestHybridServesKeywordWhenVectorFails(t *testing.T) {
	vec := &fakeVector{count: 2, err: errors.New("qdrant unavailable")}
	kw := &fakeKeyword{hits: kwHits("a", "b"), count: 2}
	r, _ := newTestRetriever(vec, kw, nil)

	resp, err := r.Retrieve(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("branch failure propagated: %v", err)
	}
	if resp.SearchType != domain.SearchKeyword {
		t.Fatalf("searchType = %s, want keyword", resp.SearchType)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %+v", resp.Results)
	}
}

func TestHybridFailsWhenBothBranchesFail(t *testing.T) {
	vecErr := errors.New("qdrant unavailable")
	vec := &fakeVector{count: 2, err: vecErr}
	kw := &fakeKeyword{count: 2, err: errors.New("keyword index i/o error")}
	r, _ := newTestRetriever(vec, kw, nil)

	_, err := r.Retrieve(context.Background(), Query{Text: "q"})
	if !errors.Is(err, vecErr) {
		t.Fatalf("err = %v, want the vector branch error", err)
	}
}

func TestRerankReorders(t *testing.T) {
	vec := &fakeVector{hits: vecHits("a", "b", "c"), count: 3}
	rr := &fakeReranker{rankings: []rerank.Ranking{
		{Index: 2, Score: 0.95},
		{Index: 0, Score: 0.4},
	}}
	r, _ := newTestRetriever(vec, &fakeKeyword{}, rr)

	resp, err := r.Retrieve(context.Background(), Query{Text: "q", Mode: domain.SearchSemantic, EnableRerank: true})
	if err != nil {
		t.Fatal(err)
	}
	if rr.calls != 1 {
		t.Fatalf("reranker called %d times", rr.calls)
	}
	if len(resp.Results) != 2 || resp.Results[0].ID != "c" || resp.Results[1].ID != "a" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Results[0].Score != 0.95 {
		t.Fatalf("score not taken from reranker: %v", resp.Results[0].Score)
	}
}

func TestRerankSkippedForSingleCandidate(t *testing.T) {
	vec := &fakeVector{hits: vecHits("only"), count: 1}
	rr := &fakeReranker{}
	r, _ := newTestRetriever(vec, &fakeKeyword{}, rr)

	resp, err := r.Retrieve(context.Background(), Query{Text: "q", Mode: domain.SearchSemantic, EnableRerank: true})
	if err != nil {
		t.Fatal(err)
	}
	if rr.calls != 0 {
		t.Fatal("reranker should not be called for a single candidate")
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "only" {
		t.Fatalf("results = %+v", resp.Results)
	}
}

func TestRerankDropsOutOfRangeIndices(t *testing.T) {
	vec := &fakeVector{hits: vecHits("a", "b", "c"), count: 3}
	rr := &fakeReranker{rankings: []rerank.Ranking{
		{Index: 7, Score: 0.99},
		{Index: 1, Score: 0.8},
		{Index: -1, Score: 0.7},
	}}
	r, _ := newTestRetriever(vec, &fakeKeyword{}, rr)

	resp, err := r.Retrieve(context.Background(), Query{Text: "q", Mode: domain.SearchSemantic, EnableRerank: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "b" {
		t.Fatalf("results = %+v", resp.Results)
	}
}

func TestRerankFailureFallsBack(t *testing.T) {
	vec := &fakeVector{hits: vecHits("a", "b", "c"), count: 3}
	rr := &fakeReranker{err: errors.New("rerank endpoint down")}
	r, _ := newTestRetriever(vec, &fakeKeyword{}, rr)

	resp, err := r.Retrieve(context.Background(), Query{Text: "q", Mode: domain.SearchSemantic, EnableRerank: true, TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	// Original ordering, truncated to topK.
	if len(resp.Results) != 2 || resp.Results[0].ID != "a" || resp.Results[1].ID != "b" {
		t.Fatalf("results = %+v", resp.Results)
	}
}
