// Package retrieval answers queries against the two indexes. A query is
// embedded once, dispatched to the vector and keyword indexes according
// to the requested mode, fused by reciprocal rank, optionally reranked,
// and cached.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/engine/keyword"
	"github.com/CourseForgeAI/courseforge-mvp/engine/semantic"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/embed"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/fn"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/metrics"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/rerank"
)

// rrfK dampens the rank contribution in reciprocal rank fusion. Dense
// and sparse scores are not on comparable scales, so fusion goes by rank
// position only.
const rrfK = 60

// VectorSearcher is the slice of the vector index the retriever needs.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, vector []float32, filters semantic.Filters, topK int) ([]semantic.Hit, error)
	Count(ctx context.Context, collection string) (uint64, error)
}

// KeywordSearcher is the slice of the keyword index the retriever needs.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, filters semantic.Filters, topK int) ([]keyword.Hit, error)
	DocCount() (uint64, error)
}

// Query is one retrieval request.
type Query struct {
	Text         string
	CourseID     string
	MinQuality   float64
	Mode         domain.SearchType // defaults to SearchHybrid
	TopK         int               // defaults to Options.TopK
	EnableRerank bool
}

// Response is the outcome of one retrieval request. SearchType reports
// which path actually produced the results, which may be narrower than
// the requested mode when only one index is populated.
type Response struct {
	Results    []domain.SearchResult
	SearchType domain.SearchType
	Filters    semantic.Filters
	Cached     bool
}

// Options tunes the retriever.
type Options struct {
	Collection string
	TopK       int
	CacheTTL   time.Duration
}

// DefaultOptions returns the standard retriever tuning.
func DefaultOptions(collection string) Options {
	return Options{Collection: collection, TopK: 10, CacheTTL: 5 * time.Minute}
}

// Deps are the retriever's collaborators. Reranker may be nil, in which
// case EnableRerank is ignored. Metrics may be nil.
type Deps struct {
	Vector   VectorSearcher
	Keyword  KeywordSearcher
	Embedder embed.Client
	Reranker rerank.Reranker
	Metrics  *metrics.Registry
	Log      *slog.Logger
}

// Retriever serves queries. Safe for concurrent use.
type Retriever struct {
	opts  Options
	deps  Deps
	cache *resultCache
	log   *slog.Logger

	cacheHits      *metrics.Counter
	cacheMisses    *metrics.Counter
	fallbacks      *metrics.Counter
	branchFailures *metrics.Counter
}

// New creates a Retriever.
func New(opts Options, deps Deps) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Retriever{
		opts:           opts,
		deps:           deps,
		cache:          newResultCache(opts.CacheTTL),
		log:            deps.Log,
		cacheHits:      deps.Metrics.Counter("retrieval_cache_hits_total", "Retrieval cache hits"),
		cacheMisses:    deps.Metrics.Counter("retrieval_cache_misses_total", "Retrieval cache misses"),
		fallbacks:      deps.Metrics.Counter("retrieval_rerank_fallbacks_total", "Rerank failures served with original ordering"),
		branchFailures: deps.Metrics.Counter("retrieval_branch_failures_total", "Hybrid branches that failed and were dropped from fusion"),
	}
}

// ClearCache empties the result cache unconditionally.
func (r *Retriever) ClearCache() { r.cache.clear() }

// Retrieve runs one query. A cache hit returns before any embedding or
// index call is made.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Response, error) {
	if q.Mode == "" {
		q.Mode = domain.SearchHybrid
	}
	if q.TopK <= 0 {
		q.TopK = r.opts.TopK
	}
	filters := semantic.Filters{CourseID: q.CourseID, MinQuality: q.MinQuality}

	key := cacheKey(q.Text, filters, q.Mode, q.TopK, q.EnableRerank)
	if resp, ok := r.cache.get(key); ok {
		r.cacheHits.Inc()
		cached := *resp
		cached.Cached = true
		return &cached, nil
	}
	r.cacheMisses.Inc()

	vecReady, kwReady := r.populated(ctx)
	if !vecReady && !kwReady {
		return nil, domain.ErrNoDocuments
	}
	mode, err := effectiveMode(q.Mode, vecReady, kwReady)
	if err != nil {
		return nil, err
	}
	if mode != q.Mode {
		r.log.Warn("retrieve: degrading search mode", "requested", q.Mode, "effective", mode)
	}

	results, mode, err := r.search(ctx, q, mode, filters)
	if err != nil {
		return nil, err
	}

	if q.EnableRerank && r.deps.Reranker != nil && len(results) > 1 {
		results = r.rerankOrFallback(ctx, q.Text, results, q.TopK)
	}
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}

	resp := &Response{Results: results, SearchType: mode, Filters: filters}
	r.cache.put(key, resp)
	return resp, nil
}

// populated reports which indexes hold any documents. Count failures are
// treated as empty so a missing collection reads as "nothing ingested".
func (r *Retriever) populated(ctx context.Context) (vec, kw bool) {
	if n, err := r.deps.Vector.Count(ctx, r.opts.Collection); err == nil && n > 0 {
		vec = true
	}
	if n, err := r.deps.Keyword.DocCount(); err == nil && n > 0 {
		kw = true
	}
	return vec, kw
}

// effectiveMode narrows the requested mode to what the populated indexes
// can serve. Hybrid degrades to the single live branch; an explicit
// single-index mode against an empty index is a caller error.
func effectiveMode(requested domain.SearchType, vecReady, kwReady bool) (domain.SearchType, error) {
	switch requested {
	case domain.SearchSemantic:
		if !vecReady {
			return "", domain.Ef(domain.KindNoIndex, "retrieve", "vector index is empty")
		}
		return domain.SearchSemantic, nil
	case domain.SearchKeyword:
		if !kwReady {
			return "", domain.Ef(domain.KindNoIndex, "retrieve", "keyword index is empty")
		}
		return domain.SearchKeyword, nil
	case domain.SearchHybrid:
		switch {
		case vecReady && kwReady:
			return domain.SearchHybrid, nil
		case vecReady:
			return domain.SearchSemantic, nil
		default:
			return domain.SearchKeyword, nil
		}
	default:
		return "", domain.Ef(domain.KindInvalidContent, "retrieve", "unknown search mode %q", requested)
	}
}

// search runs the query in the given mode. The returned SearchType may
// be narrower than the mode when a hybrid branch fails and the query is
// served from the surviving index alone.
func (r *Retriever) search(ctx context.Context, q Query, mode domain.SearchType, filters semantic.Filters) ([]domain.SearchResult, domain.SearchType, error) {
	// Each branch over-fetches so fusion and reranking have candidates
	// beyond the final cut.
	fetch := q.TopK * 2

	switch mode {
	case domain.SearchSemantic:
		results, err := r.searchVector(ctx, q.Text, filters, q.TopK)
		return results, mode, err
	case domain.SearchKeyword:
		results, err := r.searchKeyword(ctx, q.Text, filters, q.TopK)
		return results, mode, err
	}

	type branch struct {
		name domain.SearchType
		run  func() ([]domain.SearchResult, error)
	}
	branches := []branch{
		{domain.SearchSemantic, func() ([]domain.SearchResult, error) {
			return r.searchVector(ctx, q.Text, filters, fetch)
		}},
		{domain.SearchKeyword, func() ([]domain.SearchResult, error) {
			return r.searchKeyword(ctx, q.Text, filters, fetch)
		}},
	}
	outcomes := fn.ParMapResult(branches, len(branches), func(b branch) fn.Result[[]domain.SearchResult] {
		return fn.FromPair(b.run())
	})

	var lists [][]domain.SearchResult
	var survivors []domain.SearchType
	var firstErr error
	for i, out := range outcomes {
		list, err := out.Unwrap()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			r.branchFailures.Inc()
			r.log.Warn("retrieve: hybrid branch failed, serving the other",
				"branch", branches[i].name, "error", err)
			continue
		}
		lists = append(lists, list)
		survivors = append(survivors, branches[i].name)
	}
	if len(lists) == 0 {
		return nil, "", firstErr
	}
	if len(lists) == 1 {
		return lists[0], survivors[0], nil
	}
	fused := fuse(q.TopK, lists...)
	for i := range fused {
		fused[i].SearchType = domain.SearchHybrid
	}
	return fused, domain.SearchHybrid, nil
}

func (r *Retriever) searchVector(ctx context.Context, query string, filters semantic.Filters, topK int) ([]domain.SearchResult, error) {
	vecs, err := r.deps.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	hits, err := r.deps.Vector.Search(ctx, r.opts.Collection, vecs[0], filters, topK)
	if err != nil {
		return nil, err
	}
	return fn.Map(hits, func(h semantic.Hit) domain.SearchResult {
		return domain.SearchResult{ID: h.ID, Score: float64(h.Score), Text: h.Text, Metadata: h.Meta, SearchType: domain.SearchSemantic}
	}), nil
}

func (r *Retriever) searchKeyword(ctx context.Context, query string, filters semantic.Filters, topK int) ([]domain.SearchResult, error) {
	hits, err := r.deps.Keyword.Search(ctx, query, filters, topK)
	if err != nil {
		return nil, err
	}
	return fn.Map(hits, func(h keyword.Hit) domain.SearchResult {
		return domain.SearchResult{ID: h.ID, Score: h.Score, Text: h.Text, Metadata: h.Meta, SearchType: domain.SearchKeyword}
	}), nil
}

// fuse merges ranked lists by reciprocal rank. A result appearing in
// several lists accumulates one term per list; text and metadata come
// from its first appearance.
func fuse(topK int, lists ...[]domain.SearchResult) []domain.SearchResult {
	scores := make(map[string]float64)
	byID := make(map[string]domain.SearchResult)
	var order []string

	for _, list := range lists {
		for rank, res := range list {
			scores[res.ID] += 1.0 / float64(rrfK+rank+1)
			if _, seen := byID[res.ID]; !seen {
				byID[res.ID] = res
				order = append(order, res.ID)
			}
		}
	}

	out := make([]domain.SearchResult, 0, len(order))
	for _, id := range order {
		res := byID[id]
		res.Score = scores[id]
		out = append(out, res)
	}
	// Stable so ties keep first-appearance order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// rerankOrFallback reorders results by cross-encoder relevance. On any
// reranker failure the original ordering is kept; losing the second-pass
// ordering beats failing the whole query.
func (r *Retriever) rerankOrFallback(ctx context.Context, query string, results []domain.SearchResult, topN int) []domain.SearchResult {
	docs := fn.Map(results, func(res domain.SearchResult) string { return res.Text })
	rankings, err := r.deps.Reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		r.fallbacks.Inc()
		r.log.Warn("retrieve: rerank failed, keeping original order", "error", err)
		if len(results) > topN {
			return results[:topN]
		}
		return results
	}
	out := make([]domain.SearchResult, 0, len(rankings))
	for _, rk := range rankings {
		if rk.Index < 0 || rk.Index >= len(results) {
			r.log.Warn("retrieve: reranker returned index out of range", "index", rk.Index, "candidates", len(results))
			continue
		}
		res := results[rk.Index]
		res.Score = rk.Score
		out = append(out, res)
	}
	return out
}
