// Package keyword maintains the lexical side of retrieval: a bleve full-text
// index over chunk text for exact-term recall that dense embeddings miss.
package keyword

import (
	"context"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/engine/semantic"
)

const indexBatchSize = 100

// Doc is the indexed unit. Field names match the vector store payload keys
// so the two indexes stay filter-compatible.
type Doc struct {
	ID           string    `json:"-"`
	Text         string    `json:"text"`
	DocID        string    `json:"doc_id"`
	CourseID     string    `json:"course_id"`
	ResourceID   string    `json:"resource_id"`
	Language     string    `json:"language"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// Hit is a single keyword-search result.
type Hit struct {
	ID    string
	Score float64
	Text  string
	Meta  map[string]string
}

// Index wraps a bleve index with the engine's chunk schema.
type Index struct {
	idx bleve.Index
}

// Open opens or creates a persistent index at path.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("keyword: open index %s: %w", path, err)
	}
	return &Index{idx: idx}, nil
}

// OpenMemory creates an in-memory index, used by tests and ephemeral runs.
func OpenMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("keyword: open memory index: %w", err)
	}
	return &Index{idx: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", bleve.NewTextFieldMapping())
	for _, f := range []string{"doc_id", "course_id", "resource_id", "language"} {
		doc.AddFieldMappingsAt(f, bleve.NewKeywordFieldMapping())
	}
	doc.AddFieldMappingsAt("quality_score", bleve.NewNumericFieldMapping())
	doc.AddFieldMappingsAt("created_at", bleve.NewDateTimeFieldMapping())
	m.DefaultMapping = doc
	return m
}

// Close closes the underlying index.
func (x *Index) Close() error { return x.idx.Close() }

// IndexDocs adds docs in batches. Indexing by id is idempotent, so retried
// or duplicated calls are safe.
func (x *Index) IndexDocs(ctx context.Context, docs []Doc) error {
	batch := x.idx.NewBatch()
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(d.ID, d); err != nil {
			return fmt.Errorf("keyword: batch %s: %w", d.ID, err)
		}
		if batch.Size() >= indexBatchSize || i == len(docs)-1 {
			if err := x.idx.Batch(batch); err != nil {
				return domain.E(domain.KindExternalService, "keyword.index", err)
			}
			batch = x.idx.NewBatch()
		}
	}
	return nil
}

// Search runs a match query over chunk text, constrained by the recognized
// filters.
func (x *Index) Search(ctx context.Context, query string, filters semantic.Filters, topK int) ([]Hit, error) {
	match := bleve.NewMatchQuery(query)
	match.SetField("text")

	conj := bleve.NewConjunctionQuery(match)
	if filters.CourseID != "" {
		tq := bleve.NewTermQuery(filters.CourseID)
		tq.SetField("course_id")
		conj.AddQuery(tq)
	}
	if filters.Language != "" {
		tq := bleve.NewTermQuery(filters.Language)
		tq.SetField("language")
		conj.AddQuery(tq)
	}
	if len(filters.ResourceIDs) > 0 {
		disj := bleve.NewDisjunctionQuery()
		for _, id := range filters.ResourceIDs {
			tq := bleve.NewTermQuery(id)
			tq.SetField("resource_id")
			disj.AddQuery(tq)
		}
		conj.AddQuery(disj)
	}
	if filters.MinQuality > 0 || filters.MaxQuality > 0 {
		var min, max *float64
		if filters.MinQuality > 0 {
			min = &filters.MinQuality
		}
		if filters.MaxQuality > 0 {
			max = &filters.MaxQuality
		}
		rq := bleve.NewNumericRangeQuery(min, max)
		rq.SetField("quality_score")
		conj.AddQuery(rq)
	}

	req := bleve.NewSearchRequestOptions(conj, topK, 0, false)
	req.Fields = []string{"*"}

	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, domain.E(domain.KindExternalService, "keyword.search", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score, Meta: make(map[string]string)}
		for k, v := range h.Fields {
			s, ok := v.(string)
			if !ok {
				s = fmt.Sprint(v)
			}
			if k == "text" {
				hit.Text = s
				continue
			}
			hit.Meta[k] = s
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByDocument removes every chunk of a document. Used for re-ingestion.
func (x *Index) DeleteByDocument(ctx context.Context, docID string) (int, error) {
	tq := bleve.NewTermQuery(docID)
	tq.SetField("doc_id")

	deleted := 0
	for {
		req := bleve.NewSearchRequestOptions(tq, 500, 0, false)
		res, err := x.idx.SearchInContext(ctx, req)
		if err != nil {
			return deleted, domain.E(domain.KindExternalService, "keyword.delete", err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}
		batch := x.idx.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := x.idx.Batch(batch); err != nil {
			return deleted, domain.E(domain.KindExternalService, "keyword.delete", err)
		}
		deleted += len(res.Hits)
	}
}

// DocCount returns the number of indexed chunks.
func (x *Index) DocCount() (uint64, error) { return x.idx.DocCount() }
