package semantic

import (
	"time"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
)

// Payload keys recognized by the index. Filters only ever match against
// these; arbitrary keys are never matched implicitly.
const (
	PayloadText        = "text"
	PayloadDocID       = "doc_id"
	PayloadCourseID    = "course_id"
	PayloadResourceID  = "resource_id"
	PayloadQuality     = "quality_score"
	PayloadLanguage    = "language"
	PayloadContentType = "content_type"
	PayloadCreatedAt   = "created_at" // unix seconds
	PayloadChunkIndex  = "chunk_index"
	PayloadStrategy    = "strategy"
	PayloadHash        = "hash"
)

// Entry is the persisted unit: a point id, its dense vector, an optional
// sparse lexical vector, and the filterable payload.
type Entry struct {
	ID      string
	Vector  []float32
	Sparse  *domain.SparseVector
	Payload map[string]any
}

// Hit is a single similarity-search result from the index.
type Hit struct {
	ID    string
	Score float32
	Text  string
	Meta  map[string]string
}

// Filters carries the recognized filter keys for search and delete. Zero
// values mean "no constraint on this key".
type Filters struct {
	CourseID    string
	ResourceIDs []string
	MinQuality  float64
	MaxQuality  float64
	Language    string
	Since       time.Time
	Until       time.Time
}

// Empty reports whether no constraint is set.
func (f Filters) Empty() bool {
	return f.CourseID == "" && len(f.ResourceIDs) == 0 &&
		f.MinQuality == 0 && f.MaxQuality == 0 &&
		f.Language == "" && f.Since.IsZero() && f.Until.IsZero()
}

// CollectionConfig describes a collection at creation time. Dimension is
// fixed per collection; every vector inserted must match it.
type CollectionConfig struct {
	VectorSize    uint64
	SparseEnabled bool
}

// InsertOptions tunes batch upsert behaviour.
type InsertOptions struct {
	BatchSize int
	Wait      bool
}

// DefaultInsertOptions returns the standard upsert batching.
func DefaultInsertOptions() InsertOptions {
	return InsertOptions{BatchSize: 100, Wait: true}
}
