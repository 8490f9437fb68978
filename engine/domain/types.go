// Package domain defines core domain types, constants, and validation for the
// CourseForge knowledge engine. It acts as the validation gate at pipeline
// entry points.
package domain

import "time"

// StructureMetadata describes the structural shape of a document's text.
type StructureMetadata struct {
	Paragraphs int `json:"paragraphs"`
	Headings   int `json:"headings"`
	ListItems  int `json:"list_items"`
	CodeBlocks int `json:"code_blocks"`
}

// Document is the unit of ingestion. Raw holds the text as supplied by the
// orchestrator; Text is the sanitized form. Immutable after sanitization.
type Document struct {
	ID         string            `json:"id"`
	CourseID   string            `json:"course_id"`
	ResourceID string            `json:"resource_id"`
	Raw        string            `json:"raw"`
	Text       string            `json:"text"`
	Title      string            `json:"title"`
	Language   string            `json:"language"`
	KeyPhrases []string          `json:"key_phrases,omitempty"`
	Structure  StructureMetadata `json:"structure"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Strategy selects how a document is split into chunks.
type Strategy string

const (
	StrategySemantic  Strategy = "semantic"
	StrategyFixed     Strategy = "fixed"
	StrategySentence  Strategy = "sentence"
	StrategyParagraph Strategy = "paragraph"
)

// ValidStrategies is the set of recognised chunking strategies.
var ValidStrategies = map[Strategy]bool{
	StrategySemantic: true, StrategyFixed: true,
	StrategySentence: true, StrategyParagraph: true,
}

// Chunk is a bounded text span of a document, the atomic retrieval unit.
// Chunks are immutable once created and replaced only by re-ingestion.
type Chunk struct {
	DocID    string   `json:"doc_id"`
	Index    int      `json:"index"`
	Text     string   `json:"text"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Tokens   int      `json:"tokens"`
	Hash     string   `json:"hash"`
	Strategy Strategy `json:"strategy"`
}

// CoherenceLevel buckets the 0-1 coherence score.
type CoherenceLevel string

const (
	CoherenceExcellent CoherenceLevel = "excellent"
	CoherenceGood      CoherenceLevel = "good"
	CoherenceFair      CoherenceLevel = "fair"
	CoherencePoor      CoherenceLevel = "poor"
)

// Severity classifies structural errors found during quality assessment.
type Severity string

const (
	SeverityHigh Severity = "high"
	SeverityLow  Severity = "low"
)

// StructuralError is a defect detected in a document's text.
type StructuralError struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
}

// QualityReport scores a document and its chunk set. Computed once per
// ingestion and recomputed only on re-ingestion.
type QualityReport struct {
	Readability     float64           `json:"readability"`  // 0-100
	Coherence       float64           `json:"coherence"`    // 0-1
	CoherenceLevel  CoherenceLevel    `json:"coherence_level"`
	Completeness    float64           `json:"completeness"` // 0-1
	Errors          []StructuralError `json:"errors,omitempty"`
	OverallScore    float64           `json:"overall_score"` // 0-100
	Recommendations []string          `json:"recommendations,omitempty"`
}

// SearchType labels which retrieval path produced a result.
type SearchType string

const (
	SearchSemantic SearchType = "semantic"
	SearchKeyword  SearchType = "keyword"
	SearchHybrid   SearchType = "hybrid"
)

// SearchResult is a single retrieval hit. Ephemeral: produced per query,
// never persisted.
type SearchResult struct {
	ID         string            `json:"id"`
	Score      float64           `json:"score"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	SearchType SearchType        `json:"search_type"`
}

// SparseVector is an {indices, values} pair carrying weighted lexical terms.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IngestRecord is the minimal metadata row written after a successful
// ingestion, for correlation by external reporting tools.
type IngestRecord struct {
	CourseID     string    `json:"course_id"`
	ResourceID   string    `json:"resource_id"`
	ChunkCount   int       `json:"chunk_count"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}
