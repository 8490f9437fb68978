// Package ingest runs documents through sanitization, chunking, quality
// gating, embedding, and dual-index storage. Per-document failures are
// collected into batch results so one bad document never blocks the rest.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/CourseForgeAI/courseforge-mvp/engine/chunking"
	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/engine/keyword"
	"github.com/CourseForgeAI/courseforge-mvp/engine/quality"
	"github.com/CourseForgeAI/courseforge-mvp/engine/sanitize"
	"github.com/CourseForgeAI/courseforge-mvp/engine/semantic"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/embed"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/fn"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/metrics"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/text"
)

// qualityGateReason is the per-document failure reason reported when the
// quality gate rejects a document.
const qualityGateReason = "Quality below threshold"

// VectorStore is the slice of the vector index the pipeline writes to.
type VectorStore interface {
	Insert(ctx context.Context, collection string, entries []semantic.Entry, opts semantic.InsertOptions) (int, error)
	DeleteByDocument(ctx context.Context, collection, docID string) error
}

// KeywordStore is the slice of the keyword index the pipeline writes to.
type KeywordStore interface {
	IndexDocs(ctx context.Context, docs []keyword.Doc) error
	DeleteByDocument(ctx context.Context, docID string) (int, error)
}

// Ledger records ingestion outcomes for external reporting.
type Ledger interface {
	Record(ctx context.Context, rec domain.IngestRecord) error
}

// Options tunes the pipeline.
type Options struct {
	Collection string
	Strategy   domain.Strategy
	Chunking   chunking.Options
	Quality    quality.Options
	// QualityThreshold gates documents on QualityReport.OverallScore
	// (0-100). Documents scoring below it are rejected, not stored.
	QualityThreshold float64
	// EmbedBatchSize is how many chunks go into one embedding call.
	EmbedBatchSize int
	// EmbedWorkers bounds concurrent embedding calls.
	EmbedWorkers int
	// EmbedRate paces embedding batch dispatch (batches per second).
	// Zero disables pacing.
	EmbedRate float64
}

// DefaultOptions returns the standard pipeline tuning for a collection.
func DefaultOptions(collection string) Options {
	return Options{
		Collection:       collection,
		Strategy:         domain.StrategySemantic,
		Chunking:         chunking.DefaultOptions(),
		Quality:          quality.DefaultOptions(),
		QualityThreshold: 40,
		EmbedBatchSize:   100,
		EmbedWorkers:     4,
	}
}

// Deps holds the pipeline's collaborators. Ledger and Metrics may be nil.
type Deps struct {
	Embedder embed.Client
	Vector   VectorStore
	Keyword  KeywordStore
	Ledger   Ledger
	Metrics  *metrics.Registry
	Log      *slog.Logger
}

// DocResult reports one successfully ingested document.
type DocResult struct {
	DocID        string  `json:"doc_id"`
	ChunkCount   int     `json:"chunk_count"`
	QualityScore float64 `json:"quality_score"`
}

// DocFailure reports one rejected or failed document.
type DocFailure struct {
	DocID  string `json:"doc_id"`
	Reason string `json:"reason"`
}

// BatchResult partitions a batch into successes and failures.
type BatchResult struct {
	Success []DocResult  `json:"success"`
	Failed  []DocFailure `json:"failed"`
}

// Pipeline ingests documents. Safe for concurrent use.
type Pipeline struct {
	opts    Options
	deps    Deps
	limiter *rate.Limiter
	log     *slog.Logger

	ingested  *metrics.Counter
	rejected  *metrics.Counter
	failures  *metrics.Counter
	chunks    *metrics.Counter
	durations *metrics.Histogram
}

// New creates a Pipeline.
func New(opts Options, deps Deps) *Pipeline {
	if opts.Strategy == "" {
		opts.Strategy = domain.StrategySemantic
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 100
	}
	if opts.EmbedWorkers <= 0 {
		opts.EmbedWorkers = 4
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	p := &Pipeline{
		opts:      opts,
		deps:      deps,
		log:       deps.Log,
		ingested:  deps.Metrics.Counter("ingest_documents_total", "Documents stored in both indexes"),
		rejected:  deps.Metrics.Counter("ingest_rejected_quality_total", "Documents rejected by the quality gate"),
		failures:  deps.Metrics.Counter("ingest_failures_total", "Documents failed for reasons other than quality"),
		chunks:    deps.Metrics.Counter("ingest_chunks_total", "Chunks written to the indexes"),
		durations: deps.Metrics.Histogram("ingest_duration_seconds", "Per-document ingest duration", nil),
	}
	if opts.EmbedRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.EmbedRate), 1)
	}
	return p
}

// chunkedDoc is a document after chunking and quality assessment.
type chunkedDoc struct {
	doc    domain.Document
	chunks []domain.Chunk
	report domain.QualityReport
}

// embeddedDoc carries one dense and one sparse vector per chunk.
type embeddedDoc struct {
	chunkedDoc
	dense  [][]float32
	sparse []domain.SparseVector
}

// Ingest runs one document through the full pipeline.
func (p *Pipeline) Ingest(ctx context.Context, doc domain.Document) (DocResult, error) {
	start := time.Now()
	stage := fn.Then(
		fn.Then(
			fn.TracedStage("ingest.prepare", p.prepare()),
			fn.TracedStage("ingest.chunk", p.chunkAndGate()),
		),
		fn.Then(
			fn.TracedStage("ingest.embed", p.embedChunks()),
			fn.TracedStage("ingest.store", p.store()),
		),
	)
	res, err := stage(ctx, doc).Unwrap()
	p.durations.Since(start)
	if err != nil {
		if domain.KindOf(err) == domain.KindQualityThreshold {
			p.rejected.Inc()
		} else {
			p.failures.Inc()
		}
		return DocResult{}, err
	}
	p.ingested.Inc()
	p.chunks.Add(int64(res.ChunkCount))
	p.log.Info("ingest: success", "doc_id", res.DocID, "chunks", res.ChunkCount, "quality", res.QualityScore)
	return res, nil
}

// IngestBatch runs documents sequentially, collecting per-document
// failures instead of aborting. Cancellation stops before the next
// document; the in-flight one completes.
func (p *Pipeline) IngestBatch(ctx context.Context, docs []domain.Document) (*BatchResult, error) {
	out := &BatchResult{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := p.Ingest(ctx, doc)
		if err != nil {
			out.Failed = append(out.Failed, DocFailure{DocID: doc.ID, Reason: failureReason(err)})
			continue
		}
		out.Success = append(out.Success, res)
	}
	return out, nil
}

// failureReason keeps the stable gate reason; other errors pass through.
func failureReason(err error) string {
	if domain.KindOf(err) == domain.KindQualityThreshold {
		return qualityGateReason
	}
	return err.Error()
}

// prepare sanitizes the raw text and fills in structural metadata.
func (p *Pipeline) prepare() fn.Stage[domain.Document, domain.Document] {
	return func(_ context.Context, doc domain.Document) fn.Result[domain.Document] {
		if err := domain.ValidateDocument(doc); err != nil {
			return fn.Err[domain.Document](err)
		}
		clean, err := sanitize.Sanitize(doc.Raw)
		if err != nil {
			return fn.Err[domain.Document](err)
		}
		doc.Text = clean
		doc.Structure = sanitize.AnalyzeStructure(clean)
		sanitize.ExtractMetadata(&doc)
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = time.Now().UTC()
		}
		return fn.Ok(doc)
	}
}

// chunkAndGate splits the document and rejects it if the quality report
// falls under the threshold.
func (p *Pipeline) chunkAndGate() fn.Stage[domain.Document, chunkedDoc] {
	return func(_ context.Context, doc domain.Document) fn.Result[chunkedDoc] {
		chunks, err := chunking.Chunk(doc, p.opts.Strategy, p.opts.Chunking)
		if err != nil {
			return fn.Err[chunkedDoc](err)
		}
		report := quality.Assess(doc, chunks, p.opts.Quality)
		if report.OverallScore < p.opts.QualityThreshold {
			p.log.Warn("ingest: quality gate rejected document",
				"doc_id", doc.ID, "score", report.OverallScore, "threshold", p.opts.QualityThreshold)
			return fn.Err[chunkedDoc](domain.Ef(domain.KindQualityThreshold, "ingest",
				"score %.1f below threshold %.1f", report.OverallScore, p.opts.QualityThreshold))
		}
		return fn.Ok(chunkedDoc{doc: doc, chunks: chunks, report: report})
	}
}

// embedChunks produces dense vectors in paced, bounded-parallel batches
// and sparse vectors inline. Cancellation lets in-flight batches finish
// but fails the ones not yet dispatched.
func (p *Pipeline) embedChunks() fn.Stage[chunkedDoc, embeddedDoc] {
	return func(ctx context.Context, cd chunkedDoc) fn.Result[embeddedDoc] {
		texts := fn.Map(cd.chunks, func(c domain.Chunk) string { return c.Text })
		batches := fn.Chunk(texts, p.opts.EmbedBatchSize)

		results := fn.ParMapResult(batches, p.opts.EmbedWorkers, func(batch []string) fn.Result[[][]float32] {
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return fn.Err[[][]float32](err)
				}
			} else if err := ctx.Err(); err != nil {
				return fn.Err[[][]float32](err)
			}
			return fn.FromPair(p.deps.Embedder.Embed(ctx, batch))
		})
		collected, err := fn.Collect(results).Unwrap()
		if err != nil {
			return fn.Err[embeddedDoc](fmt.Errorf("ingest: embed %s: %w", cd.doc.ID, err))
		}

		dense := make([][]float32, 0, len(texts))
		for _, batch := range collected {
			dense = append(dense, batch...)
		}
		sparse := fn.Map(cd.chunks, func(c domain.Chunk) domain.SparseVector {
			sv := text.EncodeSparse(c.Text)
			return domain.SparseVector{Indices: sv.Indices, Values: sv.Values}
		})
		return fn.Ok(embeddedDoc{chunkedDoc: cd, dense: dense, sparse: sparse})
	}
}

// store replaces any previous version of the document in both indexes,
// then records the outcome in the ledger.
func (p *Pipeline) store() fn.Stage[embeddedDoc, DocResult] {
	return func(ctx context.Context, ed embeddedDoc) fn.Result[DocResult] {
		docID := ed.doc.ID
		if err := p.deps.Vector.DeleteByDocument(ctx, p.opts.Collection, docID); err != nil {
			return fn.Err[DocResult](fmt.Errorf("ingest: clearing vector index for %s: %w", docID, err))
		}
		if _, err := p.deps.Keyword.DeleteByDocument(ctx, docID); err != nil {
			return fn.Err[DocResult](fmt.Errorf("ingest: clearing keyword index for %s: %w", docID, err))
		}

		entries := make([]semantic.Entry, len(ed.chunks))
		kwDocs := make([]keyword.Doc, len(ed.chunks))
		for i, c := range ed.chunks {
			id := pointID(docID, c.Index)
			sparse := ed.sparse[i]
			entries[i] = semantic.Entry{
				ID:     id,
				Vector: ed.dense[i],
				Sparse: &sparse,
				Payload: map[string]any{
					semantic.PayloadText:       c.Text,
					semantic.PayloadDocID:      docID,
					semantic.PayloadCourseID:   ed.doc.CourseID,
					semantic.PayloadResourceID: ed.doc.ResourceID,
					semantic.PayloadQuality:    ed.report.OverallScore,
					semantic.PayloadLanguage:   ed.doc.Language,
					semantic.PayloadCreatedAt:  ed.doc.CreatedAt.Unix(),
					semantic.PayloadChunkIndex: c.Index,
					semantic.PayloadStrategy:   string(c.Strategy),
					semantic.PayloadHash:       c.Hash,
				},
			}
			kwDocs[i] = keyword.Doc{
				ID:           id,
				Text:         c.Text,
				DocID:        docID,
				CourseID:     ed.doc.CourseID,
				ResourceID:   ed.doc.ResourceID,
				Language:     ed.doc.Language,
				QualityScore: ed.report.OverallScore,
				CreatedAt:    ed.doc.CreatedAt,
			}
		}

		if _, err := p.deps.Vector.Insert(ctx, p.opts.Collection, entries, semantic.DefaultInsertOptions()); err != nil {
			return fn.Err[DocResult](fmt.Errorf("ingest: vector insert for %s: %w", docID, err))
		}
		if err := p.deps.Keyword.IndexDocs(ctx, kwDocs); err != nil {
			return fn.Err[DocResult](fmt.Errorf("ingest: keyword insert for %s: %w", docID, err))
		}

		if p.deps.Ledger != nil {
			rec := domain.IngestRecord{
				CourseID:     ed.doc.CourseID,
				ResourceID:   ed.doc.ResourceID,
				ChunkCount:   len(ed.chunks),
				QualityScore: ed.report.OverallScore,
				CreatedAt:    ed.doc.CreatedAt,
			}
			if err := p.deps.Ledger.Record(ctx, rec); err != nil {
				// The indexes are already consistent; a ledger miss is
				// recoverable by re-ingestion.
				p.log.Warn("ingest: ledger write failed", "doc_id", docID, "error", err)
			}
		}

		return fn.Ok(DocResult{DocID: docID, ChunkCount: len(ed.chunks), QualityScore: ed.report.OverallScore})
	}
}

// pointID derives a deterministic UUID for a chunk so retried or
// re-ingested writes upsert the same point.
func pointID(docID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", docID, chunkIndex))).String()
}
