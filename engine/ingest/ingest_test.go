package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/engine/keyword"
	"github.com/CourseForgeAI/courseforge-mvp/engine/semantic"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, texts)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

type fakeVector struct {
	mu      sync.Mutex
	entries []semantic.Entry
	deletes []string
	err     error
}

func (f *fakeVector) Insert(_ context.Context, _ string, entries []semantic.Entry, _ semantic.InsertOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.entries = append(f.entries, entries...)
	return len(entries), nil
}

func (f *fakeVector) DeleteByDocument(_ context.Context, _ string, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, docID)
	var kept []semantic.Entry
	for _, e := range f.entries {
		if e.Payload[semantic.PayloadDocID] != docID {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}

type fakeKeyword struct {
	mu      sync.Mutex
	docs    []keyword.Doc
	deletes []string
}

func (f *fakeKeyword) IndexDocs(_ context.Context, docs []keyword.Doc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeKeyword) DeleteByDocument(_ context.Context, docID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, docID)
	n := 0
	var kept []keyword.Doc
	for _, d := range f.docs {
		if d.DocID == docID {
			n++
			continue
		}
		kept = append(kept, d)
	}
	f.docs = kept
	return n, nil
}

type fakeLedger struct {
	records []domain.IngestRecord
}

func (f *fakeLedger) Record(_ context.Context, rec domain.IngestRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func testDoc(id string) domain.Document {
	return domain.Document{
		ID:         id,
		CourseID:   "go-101",
		ResourceID: id + ".md",
		Raw: `Go is a simple language. It compiles fast and runs fast. Many teams use it for servers.

Every Go program starts in a main package. The main function is the entry point. Programs read flags and then do their work.

Errors in Go are plain values. Functions return them and callers check them. This style keeps control flow easy to follow.`,
	}
}

func newTestPipeline(opts Options, emb *fakeEmbedder, vec *fakeVector, kw *fakeKeyword, led *fakeLedger) *Pipeline {
	deps := Deps{Embedder: emb, Vector: vec, Keyword: kw}
	if led != nil {
		deps.Ledger = led
	}
	return New(opts, deps)
}

func TestIngestStoresBothIndexes(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVector{}
	kw := &fakeKeyword{}
	led := &fakeLedger{}
	p := newTestPipeline(DefaultOptions("chunks"), emb, vec, kw, led)

	res, err := p.Ingest(context.Background(), testDoc("doc-1"))
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunkCount == 0 {
		t.Fatal("no chunks produced")
	}
	if len(vec.entries) != res.ChunkCount || len(kw.docs) != res.ChunkCount {
		t.Fatalf("index sizes (%d, %d) != chunk count %d", len(vec.entries), len(kw.docs), res.ChunkCount)
	}

	// The same chunk gets the same deterministic id in both indexes.
	if vec.entries[0].ID != kw.docs[0].ID {
		t.Fatalf("ids diverge: %s vs %s", vec.entries[0].ID, kw.docs[0].ID)
	}
	if vec.entries[0].Payload[semantic.PayloadDocID] != "doc-1" {
		t.Fatalf("payload doc_id = %v", vec.entries[0].Payload[semantic.PayloadDocID])
	}
	if vec.entries[0].Sparse == nil || len(vec.entries[0].Sparse.Indices) == 0 {
		t.Fatal("sparse vector missing")
	}

	if len(led.records) != 1 || led.records[0].ChunkCount != res.ChunkCount {
		t.Fatalf("ledger records = %+v", led.records)
	}
	if led.records[0].QualityScore != res.QualityScore {
		t.Fatal("ledger quality score mismatch")
	}
}

func TestPointIDDeterministic(t *testing.T) {
	if pointID("doc-1", 0) != pointID("doc-1", 0) {
		t.Fatal("same inputs must give the same id")
	}
	if pointID("doc-1", 0) == pointID("doc-1", 1) {
		t.Fatal("different chunks must give different ids")
	}
}

func TestReingestReplacesDocument(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVector{}
	kw := &fakeKeyword{}
	p := newTestPipeline(DefaultOptions("chunks"), emb, vec, kw, nil)

	first, err := p.Ingest(context.Background(), testDoc("doc-1"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Ingest(context.Background(), testDoc("doc-1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(vec.deletes) != 2 || len(kw.deletes) != 2 {
		t.Fatalf("delete calls = (%d, %d), want (2, 2)", len(vec.deletes), len(kw.deletes))
	}
	if len(vec.entries) != second.ChunkCount {
		t.Fatalf("stale entries left behind: %d vs %d", len(vec.entries), first.ChunkCount)
	}
}

func TestQualityGateRejects(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVector{}
	kw := &fakeKeyword{}
	opts := DefaultOptions("chunks")
	opts.QualityThreshold = 101 // nothing can pass
	p := newTestPipeline(opts, emb, vec, kw, nil)

	batch, err := p.IngestBatch(context.Background(), []domain.Document{testDoc("doc-1")})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Failed) != 1 || len(batch.Success) != 0 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Failed[0].Reason != "Quality below threshold" {
		t.Fatalf("reason = %q", batch.Failed[0].Reason)
	}
	if len(vec.entries) != 0 || len(kw.docs) != 0 {
		t.Fatal("rejected document reached the indexes")
	}
	if len(emb.batches) != 0 {
		t.Fatal("rejected document was embedded")
	}
}

func TestBatchCollectsPerDocumentFailures(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVector{}
	kw := &fakeKeyword{}
	p := newTestPipeline(DefaultOptions("chunks"), emb, vec, kw, nil)

	docs := []domain.Document{
		testDoc("good-1"),
		{ID: "bad-1", CourseID: "go-101", Raw: "   "},
		testDoc("good-2"),
	}
	batch, err := p.IngestBatch(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Success) != 2 || len(batch.Failed) != 1 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Failed[0].DocID != "bad-1" {
		t.Fatalf("failed doc = %s", batch.Failed[0].DocID)
	}
}

func TestEmbedBatchSizeRespected(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVector{}
	kw := &fakeKeyword{}
	opts := DefaultOptions("chunks")
	opts.Strategy = domain.StrategyFixed
	opts.Chunking.MaxChunkSize = 10
	opts.Chunking.MinChunkSize = 1
	opts.EmbedBatchSize = 3
	p := newTestPipeline(opts, emb, vec, kw, nil)

	doc := testDoc("doc-1")
	doc.Raw = strings.Repeat("The quick brown fox jumps over the lazy dog today. ", 12)
	res, err := p.Ingest(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunkCount < 6 {
		t.Fatalf("expected many chunks, got %d", res.ChunkCount)
	}
	total := 0
	for _, b := range emb.batches {
		if len(b) > 3 {
			t.Fatalf("batch of %d exceeds EmbedBatchSize", len(b))
		}
		total += len(b)
	}
	if total != res.ChunkCount {
		t.Fatalf("embedded %d texts for %d chunks", total, res.ChunkCount)
	}
}

func TestEmbedFailureAbortsDocument(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("embedding service down")}
	vec := &fakeVector{}
	kw := &fakeKeyword{}
	p := newTestPipeline(DefaultOptions("chunks"), emb, vec, kw, nil)

	_, err := p.Ingest(context.Background(), testDoc("doc-1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(vec.entries) != 0 || len(kw.docs) != 0 {
		t.Fatal("failed document reached the indexes")
	}
}

func TestBatchStopsOnCancellation(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVector{}
	kw := &fakeKeyword{}
	p := newTestPipeline(DefaultOptions("chunks"), emb, vec, kw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch, err := p.IngestBatch(ctx, []domain.Document{testDoc("doc-1"), testDoc("doc-2")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(batch.Success) != 0 {
		t.Fatal("no document should be ingested after cancellation")
	}
}
