// Package chunking splits sanitized documents into retrieval-sized chunks.
// Four interchangeable strategies are provided; all budgets are expressed in
// approximate tokens (whitespace-delimited words).
package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/text"
)

// Options bounds chunk sizes. Overlap applies to the semantic strategy only.
type Options struct {
	MinChunkSize int
	MaxChunkSize int
	OverlapSize  int
}

// DefaultOptions returns the standard chunking budgets.
func DefaultOptions() Options {
	return Options{
		MinChunkSize: 100,
		MaxChunkSize: 512,
		OverlapSize:  50,
	}
}

func (o Options) normalized() Options {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultOptions().MaxChunkSize
	}
	if o.MinChunkSize < 0 {
		o.MinChunkSize = 0
	}
	if o.MinChunkSize > o.MaxChunkSize {
		o.MinChunkSize = o.MaxChunkSize
	}
	if o.OverlapSize < 0 {
		o.OverlapSize = 0
	}
	if o.OverlapSize >= o.MaxChunkSize {
		o.OverlapSize = o.MaxChunkSize / 4
	}
	return o
}

// Chunk splits a sanitized document using the given strategy. Every returned
// chunk satisfies tokens <= MaxChunkSize, and all but a strategy's final
// remainder chunk satisfy tokens >= MinChunkSize.
func Chunk(doc domain.Document, strategy domain.Strategy, opts Options) ([]domain.Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, domain.Ef(domain.KindInvalidContent, "chunking", "document %s: sanitized text is empty", doc.ID)
	}
	opts = opts.normalized()

	var chunks []domain.Chunk
	switch strategy {
	case domain.StrategyFixed:
		chunks = chunkFixed(doc, opts)
	case domain.StrategySentence:
		chunks = chunkSentence(doc, opts)
	case domain.StrategyParagraph:
		chunks = chunkParagraph(doc, opts)
	case domain.StrategySemantic:
		chunks = chunkSemantic(doc, opts)
	default:
		return nil, domain.Ef(domain.KindInvalidContent, "chunking", "unknown strategy %q", strategy)
	}

	if len(chunks) == 0 {
		// Short content falls back to a single chunk.
		if c := newChunk(doc, 0, doc.Text, 0, len(doc.Text), strategy); c != nil {
			chunks = []domain.Chunk{*c}
		}
	}
	return chunks, nil
}

// newChunk builds a chunk, returning nil for empty or whitespace-only
// content. Callers filter nils; a nil chunk never reaches storage.
func newChunk(doc domain.Document, idx int, content string, start, end int, strategy domain.Strategy) *domain.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(content))
	return &domain.Chunk{
		DocID:    doc.ID,
		Index:    idx,
		Text:     content,
		Start:    start,
		End:      end,
		Tokens:   text.WordCount(content),
		Hash:     hex.EncodeToString(sum[:8]),
		Strategy: strategy,
	}
}

// span is a substring of the document text with its byte offsets.
type span struct {
	text  string
	start int
	end   int
}

func (s span) tokens() int { return text.WordCount(s.text) }

// tokenSpans returns every whitespace-delimited token with byte offsets.
func tokenSpans(s string) []span {
	var out []span
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{text: s[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, span{text: s[start:], start: start, end: len(s)})
	}
	return out
}

// locate maps ordered substrings back onto their byte offsets in s.
func locate(s string, parts []string) []span {
	out := make([]span, 0, len(parts))
	cursor := 0
	for _, p := range parts {
		i := strings.Index(s[cursor:], p)
		if i < 0 {
			continue
		}
		start := cursor + i
		out = append(out, span{text: p, start: start, end: start + len(p)})
		cursor = start + len(p)
	}
	return out
}

func sentenceSpans(s string) []span  { return locate(s, text.Sentences(s)) }
func paragraphSpans(s string) []span { return locate(s, text.Paragraphs(s)) }
