package chunking

import (
	"strings"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/text"
)

// chunkFixed emits chunks of exactly MaxChunkSize tokens, ignoring sentence
// boundaries. The last chunk carries the remainder.
func chunkFixed(doc domain.Document, opts Options) []domain.Chunk {
	tokens := tokenSpans(doc.Text)
	var chunks []domain.Chunk
	for i := 0; i < len(tokens); i += opts.MaxChunkSize {
		end := i + opts.MaxChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		first, last := tokens[i], tokens[end-1]
		if c := newChunk(doc, len(chunks), doc.Text[first.start:last.end], first.start, last.end, domain.StrategyFixed); c != nil {
			chunks = append(chunks, *c)
		}
	}
	return chunks
}

// chunkSentence accumulates whole sentences until adding the next one would
// exceed MaxChunkSize. Every emitted chunk ends at a sentence terminator.
// A single sentence longer than the budget is token-split as a last resort.
func chunkSentence(doc domain.Document, opts Options) []domain.Chunk {
	var chunks []domain.Chunk
	flushGroup := func(group []span) {
		if len(group) == 0 {
			return
		}
		content := doc.Text[group[0].start : group[len(group)-1].end]
		if c := newChunk(doc, len(chunks), content, group[0].start, group[len(group)-1].end, domain.StrategySentence); c != nil {
			chunks = append(chunks, *c)
		}
	}

	var group []span
	groupTokens := 0
	for _, sent := range sentenceSpans(doc.Text) {
		n := sent.tokens()
		if n > opts.MaxChunkSize {
			flushGroup(group)
			group, groupTokens = nil, 0
			chunks = append(chunks, splitOversized(doc, sent, len(chunks), opts, domain.StrategySentence)...)
			continue
		}
		if groupTokens+n > opts.MaxChunkSize && groupTokens > 0 {
			flushGroup(group)
			group, groupTokens = nil, 0
		}
		group = append(group, sent)
		groupTokens += n
	}
	flushGroup(group)
	return chunks
}

// splitOversized token-splits a span that alone exceeds the budget.
func splitOversized(doc domain.Document, sp span, nextIdx int, opts Options, strategy domain.Strategy) []domain.Chunk {
	tokens := tokenSpans(sp.text)
	var out []domain.Chunk
	for i := 0; i < len(tokens); i += opts.MaxChunkSize {
		end := i + opts.MaxChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		start := sp.start + tokens[i].start
		stop := sp.start + tokens[end-1].end
		if c := newChunk(doc, nextIdx+len(out), doc.Text[start:stop], start, stop, strategy); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// chunkParagraph emits one chunk per blank-line-delimited paragraph, after
// merging paragraphs smaller than MinChunkSize with the following paragraph.
// A merged block that still exceeds MaxChunkSize is sentence-packed.
func chunkParagraph(doc domain.Document, opts Options) []domain.Chunk {
	paras := paragraphSpans(doc.Text)

	// Merge undersized paragraphs forward.
	var merged []span
	for _, p := range paras {
		if n := len(merged); n > 0 && merged[n-1].tokens() < opts.MinChunkSize {
			prev := merged[n-1]
			merged[n-1] = span{text: doc.Text[prev.start:p.end], start: prev.start, end: p.end}
			continue
		}
		merged = append(merged, p)
	}

	var chunks []domain.Chunk
	for _, block := range merged {
		if block.tokens() <= opts.MaxChunkSize {
			if c := newChunk(doc, len(chunks), block.text, block.start, block.end, domain.StrategyParagraph); c != nil {
				chunks = append(chunks, *c)
			}
			continue
		}
		chunks = append(chunks, packSentences(doc, block, len(chunks), opts, domain.StrategyParagraph)...)
	}
	return chunks
}

// packSentences splits an oversized block along sentence boundaries.
func packSentences(doc domain.Document, block span, nextIdx int, opts Options, strategy domain.Strategy) []domain.Chunk {
	var out []domain.Chunk
	var group []span
	groupTokens := 0
	flush := func() {
		if len(group) == 0 {
			return
		}
		start, stop := group[0].start, group[len(group)-1].end
		if c := newChunk(doc, nextIdx+len(out), doc.Text[start:stop], start, stop, strategy); c != nil {
			out = append(out, *c)
		}
		group, groupTokens = nil, 0
	}
	for _, sent := range locate(block.text, text.Sentences(block.text)) {
		abs := span{text: sent.text, start: block.start + sent.start, end: block.start + sent.end}
		n := abs.tokens()
		if n > opts.MaxChunkSize {
			flush()
			out = append(out, splitOversized(doc, abs, nextIdx+len(out), opts, strategy)...)
			continue
		}
		if groupTokens+n > opts.MaxChunkSize && groupTokens > 0 {
			flush()
		}
		group = append(group, abs)
		groupTokens += n
	}
	flush()
	return out
}

// discourseMarkers open sentences that typically start a new line of thought.
var discourseMarkers = []string{
	"however", "in conclusion", "in summary", "furthermore", "moreover",
	"on the other hand", "in contrast", "finally", "therefore", "meanwhile",
	"first", "second", "third", "next", "additionally",
}

func startsDiscourse(sentence string) bool {
	s := strings.ToLower(strings.TrimSpace(sentence))
	for _, m := range discourseMarkers {
		if strings.HasPrefix(s, m+" ") || strings.HasPrefix(s, m+",") {
			return true
		}
	}
	return false
}

// chunkSemantic grows a sentence buffer until a semantic boundary (a
// paragraph break, or a discourse marker opening the next sentence) or the
// size budget is crossed. OverlapSize tokens from the tail of each emitted
// chunk are prepended to the next chunk's text for cross-chunk context; the
// recorded span covers only the chunk's own region.
func chunkSemantic(doc domain.Document, opts Options) []domain.Chunk {
	type sentence struct {
		span
		paragraph int
	}
	var sentences []sentence
	for pi, para := range paragraphSpans(doc.Text) {
		for _, s := range locate(para.text, text.Sentences(para.text)) {
			sentences = append(sentences, sentence{
				span:      span{text: s.text, start: para.start + s.start, end: para.start + s.end},
				paragraph: pi,
			})
		}
	}
	if len(sentences) == 0 {
		return nil
	}

	var chunks []domain.Chunk
	var overlapTail string
	var group []sentence
	groupTokens := 0

	flush := func() {
		if len(group) == 0 {
			return
		}
		start, stop := group[0].start, group[len(group)-1].end
		content := doc.Text[start:stop]
		if overlapTail != "" {
			content = overlapTail + " " + content
		}
		if c := newChunk(doc, len(chunks), content, start, stop, domain.StrategySemantic); c != nil {
			chunks = append(chunks, *c)
			overlapTail = tailTokens(doc.Text[start:stop], opts.OverlapSize)
		}
		group, groupTokens = nil, 0
	}

	for i, sent := range sentences {
		n := sent.tokens()
		boundary := false
		if len(group) > 0 && groupTokens >= opts.MinChunkSize {
			prev := sentences[i-1]
			boundary = sent.paragraph != prev.paragraph || startsDiscourse(sent.text)
		}
		// The overlap tail counts against the budget so emitted chunks stay
		// within MaxChunkSize even with context prepended.
		budget := opts.MaxChunkSize - text.WordCount(overlapTail)
		if boundary || (groupTokens+n > budget && groupTokens > 0) {
			flush()
		}
		if n > opts.MaxChunkSize {
			flush()
			chunks = append(chunks, splitOversized(doc, sent.span, len(chunks), opts, domain.StrategySemantic)...)
			if len(chunks) > 0 {
				last := chunks[len(chunks)-1]
				overlapTail = tailTokens(last.Text, opts.OverlapSize)
			}
			continue
		}
		group = append(group, sent)
		groupTokens += n
	}
	flush()
	return chunks
}

// tailTokens returns the last n tokens of s as a single string.
func tailTokens(s string, n int) string {
	if n <= 0 {
		return ""
	}
	fields := strings.Fields(s)
	if len(fields) <= n {
		return s
	}
	return strings.Join(fields[len(fields)-n:], " ")
}
