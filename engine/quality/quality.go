// Package quality scores documents and their chunk sets on readability,
// coherence, completeness, and structural defects, and gates what reaches
// the indexes.
package quality

import (
	"fmt"
	"strings"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/text"
)

// Options carries the scoring weights and thresholds. The thresholds are
// empirically chosen defaults, deliberately configurable rather than fixed.
type Options struct {
	// Coherence level cut points.
	Excellent float64
	Good      float64
	Fair      float64

	// Recommendation triggers.
	ReadabilityMin  float64
	CoherenceMin    float64
	CompletenessMin float64

	// Weighted blend of the overall score.
	ReadabilityWeight  float64
	CoherenceWeight    float64
	CompletenessWeight float64
	ErrorWeight        float64
}

// DefaultOptions returns the standard thresholds and the 30/30/20/20 blend.
func DefaultOptions() Options {
	return Options{
		Excellent:          0.8,
		Good:               0.6,
		Fair:               0.4,
		ReadabilityMin:     50,
		CoherenceMin:       0.5,
		CompletenessMin:    0.7,
		ReadabilityWeight:  0.3,
		CoherenceWeight:    0.3,
		CompletenessWeight: 0.2,
		ErrorWeight:        0.2,
	}
}

// Assess computes a QualityReport for a sanitized document and its chunks.
func Assess(doc domain.Document, chunks []domain.Chunk, opts Options) domain.QualityReport {
	report := domain.QualityReport{
		Readability:  readabilityScore(doc.Text),
		Coherence:    coherence(chunks),
		Completeness: completeness(chunks),
		Errors:       structuralErrors(doc.Text),
	}
	report.CoherenceLevel = coherenceLevel(report.Coherence, opts)

	errScore := errorScore(report.Errors)
	report.OverallScore = opts.ReadabilityWeight*report.Readability +
		opts.CoherenceWeight*report.Coherence*100 +
		opts.CompletenessWeight*report.Completeness*100 +
		opts.ErrorWeight*errScore
	report.Recommendations = recommendations(report, opts)
	return report
}

// coherence averages the TF-IDF cosine similarity of adjacent chunks.
// Fewer than two chunks means there are no seams to judge; that scores 1.
func coherence(chunks []domain.Chunk) float64 {
	if len(chunks) < 2 {
		return 1
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors := text.TFIDFVectors(texts)

	var sum float64
	for i := 1; i < len(vectors); i++ {
		sum += text.Cosine(vectors[i-1], vectors[i])
	}
	return clamp(sum/float64(len(vectors)-1), 0, 1)
}

func coherenceLevel(score float64, opts Options) domain.CoherenceLevel {
	switch {
	case score >= opts.Excellent:
		return domain.CoherenceExcellent
	case score >= opts.Good:
		return domain.CoherenceGood
	case score >= opts.Fair:
		return domain.CoherenceFair
	}
	return domain.CoherencePoor
}

// completeness is the ratio of chunks ending on sentence-final punctuation.
func completeness(chunks []domain.Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	complete := 0
	for _, c := range chunks {
		if text.EndsSentence(c.Text) {
			complete++
		}
	}
	return float64(complete) / float64(len(chunks))
}

const (
	boilerplateMaxTokens = 3
	boilerplateRepeats   = 3
)

// structuralErrors flags encoding artifacts and repeated boilerplate lines.
func structuralErrors(s string) []domain.StructuralError {
	var errs []domain.StructuralError
	if n := strings.Count(s, "�"); n > 0 {
		errs = append(errs, domain.StructuralError{
			Type:     "encoding",
			Severity: domain.SeverityHigh,
			Detail:   fmt.Sprintf("%d replacement characters", n),
		})
	}

	short := make(map[string]int)
	for _, sent := range text.Sentences(s) {
		if text.WordCount(sent) < boilerplateMaxTokens {
			short[strings.ToLower(sent)]++
		}
	}
	for sent, n := range short {
		if n > boilerplateRepeats {
			errs = append(errs, domain.StructuralError{
				Type:     "boilerplate",
				Severity: domain.SeverityLow,
				Detail:   fmt.Sprintf("%q repeated %d times", sent, n),
			})
		}
	}
	return errs
}

// errorScore converts the defect list into a 0-100 penalty dimension.
func errorScore(errs []domain.StructuralError) float64 {
	score := 100.0
	for _, e := range errs {
		switch e.Severity {
		case domain.SeverityHigh:
			score -= 50
		case domain.SeverityLow:
			score -= 10
		}
	}
	return clamp(score, 0, 100)
}

// recommendations emits one suggestion per dimension below its threshold.
func recommendations(r domain.QualityReport, opts Options) []string {
	var recs []string
	if r.Readability < opts.ReadabilityMin {
		recs = append(recs, "Simplify sentence structure and vocabulary to improve readability")
	}
	if r.Coherence < opts.CoherenceMin {
		recs = append(recs, "Reorganize content so adjacent sections share context and terminology")
	}
	if r.Completeness < opts.CompletenessMin {
		recs = append(recs, "Review chunk boundaries; many segments end mid-sentence")
	}
	for _, e := range r.Errors {
		if e.Severity == domain.SeverityHigh {
			recs = append(recs, "Fix encoding errors in the source document before re-ingesting")
			break
		}
	}
	return recs
}
