package text

import (
	"math"
	"sort"
)

// TFIDFVectors computes an L2-normalized TF-IDF vector for every input text,
// using the inputs themselves as the corpus. Vectors share one vocabulary, so
// cosine similarity between any pair is meaningful.
func TFIDFVectors(texts []string) []map[string]float64 {
	df := make(map[string]int)
	tokenized := make([][]string, len(texts))
	for i, t := range texts {
		toks := ContentTokens(t)
		tokenized[i] = toks
		seen := make(map[string]struct{}, len(toks))
		for _, tok := range toks {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	n := float64(len(texts))
	vectors := make([]map[string]float64, len(texts))
	for i, toks := range tokenized {
		tf := make(map[string]int, len(toks))
		for _, tok := range toks {
			tf[tok]++
		}
		vec := make(map[string]float64, len(tf))
		var norm float64
		for tok, count := range tf {
			// Smoothed IDF keeps corpus-wide terms from zeroing out.
			idf := math.Log((1+n)/(1+float64(df[tok]))) + 1.0
			w := float64(count) / float64(len(toks)) * idf
			vec[tok] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for tok := range vec {
				vec[tok] /= norm
			}
		}
		vectors[i] = vec
	}
	return vectors
}

// Cosine returns the cosine similarity of two term-weight vectors.
// Both sides are assumed L2-normalized, so this is just the dot product.
func Cosine(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for tok, w := range a {
		dot += w * b[tok]
	}
	return dot
}

// TopTerms returns the n highest-weighted terms of a single text scored
// against the paragraphs of that text as a corpus. Used for key-phrase
// extraction.
func TopTerms(text string, n int) []string {
	paras := Paragraphs(text)
	if len(paras) == 0 {
		return nil
	}
	vectors := TFIDFVectors(append(paras, text))
	whole := vectors[len(vectors)-1]

	type scored struct {
		term   string
		weight float64
	}
	terms := make([]scored, 0, len(whole))
	for tok, w := range whole {
		if len(tok) < 3 {
			continue
		}
		terms = append(terms, scored{tok, w})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].weight != terms[j].weight {
			return terms[i].weight > terms[j].weight
		}
		return terms[i].term < terms[j].term
	})
	if n > len(terms) {
		n = len(terms)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = terms[i].term
	}
	return out
}
