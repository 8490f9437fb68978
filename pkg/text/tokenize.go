// Package text provides the shared lexical primitives used across the engine:
// tokenization, stopword filtering, sentence splitting, TF-IDF vectors, and a
// sparse lexical encoder for keyword-style vector search.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// Tokenize lowercases text and extracts word tokens. Stopwords are kept;
// callers filter with IsStopword where needed.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// ContentTokens returns lowercased tokens with stopwords removed.
func ContentTokens(text string) []string {
	raw := Tokenize(text)
	out := raw[:0]
	for _, t := range raw {
		if !IsStopword(t) {
			out = append(out, t)
		}
	}
	return out
}

// WordCount approximates a token count as the number of whitespace-delimited
// fields. All chunk-size budgets in the engine are expressed in these units.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Sentences splits text into sentences using terminal punctuation and
// newlines. A terminator only ends a sentence when followed by whitespace or
// end of input, so "3.5" and "e.g." stay intact more often than not.
func Sentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(text)-1 || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// EndsSentence reports whether s ends on sentence-final punctuation.
func EndsSentence(s string) bool {
	s = strings.TrimRight(strings.TrimSpace(s), `"')]`+"`")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// Paragraphs splits text into blank-line-delimited blocks, trimmed, with
// empty blocks dropped.
func Paragraphs(text string) []string {
	blocks := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// IsStopword reports whether the lowercased token is an English stopword.
func IsStopword(tok string) bool { return stopwords[tok] }

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true, "to": true,
	"of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true,
	"through": true, "during": true, "before": true, "after": true,
	"what": true, "where": true, "when": true, "how": true, "which": true,
	"who": true, "whom": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "me": true, "my": true, "it": true,
	"its": true, "and": true, "but": true, "or": true, "not": true,
	"so": true, "if": true, "then": true, "than": true, "such": true,
	"there": true, "their": true, "they": true, "them": true, "we": true,
	"you": true, "your": true, "he": true, "she": true, "his": true,
	"her": true, "also": true, "more": true, "most": true, "other": true,
	"some": true, "no": true, "nor": true, "only": true, "own": true,
	"same": true, "too": true, "very": true, "just": true, "about": true,
}
