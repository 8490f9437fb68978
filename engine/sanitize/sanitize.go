// Package sanitize normalizes raw document text and extracts structural
// metadata before chunking. Sanitize is idempotent: running it on its own
// output is a no-op.
package sanitize

import (
	"strings"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/text"
)

// quote and dash normalization table applied before whitespace collapsing.
var replacer = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
	"—", "--", "–", "-",
	" ", " ",
	"\r\n", "\n", "\r", "\n",
)

// Sanitize cleans raw text: drops NUL and control characters (newline and tab
// excepted), normalizes smart quotes and em-dashes, and collapses runs of
// horizontal whitespace (tabs included) to single spaces. Blank lines are
// preserved, collapsed to a single blank line, because paragraph structure
// feeds chunking.
func Sanitize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", domain.Ef(domain.KindInvalidContent, "sanitize", "input is empty after trimming")
	}

	s := replacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}

func collapseSpaces(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

// AnalyzeStructure counts the structural elements of (sanitized) text.
func AnalyzeStructure(s string) domain.StructureMetadata {
	md := domain.StructureMetadata{
		Paragraphs: len(text.Paragraphs(s)),
	}
	fences := 0
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```"):
			fences++
		case isHeading(trimmed):
			md.Headings++
		case isListItem(trimmed):
			md.ListItems++
		}
	}
	md.CodeBlocks = fences / 2
	return md
}

func isHeading(line string) bool {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	return i >= 1 && i <= 6 && i < len(line) && line[i] == ' '
}

func isListItem(line string) bool {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	// Numbered items: "1. " or "1) "
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i+1 >= len(line) {
		return false
	}
	return (line[i] == '.' || line[i] == ')') && line[i+1] == ' '
}

// MaxKeyPhrases caps extracted key phrases per document.
const MaxKeyPhrases = 10

// ExtractMetadata fills a Document's title, language and key phrases from its
// sanitized text. Title is the first non-empty line when it is distinct from
// the body; markdown heading markers are stripped from it.
func ExtractMetadata(doc *domain.Document) {
	doc.Title = extractTitle(doc.Text)
	doc.Language = DetectLanguage(doc.Text)
	doc.KeyPhrases = text.TopTerms(doc.Text, MaxKeyPhrases)
}

func extractTitle(s string) string {
	lines := strings.Split(s, "\n")
	var first string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			first = line
			break
		}
	}
	if first == "" || first == strings.TrimSpace(s) {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(first, "#"))
}

// stopword hit sets for the supported languages. Counting stopword hits is a
// crude but serviceable language signal on prose-length inputs.
var langMarkers = map[string][]string{
	"en": {"the", "and", "of", "to", "is", "in", "that", "it", "with", "for"},
	"es": {"el", "la", "los", "las", "de", "que", "es", "en", "un", "una"},
	"fr": {"le", "la", "les", "des", "est", "une", "dans", "pour", "que", "avec"},
	"de": {"der", "die", "das", "und", "ist", "ein", "eine", "mit", "nicht", "von"},
}

// DetectLanguage guesses the dominant language by stopword frequency.
// Defaults to "en" when no marker set scores.
func DetectLanguage(s string) string {
	toks := text.Tokenize(s)
	if len(toks) == 0 {
		return "en"
	}
	freq := make(map[string]int, len(toks))
	for _, t := range toks {
		freq[t]++
	}

	best, bestHits := "en", 0
	for _, lang := range []string{"en", "es", "fr", "de"} {
		hits := 0
		for _, m := range langMarkers[lang] {
			hits += freq[m]
		}
		if hits > bestHits {
			best, bestHits = lang, hits
		}
	}
	return best
}
