package quality

import (
	"math"
	"strings"
	"unicode"

	"github.com/CourseForgeAI/courseforge-mvp/pkg/text"
)

// textStats aggregates the counts every readability formula needs.
type textStats struct {
	sentences     int
	words         int
	letters       int
	syllables     int
	polysyllables int // words with 3+ syllables
}

func analyze(s string) textStats {
	st := textStats{sentences: len(text.Sentences(s))}
	if st.sentences == 0 {
		st.sentences = 1
	}
	for _, w := range strings.Fields(s) {
		st.words++
		syl := syllableCount(w)
		st.syllables += syl
		if syl >= 3 {
			st.polysyllables++
		}
		for _, r := range w {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				st.letters++
			}
		}
	}
	return st
}

// syllableCount estimates syllables as vowel groups, with a silent-e
// adjustment. Crude but consistent, which matters more than accuracy here
// since the four formulas are averaged and normalized.
func syllableCount(word string) int {
	w := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
	if w == "" {
		return 0
	}
	count := 0
	prevVowel := false
	for _, r := range w {
		v := isVowel(r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}
	if strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") && count > 1 {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}

// fleschReadingEase is already on a 0-100 scale (higher is easier).
func fleschReadingEase(st textStats) float64 {
	if st.words == 0 {
		return 0
	}
	score := 206.835 -
		1.015*(float64(st.words)/float64(st.sentences)) -
		84.6*(float64(st.syllables)/float64(st.words))
	return clamp(score, 0, 100)
}

// The grade-level formulas map school grade 6 to 100 and grade 18 to 0.
func gradeToScore(grade float64) float64 {
	return clamp(100-(grade-6)*(100.0/12.0), 0, 100)
}

func gunningFog(st textStats) float64 {
	if st.words == 0 {
		return 0
	}
	grade := 0.4 * (float64(st.words)/float64(st.sentences) +
		100*float64(st.polysyllables)/float64(st.words))
	return gradeToScore(grade)
}

func smog(st textStats) float64 {
	if st.words == 0 {
		return 0
	}
	grade := 1.0430*math.Sqrt(float64(st.polysyllables)*30/float64(st.sentences)) + 3.1291
	return gradeToScore(grade)
}

func ari(st textStats) float64 {
	if st.words == 0 {
		return 0
	}
	grade := 4.71*(float64(st.letters)/float64(st.words)) +
		0.5*(float64(st.words)/float64(st.sentences)) - 21.43
	return gradeToScore(grade)
}

// readabilityScore averages the four normalized metrics into one 0-100 score.
func readabilityScore(s string) float64 {
	st := analyze(s)
	if st.words == 0 {
		return 0
	}
	return (fleschReadingEase(st) + gunningFog(st) + smog(st) + ari(st)) / 4
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
