package quality

import (
	"strings"
	"testing"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
)

func chunksFrom(texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{DocID: "d1", Index: i, Text: t, Strategy: domain.StrategySentence}
	}
	return out
}

func TestSyllableCount(t *testing.T) {
	cases := map[string]int{
		"cat":        1,
		"window":     2,
		"beautiful":  3,
		"university": 5,
		"the":        1,
		"make":       1,
		"table":      2,
	}
	for word, want := range cases {
		if got := syllableCount(word); got != want {
			t.Errorf("syllableCount(%q) = %d, want %d", word, got, want)
		}
	}
}

func TestReadabilitySimpleVsDense(t *testing.T) {
	simple := strings.Repeat("The cat sat on the mat. The dog ran to the park. ", 10)
	dense := strings.Repeat("Notwithstanding institutional heterogeneity, organizational epistemologies necessitate multidimensional reconceptualization of administrative infrastructures. ", 10)

	s := readabilityScore(simple)
	d := readabilityScore(dense)
	if s <= d {
		t.Errorf("simple text (%f) should score above dense text (%f)", s, d)
	}
	if s < 0 || s > 100 || d < 0 || d > 100 {
		t.Errorf("scores out of range: %f, %f", s, d)
	}
}

func TestCoherenceRelatedVsUnrelated(t *testing.T) {
	related := chunksFrom(
		"Gradient descent updates model weights using the loss gradient.",
		"The loss gradient tells gradient descent how to adjust weights.",
		"Weight updates continue until the loss gradient vanishes.",
	)
	unrelated := chunksFrom(
		"Gradient descent updates model weights using the loss gradient.",
		"Medieval cathedrals feature flying buttresses and stained glass.",
		"Sourdough bread requires a mature fermented starter culture.",
	)
	r := coherence(related)
	u := coherence(unrelated)
	if r <= u {
		t.Errorf("related coherence %f should exceed unrelated %f", r, u)
	}
}

func TestCoherenceSingleChunk(t *testing.T) {
	if got := coherence(chunksFrom("only one chunk here.")); got != 1 {
		t.Errorf("single chunk coherence = %f, want 1", got)
	}
}

func TestCoherenceLevels(t *testing.T) {
	opts := DefaultOptions()
	cases := []struct {
		score float64
		want  domain.CoherenceLevel
	}{
		{0.85, domain.CoherenceExcellent},
		{0.8, domain.CoherenceExcellent},
		{0.7, domain.CoherenceGood},
		{0.45, domain.CoherenceFair},
		{0.1, domain.CoherencePoor},
	}
	for _, c := range cases {
		if got := coherenceLevel(c.score, opts); got != c.want {
			t.Errorf("level(%f) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestCompleteness(t *testing.T) {
	chunks := chunksFrom(
		"This one is complete.",
		"This one trails off mid",
		"Another complete one!",
		"And a final complete one?",
	)
	if got := completeness(chunks); got != 0.75 {
		t.Errorf("completeness = %f, want 0.75", got)
	}
	if got := completeness(nil); got != 0 {
		t.Errorf("completeness(nil) = %f, want 0", got)
	}
}

func TestStructuralErrorsEncoding(t *testing.T) {
	errs := structuralErrors("broken � text with � artifacts")
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1", len(errs))
	}
	if errs[0].Type != "encoding" || errs[0].Severity != domain.SeverityHigh {
		t.Errorf("got %+v", errs[0])
	}
}

func TestStructuralErrorsBoilerplate(t *testing.T) {
	s := strings.Repeat("Click here. ", 5) + "Then some actual sentence content follows here."
	errs := structuralErrors(s)
	found := false
	for _, e := range errs {
		if e.Type == "boilerplate" && e.Severity == domain.SeverityLow {
			found = true
		}
	}
	if !found {
		t.Errorf("expected boilerplate error, got %+v", errs)
	}
}

func TestAssessOverallAndRecommendations(t *testing.T) {
	doc := domain.Document{
		ID:   "d1",
		Text: "Photosynthesis converts light into chemical energy. Plants use chlorophyll to absorb light. The absorbed light drives sugar production.",
	}
	chunks := chunksFrom(
		"Photosynthesis converts light into chemical energy.",
		"Plants use chlorophyll to absorb light energy.",
		"The absorbed light energy drives sugar production.",
	)
	report := Assess(doc, chunks, DefaultOptions())

	if report.OverallScore <= 0 || report.OverallScore > 100 {
		t.Errorf("overall = %f, want (0,100]", report.OverallScore)
	}
	if report.Completeness != 1 {
		t.Errorf("completeness = %f, want 1", report.Completeness)
	}
	if len(report.Errors) != 0 {
		t.Errorf("unexpected errors: %+v", report.Errors)
	}
	// Healthy content should not trigger the completeness recommendation.
	for _, rec := range report.Recommendations {
		if strings.Contains(rec, "mid-sentence") {
			t.Errorf("unexpected recommendation: %q", rec)
		}
	}
}

func TestRecommendationsNotDuplicated(t *testing.T) {
	r := domain.QualityReport{
		Readability:  10,
		Coherence:    0.1,
		Completeness: 0.1,
		Errors: []domain.StructuralError{
			{Type: "encoding", Severity: domain.SeverityHigh},
			{Type: "encoding", Severity: domain.SeverityHigh},
		},
	}
	recs := recommendations(r, DefaultOptions())
	if len(recs) != 4 {
		t.Fatalf("recommendations = %d, want 4 (one per dimension)", len(recs))
	}
	seen := map[string]bool{}
	for _, rec := range recs {
		if seen[rec] {
			t.Errorf("duplicate recommendation %q", rec)
		}
		seen[rec] = true
	}
}
