package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindMatching(t *testing.T) {
	err := E(KindNoFilter, "index.delete", errors.New("empty filter map"))
	if !errors.Is(err, ErrNoFilterProvided) {
		t.Error("expected wrapped error to match sentinel by kind")
	}
	if errors.Is(err, ErrNoVectorsProvided) {
		t.Error("kinds must not cross-match")
	}
}

func TestErrorKindSurvivesWrapping(t *testing.T) {
	inner := Ef(KindDimensionMismatch, "index.insert", "expected 768, found 512")
	wrapped := fmt.Errorf("ingest: store stage: %w", inner)
	if KindOf(wrapped) != KindDimensionMismatch {
		t.Errorf("KindOf through fmt wrap = %q", KindOf(wrapped))
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(Ef(KindInvalidVector, "index.insert", "NaN at 3")) {
		t.Error("validation failures are not retryable")
	}
	if !Retryable(E(KindExternalService, "embed", errors.New("status 503"))) {
		t.Error("external service failures are retryable")
	}
	if Retryable(errors.New("plain")) {
		t.Error("non-domain errors are not retryable")
	}
}

func TestValidateDocument(t *testing.T) {
	doc := Document{ID: "d1", CourseID: "c1", Raw: "some text"}
	if err := ValidateDocument(doc); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}

	doc.Raw = "   \n\t "
	err := ValidateDocument(doc)
	if err == nil {
		t.Fatal("expected error for whitespace-only raw text")
	}
	if KindOf(err) != KindInvalidContent {
		t.Errorf("kind = %q, want invalid_content", KindOf(err))
	}
}

func TestValidateChunk(t *testing.T) {
	c := Chunk{DocID: "d1", Index: 0, Text: "hello world", Strategy: StrategySentence}
	if err := ValidateChunk(c); err != nil {
		t.Fatalf("valid chunk rejected: %v", err)
	}
	c.Strategy = "bogus"
	if err := ValidateChunk(c); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
