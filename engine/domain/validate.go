package domain

import "strings"

// ValidateDocument checks a Document before it enters the ingestion pipeline.
func ValidateDocument(doc Document) error {
	if strings.TrimSpace(doc.Raw) == "" {
		return Ef(KindInvalidContent, "validate", "document %s: raw text is empty", doc.ID)
	}
	if doc.ID == "" {
		return Ef(KindInvalidContent, "validate", "document id is empty")
	}
	if doc.CourseID == "" {
		return Ef(KindInvalidContent, "validate", "document %s: course id is empty", doc.ID)
	}
	return nil
}

// ValidateChunk rejects chunks that must never reach storage.
func ValidateChunk(c Chunk) error {
	if strings.TrimSpace(c.Text) == "" {
		return Ef(KindInvalidContent, "validate", "chunk %s[%d]: text is empty", c.DocID, c.Index)
	}
	if !ValidStrategies[c.Strategy] {
		return Ef(KindInvalidContent, "validate", "chunk %s[%d]: unknown strategy %q", c.DocID, c.Index, c.Strategy)
	}
	return nil
}
