// Package ledger records ingestion outcomes in a local SQLite database
// so operators can answer "what is indexed for this course" without
// querying the vector store.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS ingest_records (
	course_id     TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	chunk_count   INTEGER NOT NULL,
	quality_score REAL NOT NULL,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (course_id, resource_id)
);
CREATE INDEX IF NOT EXISTS idx_ingest_records_course ON ingest_records (course_id);
`

// Store persists ingest records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path. The parent
// directory is created if missing. WAL mode keeps concurrent ingest
// workers from blocking each other.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("ledger: creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts the outcome of one resource ingestion. Re-ingesting a
// resource replaces its previous row.
func (s *Store) Record(ctx context.Context, rec domain.IngestRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_records (course_id, resource_id, chunk_count, quality_score, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (course_id, resource_id) DO UPDATE SET
			chunk_count   = excluded.chunk_count,
			quality_score = excluded.quality_score,
			created_at    = excluded.created_at`,
		rec.CourseID, rec.ResourceID, rec.ChunkCount, rec.QualityScore, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("ledger: recording %s/%s: %w", rec.CourseID, rec.ResourceID, err)
	}
	return nil
}

// ByCourse returns all records for a course, newest first.
func (s *Store) ByCourse(ctx context.Context, courseID string) ([]domain.IngestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT course_id, resource_id, chunk_count, quality_score, created_at
		FROM ingest_records WHERE course_id = ? ORDER BY created_at DESC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying course %s: %w", courseID, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Delete removes the record for a resource. Returns true if a row existed.
func (s *Store) Delete(ctx context.Context, courseID, resourceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ingest_records WHERE course_id = ? AND resource_id = ?`, courseID, resourceID)
	if err != nil {
		return false, fmt.Errorf("ledger: deleting %s/%s: %w", courseID, resourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TotalChunks returns the chunk count summed across a course.
func (s *Store) TotalChunks(ctx context.Context, courseID string) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(chunk_count) FROM ingest_records WHERE course_id = ?`, courseID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: summing chunks for %s: %w", courseID, err)
	}
	return int(total.Int64), nil
}

func scanRecords(rows *sql.Rows) ([]domain.IngestRecord, error) {
	var out []domain.IngestRecord
	for rows.Next() {
		var rec domain.IngestRecord
		var createdAt int64
		if err := rows.Scan(&rec.CourseID, &rec.ResourceID, &rec.ChunkCount, &rec.QualityScore, &createdAt); err != nil {
			return nil, fmt.Errorf("ledger: scanning row: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
