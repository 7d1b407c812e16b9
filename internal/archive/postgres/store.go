// Package postgres provides a PostgreSQL-backed implementation of
// [archive.Store].
//
// Transcripts are kept in a single transcripts table with a GIN full-text
// search index over the text column. [Migrate] installs the schema and is
// safe to call on every application start.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/earshot/earshot/internal/archive"
)

var _ archive.Store = (*Store)(nil)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id             BIGSERIAL    PRIMARY KEY,
    text           TEXT         NOT NULL,
    confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
    provider       TEXT         NOT NULL DEFAULT '',
    wake_word      TEXT         NOT NULL DEFAULT '',
    captured_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    audio_dur_ns   BIGINT       NOT NULL DEFAULT 0,
    elapsed_ns     BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transcripts_captured_at
    ON transcripts (captured_at);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('english', text));
`

// Store is the PostgreSQL transcript archive. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn
// and runs [Migrate] to ensure the transcripts table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates or ensures the transcripts table and its indexes exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}

// Save implements [archive.Store].
func (s *Store) Save(ctx context.Context, r archive.Record) (int64, error) {
	const q = `
		INSERT INTO transcripts
		    (text, confidence, provider, wake_word, captured_at, audio_dur_ns, elapsed_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	capturedAt := r.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	var id int64
	err := s.pool.QueryRow(ctx, q,
		r.Text,
		r.Confidence,
		r.Provider,
		r.WakeWord,
		capturedAt,
		r.AudioDuration.Nanoseconds(),
		r.Elapsed.Nanoseconds(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("archive: save: %w", err)
	}
	return id, nil
}

// Recent implements [archive.Store]. It returns up to limit records ordered
// newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]archive.Record, error) {
	const q = `
		SELECT id, text, confidence, provider, wake_word, captured_at, audio_dur_ns, elapsed_ns
		FROM   transcripts
		ORDER  BY captured_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: recent: %w", err)
	}
	return collectRecords(rows)
}

// Search implements [archive.Store]. It performs a PostgreSQL full-text
// search over the text column. The query is passed to plainto_tsquery so no
// special operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]archive.Record, error) {
	const q = `
		SELECT id, text, confidence, provider, wake_word, captured_at, audio_dur_ns, elapsed_ns
		FROM   transcripts
		WHERE  to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		ORDER  BY captured_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}
	return collectRecords(rows)
}

// Prune implements [archive.Store]. It deletes records captured before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transcripts WHERE captured_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectRecords scans pgx rows into a slice of Record values.
func collectRecords(rows pgx.Rows) ([]archive.Record, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Record, error) {
		var (
			r          archive.Record
			audioDurNS int64
			elapsedNS  int64
		)
		if err := row.Scan(
			&r.ID,
			&r.Text,
			&r.Confidence,
			&r.Provider,
			&r.WakeWord,
			&r.CapturedAt,
			&audioDurNS,
			&elapsedNS,
		); err != nil {
			return archive.Record{}, err
		}
		r.AudioDuration = time.Duration(audioDurNS)
		r.Elapsed = time.Duration(elapsedNS)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan rows: %w", err)
	}
	if records == nil {
		records = []archive.Record{}
	}
	return records, nil
}
