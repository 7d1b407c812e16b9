// Package archive defines the transcript archive contract. Every
// transcription the pipeline produces can be persisted as a [Record] for
// later retrieval and full-text search.
//
// The PostgreSQL implementation lives in the postgres subpackage; a
// call-recording test double lives in mock.
package archive

import (
	"context"
	"time"
)

// Record is one archived transcription.
type Record struct {
	// ID is assigned by the store on save. Zero before persistence.
	ID int64

	// Text is the transcribed text.
	Text string

	// Confidence is the provider's confidence in [0, 1], 0 when unknown.
	Confidence float64

	// Provider names the transcriber that produced the text.
	Provider string

	// WakeWord is the wake word that preceded this utterance, or empty for
	// continuous capture.
	WakeWord string

	// CapturedAt is when the utterance began, in wall-clock time.
	CapturedAt time.Time

	// AudioDuration is the length of the captured audio.
	AudioDuration time.Duration

	// Elapsed is the transcription latency.
	Elapsed time.Duration
}

// Store persists and retrieves transcription records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists r and returns its assigned ID.
	Save(ctx context.Context, r Record) (int64, error)

	// Recent returns up to limit records ordered newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Search performs a full-text search over archived transcripts and
	// returns up to limit matches ordered newest first.
	Search(ctx context.Context, query string, limit int) ([]Record, error)

	// Prune deletes records captured before cutoff and reports how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases any resources held by the store.
	Close()
}
