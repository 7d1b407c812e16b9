package archive

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	searchDefaultLimit = 20
	searchMaxLimit     = 100
)

// searchResult is the JSON shape served for one matched record.
type searchResult struct {
	ID              int64     `json:"id"`
	Text            string    `json:"text"`
	Confidence      float64   `json:"confidence,omitempty"`
	Provider        string    `json:"provider"`
	WakeWord        string    `json:"wake_word,omitempty"`
	CapturedAt      time.Time `json:"captured_at"`
	AudioDurationMS int64     `json:"audio_duration_ms"`
}

// SearchHandler serves full-text search over the archive as JSON. The query
// comes from the "q" parameter; "limit" caps the number of matches (default
// 20, at most 100). Matches are returned newest first.
func SearchHandler(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}

		limit := searchDefaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, searchMaxLimit)
		}

		records, err := store.Search(r.Context(), query, limit)
		if err != nil {
			slog.Warn("archive search failed", "query", query, "err", err)
			http.Error(w, "search failed", http.StatusInternalServerError)
			return
		}

		results := make([]searchResult, 0, len(records))
		for _, rec := range records {
			results = append(results, searchResult{
				ID:              rec.ID,
				Text:            rec.Text,
				Confidence:      rec.Confidence,
				Provider:        rec.Provider,
				WakeWord:        rec.WakeWord,
				CapturedAt:      rec.CapturedAt,
				AudioDurationMS: rec.AudioDuration.Milliseconds(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(results); err != nil {
			slog.Warn("archive search response write failed", "err", err)
		}
	})
}
