package wakeword

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultVerifyThreshold = 0.7

// VerifierOption is a functional option for configuring a [Verifier].
type VerifierOption func(*Verifier)

// WithVerifyThreshold sets the minimum similarity score for a transcript to
// count as containing the wake word. Default: 0.7.
func WithVerifyThreshold(threshold float64) VerifierOption {
	return func(v *Verifier) {
		v.threshold = threshold
	}
}

// Verifier confirms a wake-word trigger against the transcript of the
// triggering utterance. The energy heuristic in [Detector] fires on any
// voiced speech; the verifier checks that the speech actually contained the
// wake word, tolerating transcription misspellings through Soundex codes and
// Levenshtein distance.
//
// A Verifier is read-only after construction and safe for concurrent use.
type Verifier struct {
	word      string
	tokens    []string
	soundex   []string
	threshold float64
}

// NewVerifier creates a Verifier for the given wake word. Multi-word wake
// phrases are supported.
func NewVerifier(word string, opts ...VerifierOption) *Verifier {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(word)))
	v := &Verifier{
		word:      word,
		tokens:    tokens,
		soundex:   make([]string, len(tokens)),
		threshold: defaultVerifyThreshold,
	}
	for i, t := range tokens {
		v.soundex[i] = matchr.Soundex(t)
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify reports whether transcript contains the wake word, and with what
// similarity score. The transcript is scanned token-wise: every window of
// as many tokens as the wake phrase has is scored, and adjacent tokens are
// additionally tried joined, so "ear shot" can match "earshot".
func (v *Verifier) Verify(transcript string) (score float64, ok bool) {
	if len(v.tokens) == 0 {
		return 0, false
	}
	words := strings.Fields(strings.ToLower(transcript))
	if len(words) == 0 {
		return 0, false
	}

	var best float64
	n := len(v.tokens)

	for i := 0; i+n <= len(words); i++ {
		if s := v.scoreWindow(words[i : i+n]); s > best {
			best = s
		}
	}

	// A spoken compound word may be transcribed split. Try joining each
	// adjacent pair against the full phrase.
	joined := strings.Join(v.tokens, "")
	for i := 0; i+1 < len(words); i++ {
		if s := v.scoreToken(words[i]+words[i+1], joined, matchr.Soundex(joined)); s > best {
			best = s
		}
	}

	return best, best >= v.threshold
}

// scoreWindow scores a token window against the wake phrase, averaging the
// per-token scores.
func (v *Verifier) scoreWindow(window []string) float64 {
	var sum float64
	for i, t := range v.tokens {
		sum += v.scoreToken(window[i], t, v.soundex[i])
	}
	return sum / float64(len(v.tokens))
}

// scoreToken scores one transcript token against one wake-word token. Exact
// matches score 1. Soundex-equal tokens are near-misses of the same sound
// and score at least 0.8. Everything else falls back to normalized
// Levenshtein similarity.
func (v *Verifier) scoreToken(got, want, wantSoundex string) float64 {
	if got == want {
		return 1
	}

	sim := levenshteinSimilarity(got, want)
	if wantSoundex != "" && matchr.Soundex(got) == wantSoundex && sim < 0.8 {
		sim = 0.8
	}
	return sim
}

// levenshteinSimilarity normalizes edit distance into [0, 1], where 1 is an
// exact match.
func levenshteinSimilarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dist := matchr.Levenshtein(a, b)
	sim := 1 - float64(dist)/float64(longest)
	if sim < 0 {
		return 0
	}
	return sim
}
