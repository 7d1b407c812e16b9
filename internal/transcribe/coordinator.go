// Package transcribe coordinates speech-to-text across multiple providers.
//
// The [Coordinator] holds a set of [asr.Transcriber] adapters, each with an
// assigned priority, and converts utterances to text by trying providers in
// order until one succeeds. Provider health is tracked across calls: a
// provider whose success rate drops below 50% over at least five attempts is
// marked unhealthy and sorted behind healthy providers of equal priority,
// but it is never skipped outright; a single success restores it.
//
// Every fallback (provider failed, trying the next) and every health flip is
// published on its own notification channel so operators can observe
// degradation without scraping logs.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/earshot/earshot/pkg/provider/asr"
)

// ErrAllProvidersFailed is returned when every registered provider fails for
// one utterance. The wrapping error names each attempted provider.
var ErrAllProvidersFailed = errors.New("transcribe: all providers failed")

// ErrNoProviders is returned by ConvertToText when nothing is registered.
var ErrNoProviders = errors.New("transcribe: no providers registered")

// Transcription is the outcome of one successful ConvertToText call.
type Transcription struct {
	asr.Result

	// Provider is the name of the adapter that served the result.
	Provider string

	// WasFallbackUsed is true when at least one earlier provider was tried
	// and failed before this result.
	WasFallbackUsed bool

	// ProvidersTried lists every provider invoked for this utterance, in
	// order, the serving provider last.
	ProvidersTried []string

	// TotalElapsed is the wall time across all attempts, failed ones
	// included.
	TotalElapsed time.Duration
}

// FallbackEvent is published when a provider fails and the coordinator moves
// on to the next one.
type FallbackEvent struct {
	Failed string
	Next   string
	Err    error
	At     time.Time
}

// HealthChange is published when a provider's healthy flag flips.
type HealthChange struct {
	Provider string
	Healthy  bool
	At       time.Time
}

// entry pairs a registered transcriber with its priority. Lower priority
// values are tried first.
type entry struct {
	transcriber asr.Transcriber
	priority    int
}

// Coordinator is a multi-provider speech-to-text facade. Safe for concurrent
// use; calls for different utterances may run in parallel and share only the
// health store.
type Coordinator struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string // registration order, for stable sorting

	health    *healthStore
	fallbacks chan FallbackEvent
	changes   chan HealthChange
}

// NewCoordinator creates an empty Coordinator. Providers are added with
// [Coordinator.Register].
func NewCoordinator() *Coordinator {
	return &Coordinator{
		entries:   make(map[string]entry),
		health:    newHealthStore(),
		fallbacks: make(chan FallbackEvent, 16),
		changes:   make(chan HealthChange, 16),
	}
}

// Register adds a provider under its own Name with the given priority.
// Lower priority values are tried first. Registering a name twice replaces
// the earlier adapter but keeps its health record.
func (c *Coordinator) Register(t asr.Transcriber, priority int) {
	name := t.Name()
	c.mu.Lock()
	if _, ok := c.entries[name]; !ok {
		c.order = append(c.order, name)
	}
	c.entries[name] = entry{transcriber: t, priority: priority}
	c.mu.Unlock()
	c.health.register(name)
}

// Fallbacks returns the channel of per-call fallback notifications. Events
// are dropped, not blocked on, when the channel is full.
func (c *Coordinator) Fallbacks() <-chan FallbackEvent {
	return c.fallbacks
}

// HealthChanges returns the channel of health transition notifications.
// Events are dropped, not blocked on, when the channel is full.
func (c *Coordinator) HealthChanges() <-chan HealthChange {
	return c.changes
}

// Health returns a snapshot of every provider's health record.
func (c *Coordinator) Health() []ProviderHealth {
	return c.health.all()
}

// ProviderHealth returns the health snapshot for one provider.
func (c *Coordinator) ProviderHealth(name string) (ProviderHealth, bool) {
	return c.health.get(name)
}

// ConvertToText transcribes one utterance, trying providers in order until
// one succeeds. preferred, when non-empty and registered, is tried first;
// the remaining providers follow sorted by priority, with health breaking
// ties. An unknown preferred name is ignored.
//
// Cancelling ctx aborts the in-flight provider call and returns immediately;
// the aborted call does not count against the provider's health.
func (c *Coordinator) ConvertToText(ctx context.Context, pcm []byte, preferred string) (Transcription, error) {
	ordered := c.providerOrder(preferred)
	if len(ordered) == 0 {
		return Transcription{}, ErrNoProviders
	}

	start := time.Now()
	var tried []string

	for i, name := range ordered {
		c.mu.RLock()
		e, ok := c.entries[name]
		c.mu.RUnlock()
		if !ok {
			continue
		}

		tried = append(tried, name)
		result, err := e.transcriber.Transcribe(ctx, pcm)

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Aborted, not failed: the provider never got to answer.
			return Transcription{}, fmt.Errorf("transcribe: cancelled during %s: %w", name, err)
		}

		if err == nil {
			if c.health.recordSuccess(name, result.Elapsed) {
				c.notifyHealth(name, true)
			}
			return Transcription{
				Result:          result,
				Provider:        name,
				WasFallbackUsed: i > 0,
				ProvidersTried:  tried,
				TotalElapsed:    time.Since(start),
			}, nil
		}

		if c.health.recordFailure(name, err) {
			c.notifyHealth(name, false)
		}

		next := ""
		if i+1 < len(ordered) {
			next = ordered[i+1]
		}
		slog.Warn("provider failed, trying next",
			"provider", name, "next", next, "error", err)
		c.notifyFallback(name, next, err)
	}

	return Transcription{}, fmt.Errorf("%w: tried %s",
		ErrAllProvidersFailed, strings.Join(tried, ", "))
}

// TestAllProviders probes every registered provider without running a full
// transcription and updates health from the outcomes. The returned map holds
// each provider's probe error, nil for reachable providers.
func (c *Coordinator) TestAllProviders(ctx context.Context) map[string]error {
	c.mu.RLock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	c.mu.RUnlock()

	results := make(map[string]error, len(names))
	for _, name := range names {
		c.mu.RLock()
		e, ok := c.entries[name]
		c.mu.RUnlock()
		if !ok {
			continue
		}

		probeStart := time.Now()
		err := e.transcriber.Probe(ctx)
		results[name] = err
		if err == nil {
			if c.health.recordSuccess(name, time.Since(probeStart)) {
				c.notifyHealth(name, true)
			}
			continue
		}
		slog.Warn("provider probe failed", "provider", name, "error", err)
		if c.health.recordFailure(name, err) {
			c.notifyHealth(name, false)
		}
	}
	return results
}

// providerOrder builds the attempt order: preferred first, then priority
// ascending with health breaking ties, healthy first. Full ties keep
// registration order.
func (c *Coordinator) providerOrder(preferred string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rest := make([]string, 0, len(c.order))
	var havePreferred bool
	for _, name := range c.order {
		if name == preferred {
			havePreferred = true
			continue
		}
		rest = append(rest, name)
	}

	sort.SliceStable(rest, func(i, j int) bool {
		pi, pj := c.entries[rest[i]].priority, c.entries[rest[j]].priority
		if pi != pj {
			return pi < pj
		}
		hi, hj := c.health.isHealthy(rest[i]), c.health.isHealthy(rest[j])
		return hi && !hj
	})

	if havePreferred {
		return append([]string{preferred}, rest...)
	}
	return rest
}

func (c *Coordinator) notifyFallback(failed, next string, err error) {
	select {
	case c.fallbacks <- FallbackEvent{Failed: failed, Next: next, Err: err, At: time.Now()}:
	default:
		slog.Debug("fallback notification dropped", "failed", failed)
	}
}

func (c *Coordinator) notifyHealth(name string, healthy bool) {
	select {
	case c.changes <- HealthChange{Provider: name, Healthy: healthy, At: time.Now()}:
	default:
		slog.Debug("health notification dropped", "provider", name)
	}
}
