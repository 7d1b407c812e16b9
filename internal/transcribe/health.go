package transcribe

import (
	"sync"
	"time"
)

const (
	// minAttemptsForVerdict is how many attempts a provider needs before its
	// success rate can mark it unhealthy. Below this the provider is given
	// the benefit of the doubt.
	minAttemptsForVerdict = 5

	// unhealthyRate is the success-rate threshold below which a provider is
	// marked unhealthy.
	unhealthyRate = 0.5
)

// ProviderHealth is a snapshot of one provider's health record.
type ProviderHealth struct {
	Provider        string
	Healthy         bool
	Successes       uint64
	Failures        uint64
	AvgResponseTime time.Duration
	LastError       string
	LastChecked     time.Time
}

// healthRecord is the mutable per-provider record. Records live for the
// process lifetime and are never deleted, only updated.
type healthRecord struct {
	healthy      bool
	successes    uint64
	failures     uint64
	totalElapsed time.Duration
	lastError    string
	lastChecked  time.Time
}

func (r *healthRecord) snapshot(name string) ProviderHealth {
	h := ProviderHealth{
		Provider:    name,
		Healthy:     r.healthy,
		Successes:   r.successes,
		Failures:    r.failures,
		LastError:   r.lastError,
		LastChecked: r.lastChecked,
	}
	if r.successes > 0 {
		h.AvgResponseTime = r.totalElapsed / time.Duration(r.successes)
	}
	return h
}

// healthStore tracks health records for all registered providers behind a
// single lock. Updates come from transcription attempts and probes; reads
// come from provider ordering and external snapshots.
type healthStore struct {
	mu      sync.RWMutex
	records map[string]*healthRecord
}

func newHealthStore() *healthStore {
	return &healthStore{records: make(map[string]*healthRecord)}
}

// register creates a record for name. New providers start healthy.
func (hs *healthStore) register(name string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if _, ok := hs.records[name]; !ok {
		hs.records[name] = &healthRecord{healthy: true}
	}
}

// recordSuccess marks one successful attempt. A success always restores the
// provider to healthy. Returns true if the healthy flag flipped.
func (hs *healthStore) recordSuccess(name string, elapsed time.Duration) (changed bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	r, ok := hs.records[name]
	if !ok {
		return false
	}
	r.successes++
	r.totalElapsed += elapsed
	r.lastError = ""
	r.lastChecked = time.Now()
	if !r.healthy {
		r.healthy = true
		return true
	}
	return false
}

// recordFailure marks one failed attempt. The provider becomes unhealthy
// once its success rate drops below 50% over at least five attempts.
// Returns true if the healthy flag flipped.
func (hs *healthStore) recordFailure(name string, err error) (changed bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	r, ok := hs.records[name]
	if !ok {
		return false
	}
	r.failures++
	if err != nil {
		r.lastError = err.Error()
	}
	r.lastChecked = time.Now()

	attempts := r.successes + r.failures
	rate := float64(r.successes) / float64(attempts)
	if attempts >= minAttemptsForVerdict && rate < unhealthyRate && r.healthy {
		r.healthy = false
		return true
	}
	return false
}

// isHealthy reports the current healthy flag. Unknown providers are treated
// as healthy so ordering never hides a freshly registered provider.
func (hs *healthStore) isHealthy(name string) bool {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	r, ok := hs.records[name]
	if !ok {
		return true
	}
	return r.healthy
}

// get returns a snapshot for one provider.
func (hs *healthStore) get(name string) (ProviderHealth, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	r, ok := hs.records[name]
	if !ok {
		return ProviderHealth{}, false
	}
	return r.snapshot(name), true
}

// all returns snapshots for every registered provider.
func (hs *healthStore) all() []ProviderHealth {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	out := make([]ProviderHealth, 0, len(hs.records))
	for name, r := range hs.records {
		out = append(out, r.snapshot(name))
	}
	return out
}
