package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/earshot/earshot/pkg/provider/asr"
)

// ErrProviderNotRegistered is returned by [Registry.CreateASR] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps ASR provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	asr map[string]func(ProviderEntry) (asr.Transcriber, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr: make(map[string]func(ProviderEntry) (asr.Transcriber, error)),
	}
}

// RegisterASR registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// CreateASR instantiates a transcriber using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// BuiltProvider pairs an instantiated transcriber with its configured priority.
type BuiltProvider struct {
	Transcriber asr.Transcriber
	Priority    int
}

// CreateAllASR instantiates every provider in entries, returned in ascending
// priority order. It fails on the first provider that cannot be built.
func (r *Registry) CreateAllASR(entries []ProviderEntry) ([]BuiltProvider, error) {
	built := make([]BuiltProvider, 0, len(entries))
	for _, entry := range entries {
		t, err := r.CreateASR(entry)
		if err != nil {
			return nil, fmt.Errorf("config: build provider %q: %w", entry.Name, err)
		}
		built = append(built, BuiltProvider{Transcriber: t, Priority: entry.Priority})
	}
	sort.SliceStable(built, func(i, j int) bool {
		return built[i].Priority < built[j].Priority
	})
	return built, nil
}
