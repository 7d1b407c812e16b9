package config_test

import (
	"testing"

	"github.com/earshot/earshot/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogInfo},
		WakeWord: config.WakeWordConfig{Word: "earshot", Sensitivity: 1.0},
		Providers: config.ProvidersConfig{
			ASR: []config.ProviderEntry{{Name: "whisper", Priority: 1}},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.WakeWordChanged {
		t.Error("expected WakeWordChanged=false for identical configs")
	}
	if d.ProvidersChanged {
		t.Error("expected ProvidersChanged=false for identical configs")
	}
	if len(d.ProviderChanges) != 0 {
		t.Errorf("expected 0 provider changes, got %d", len(d.ProviderChanges))
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogDebug)
	}
}

func TestDiff_WakeWordChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{WakeWord: config.WakeWordConfig{Word: "earshot", Sensitivity: 1.0}}
	new := &config.Config{WakeWord: config.WakeWordConfig{Word: "jarvis", Sensitivity: 1.0}}

	d := config.Diff(old, new)
	if !d.WakeWordChanged {
		t.Fatal("expected WakeWordChanged=true")
	}
	if d.NewWakeWord.Word != "jarvis" {
		t.Errorf("NewWakeWord.Word: got %q, want %q", d.NewWakeWord.Word, "jarvis")
	}
}

func TestDiff_SensitivityOnlyChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{WakeWord: config.WakeWordConfig{Word: "earshot", Sensitivity: 1.0}}
	new := &config.Config{WakeWord: config.WakeWordConfig{Word: "earshot", Sensitivity: 0.5}}

	d := config.Diff(old, new)
	if !d.WakeWordChanged {
		t.Fatal("sensitivity change should set WakeWordChanged")
	}
}

func TestDiff_ProviderAddedAndRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		ASR: []config.ProviderEntry{{Name: "whisper", Priority: 1}},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		ASR: []config.ProviderEntry{{Name: "deepgram", Priority: 1}},
	}}

	d := config.Diff(old, new)
	if !d.ProvidersChanged {
		t.Fatal("expected ProvidersChanged=true")
	}
	var added, removed bool
	for _, pc := range d.ProviderChanges {
		if pc.Name == "deepgram" && pc.Added {
			added = true
		}
		if pc.Name == "whisper" && pc.Removed {
			removed = true
		}
	}
	if !added {
		t.Error("expected deepgram marked Added")
	}
	if !removed {
		t.Error("expected whisper marked Removed")
	}
}

func TestDiff_ProviderPriorityChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		ASR: []config.ProviderEntry{{Name: "whisper", Priority: 1}},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		ASR: []config.ProviderEntry{{Name: "whisper", Priority: 5}},
	}}

	d := config.Diff(old, new)
	if !d.ProvidersChanged {
		t.Fatal("expected ProvidersChanged=true")
	}
	if len(d.ProviderChanges) != 1 || !d.ProviderChanges[0].PriorityChanged {
		t.Errorf("expected single PriorityChanged diff, got %+v", d.ProviderChanges)
	}
}

func TestDiff_PreferredChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{Preferred: "whisper"}}
	new := &config.Config{Providers: config.ProvidersConfig{Preferred: "deepgram"}}

	d := config.Diff(old, new)
	if !d.PreferredChanged {
		t.Fatal("expected PreferredChanged=true")
	}
	if d.NewPreferred != "deepgram" {
		t.Errorf("NewPreferred: got %q, want %q", d.NewPreferred, "deepgram")
	}
}

func TestDiff_APIKeyChangeIgnored(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		ASR: []config.ProviderEntry{{Name: "whisper", APIKey: "old"}},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		ASR: []config.ProviderEntry{{Name: "whisper", APIKey: "new"}},
	}}

	d := config.Diff(old, new)
	if d.ProvidersChanged {
		t.Error("api key changes require restart and should not appear in the diff")
	}
}
