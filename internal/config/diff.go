package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WakeWordChanged is true when the wake word or its sensitivity changed.
	WakeWordChanged bool
	NewWakeWord     WakeWordConfig

	ProvidersChanged bool
	ProviderChanges  []ProviderDiff

	// PreferredChanged is true when providers.preferred changed.
	PreferredChanged bool
	NewPreferred     string
}

// ProviderDiff describes what changed for a single ASR provider between two
// configs. Providers are matched by name.
type ProviderDiff struct {
	Name            string
	PriorityChanged bool
	ModelChanged    bool
	Added           bool
	Removed         bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Wake word
	if old.WakeWord.Word != new.WakeWord.Word || old.WakeWord.Sensitivity != new.WakeWord.Sensitivity {
		d.WakeWordChanged = true
		d.NewWakeWord = new.WakeWord
	}

	// Preferred provider
	if old.Providers.Preferred != new.Providers.Preferred {
		d.PreferredChanged = true
		d.NewPreferred = new.Providers.Preferred
	}

	// Build provider lookup maps keyed by name.
	oldProviders := make(map[string]*ProviderEntry, len(old.Providers.ASR))
	for i := range old.Providers.ASR {
		oldProviders[old.Providers.ASR[i].Name] = &old.Providers.ASR[i]
	}
	newProviders := make(map[string]*ProviderEntry, len(new.Providers.ASR))
	for i := range new.Providers.ASR {
		newProviders[new.Providers.ASR[i].Name] = &new.Providers.ASR[i]
	}

	// Detect modified and removed providers.
	for name, oldP := range oldProviders {
		newP, exists := newProviders[name]
		if !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{
				Name:    name,
				Removed: true,
			})
			d.ProvidersChanged = true
			continue
		}
		pd := diffProvider(name, oldP, newP)
		if pd.PriorityChanged || pd.ModelChanged {
			d.ProviderChanges = append(d.ProviderChanges, pd)
			d.ProvidersChanged = true
		}
	}

	// Detect added providers.
	for name := range newProviders {
		if _, exists := oldProviders[name]; !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{
				Name:  name,
				Added: true,
			})
			d.ProvidersChanged = true
		}
	}

	return d
}

// diffProvider compares two provider entries with the same name.
func diffProvider(name string, old, new *ProviderEntry) ProviderDiff {
	pd := ProviderDiff{Name: name}

	if old.Priority != new.Priority {
		pd.PriorityChanged = true
	}

	if old.Model != new.Model {
		pd.ModelChanged = true
	}

	return pd
}
