package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// store changes need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged covers instructions and catalog. Applied to the store
	// settings so the next session picks the new text up.
	PersonaChanged bool

	// MaintenanceChanged flips the maintenance gate without a restart.
	MaintenanceChanged bool
	MaintenanceEnabled bool

	// VoiceChanged covers the prebuilt voice name. Running sessions keep
	// their voice; the next Start uses the new one.
	VoiceChanged bool
	NewVoice     string

	// BargeInChanged covers threshold and cooldown tuning.
	BargeInChanged bool
}

// Changed reports whether the diff carries anything to apply.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.MaintenanceChanged ||
		d.VoiceChanged || d.BargeInChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Persona != new.Persona {
		d.PersonaChanged = true
	}

	if old.Maintenance.Enabled != new.Maintenance.Enabled {
		d.MaintenanceChanged = true
		d.MaintenanceEnabled = new.Maintenance.Enabled
	}

	if old.Voice.Voice != new.Voice.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Voice.Voice
	}

	if old.Voice.BargeInThreshold != new.Voice.BargeInThreshold ||
		old.Voice.BargeInCooldownMs != new.Voice.BargeInCooldownMs ||
		old.Voice.BargeInIntervalMs != new.Voice.BargeInIntervalMs {
		d.BargeInChanged = true
	}

	return d
}
