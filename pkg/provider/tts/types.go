package tts

// VoiceProfile selects and shapes a synthesis voice.
type VoiceProfile struct {
	// ID is the backend's voice identifier.
	ID string

	// Name is the display name.
	Name string

	// Provider names the backend the voice belongs to.
	Provider string

	// PitchShift runs -10 to +10, 0 meaning unmodified.
	PitchShift float64

	// SpeedFactor runs 0.5 to 2.0, 1.0 meaning natural rate.
	SpeedFactor float64

	// Metadata carries backend-specific attributes like gender or accent.
	Metadata map[string]string
}
