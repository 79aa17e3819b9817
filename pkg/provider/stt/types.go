package stt

import "time"

// Transcript is one recognition result, interim or final.
type Transcript struct {
	// Text holds the recognized speech.
	Text string

	// IsFinal marks an authoritative result. Interim results may still be
	// revised by the recognizer.
	IsFinal bool

	// Confidence ranges 0.0 to 1.0. Zero when the backend reports none.
	Confidence float64

	// Words carries per-word timing when the backend provides it
	// (Deepgram does, whisper.cpp does not). Nil otherwise.
	Words []WordDetail

	// SpeakerID is set when diarization is on.
	SpeakerID string

	// Timestamp is the utterance start, relative to session start.
	Timestamp time.Duration

	// Duration is how long the utterance lasted.
	Duration time.Duration
}

// WordDetail is per-word timing and confidence.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost raises recognition likelihood for domain vocabulary such as
// machine brands ("Marzocco") that generic acoustic models miss.
type KeywordBoost struct {
	Keyword string

	// Boost uses the backend's own scale.
	Boost float64
}
