package stt

import "time"

// Transcript is the text a provider recognised in one clip.
type Transcript struct {
	// Text is the transcribed speech content. Empty means no speech was
	// understood.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available (Deepgram).
	Words []WordDetail

	// Duration is the length of the audio that was decoded.
	Duration time.Duration

	// Provider names the backend that produced the transcript.
	Provider string
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
