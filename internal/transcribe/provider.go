package transcribe

import (
	"context"

	"github.com/snarg/call-engine/internal/pipeline"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, data []byte, filename string, opts Opts) (*Response, error)
	Name() string  // "deepgram", "whisper"
	Model() string // model identifier for DB/logs
}

// Opts are per-request options common to all providers.
type Opts struct {
	Language    string
	Temperature float64
	// Diarize requests speaker-labelled utterances from providers that
	// support them.
	Diarize bool
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	// Segments are diarized utterances; nil if the provider doesn't
	// support diarization.
	Segments []pipeline.SpeakerSegment
}
