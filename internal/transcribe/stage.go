package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/pipeline"
)

// Stage is the transcription stage of the pipeline. It runs the primary
// provider (diarizing) and falls back to the secondary when the primary
// fails; the fallback chain is invisible to the sequencer, which only sees
// one Attempt.
type Stage struct {
	primary  Provider
	fallback Provider // optional
	language string
	log      zerolog.Logger
}

// NewStage creates the transcription stage. fallback may be nil.
func NewStage(primary, fallback Provider, language string, log zerolog.Logger) *Stage {
	return &Stage{
		primary:  primary,
		fallback: fallback,
		language: language,
		log:      log.With().Str("stage", pipeline.StageTranscription).Logger(),
	}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string { return pipeline.StageTranscription }

// Attempt implements pipeline.Stage. Text inputs pass through without a
// provider call; audio inputs go to the primary provider, then the fallback.
// Re-invocation on the same record is safe: the full stage re-runs and
// overwrites only its own output fields.
func (s *Stage) Attempt(ctx context.Context, rec *pipeline.Record) error {
	if rec.Input.Kind == pipeline.InputText {
		text := strings.TrimSpace(string(rec.Input.Content))
		if text == "" {
			return errors.New("text input contains no transcript")
		}
		rec.Transcript = text
		return nil
	}

	if len(rec.Input.Content) == 0 {
		return errors.New("audio input is empty")
	}

	opts := Opts{Language: s.language, Diarize: true}

	resp, primaryErr := s.primary.Transcribe(ctx, rec.Input.Content, rec.Input.Filename, opts)
	if primaryErr == nil {
		rec.Transcript = resp.Text
		rec.Speakers = resp.Segments
		s.log.Info().
			Str("call_id", rec.ID).
			Str("provider", s.primary.Name()).
			Int("chars", len(resp.Text)).
			Int("segments", len(resp.Segments)).
			Msg("transcription complete")
		return nil
	}

	if s.fallback == nil {
		return fmt.Errorf("%s: %w", s.primary.Name(), primaryErr)
	}

	s.log.Warn().
		Str("call_id", rec.ID).
		Str("provider", s.primary.Name()).
		Err(primaryErr).
		Msg("primary transcription failed, trying fallback")

	resp, fallbackErr := s.fallback.Transcribe(ctx, rec.Input.Content, rec.Input.Filename, opts)
	if fallbackErr != nil {
		return fmt.Errorf("%s: %v; %s fallback: %w",
			s.primary.Name(), primaryErr, s.fallback.Name(), fallbackErr)
	}

	rec.Transcript = resp.Text
	// No diarization from the fallback: attribute everything to one speaker
	// so downstream speaker-aware prompts still work.
	end := resp.Duration
	if end == 0 {
		end = 1
	}
	rec.Speakers = []pipeline.SpeakerSegment{{
		Speaker:    "Speaker 0",
		Text:       resp.Text,
		Start:      0,
		End:        end,
		Confidence: 0.9,
	}}

	s.log.Info().
		Str("call_id", rec.ID).
		Str("provider", s.fallback.Name()).
		Int("chars", len(resp.Text)).
		Msg("fallback transcription complete")
	return nil
}
