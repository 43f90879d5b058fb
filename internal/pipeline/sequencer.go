package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/metrics"
)

// Sequencer drives the ordered stage list for one run at a time. Distinct
// runs are independent; callers may invoke Run concurrently.
type Sequencer struct {
	stages []Stage
	policy Policy
	log    zerolog.Logger
}

// NewSequencer creates a sequencer over the given stages, invoked in order.
func NewSequencer(policy Policy, log zerolog.Logger, stages ...Stage) *Sequencer {
	return &Sequencer{
		stages: stages,
		policy: policy,
		log:    log,
	}
}

// Run processes one input through the pipeline and returns the Processing
// Result. It never fails: stage errors are recorded on the record and folded
// into the result's status, not raised to the caller.
func (s *Sequencer) Run(ctx context.Context, input Input) Result {
	return s.run(ctx, NewRecord(input))
}

// RunWithID processes input under a call ID assigned at intake, so callers
// that acknowledge acceptance before processing can hand out the same ID.
func (s *Sequencer) RunWithID(ctx context.Context, id string, input Input) Result {
	rec := NewRecord(input)
	if id != "" {
		rec.ID = id
	}
	return s.run(ctx, rec)
}

func (s *Sequencer) run(ctx context.Context, rec *Record) Result {
	start := time.Now()
	input := rec.Input
	log := s.log.With().Str("call_id", rec.ID).Logger()

	log.Info().
		Str("input_kind", string(input.Kind)).
		Int("input_bytes", len(input.Content)).
		Msg("pipeline run started")

	terminated := false

stages:
	for i := 0; i < len(s.stages); {
		stage := s.stages[i]
		name := stage.Name()

		attemptErr := stage.Attempt(ctx, rec)
		if attemptErr != nil {
			rec.AddError(name, attemptErr.Error())
			log.Warn().Err(attemptErr).Str("stage", name).Msg("stage attempt failed")
		}

		switch s.policy.Decide(rec, name) {
		case Retry:
			metrics.StageRetriesTotal.WithLabelValues(name).Inc()
			log.Warn().
				Str("stage", name).
				Int("retry", rec.RetryCounts[name]).
				Int("max_retries", s.policy.MaxRetries).
				Msg("retrying stage")
			continue

		case Advance:
			metrics.StageAttemptsTotal.WithLabelValues(name, "advance").Inc()
			log.Debug().Str("stage", name).Msg("stage advanced")
			i++

		case Terminate:
			metrics.StageAttemptsTotal.WithLabelValues(name, "terminate").Inc()
			if attemptErr == nil && !rec.HasOutput(name) && rec.ErrorCount(name) == rec.RetryCounts[name] {
				// Silent failure: record it so the terminal result carries an
				// attributable error. The terminal decision is already made,
				// so this cannot trigger another retry.
				rec.AddError(name, "stage reported success without producing output")
			}
			log.Error().
				Str("stage", name).
				Int("retries", rec.RetryCounts[name]).
				Msg("stage exhausted, terminating run")
			terminated = true
			break stages
		}
	}

	status := deriveStatus(rec, terminated)
	elapsed := time.Since(start)

	metrics.PipelineRunsTotal.WithLabelValues(string(status)).Inc()
	metrics.PipelineDuration.Observe(elapsed.Seconds())

	log.Info().
		Str("status", string(status)).
		Int("errors", len(rec.Errors)).
		Dur("elapsed_ms", elapsed).
		Msg("pipeline run finished")

	return snapshot(rec, status, elapsed)
}

// deriveStatus maps the final record onto the terminal status set.
func deriveStatus(rec *Record, terminated bool) Status {
	if !terminated {
		return StatusSuccess
	}
	if rec.Transcript != "" {
		return StatusPartial
	}
	return StatusFailed
}
