package score

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/llm"
	"github.com/snarg/call-engine/internal/pipeline"
	"github.com/snarg/call-engine/internal/summarize"
)

const rubricPrompt = `You are a call-center quality assurance evaluator. Score the agent's performance using this rubric and respond with ONLY a JSON object:
{
  "tone_score": <1.0-10.0, warmth and empathy toward the customer>,
  "professionalism_score": <1.0-10.0, courtesy, clarity, process adherence>,
  "resolution_score": <1.0-10.0, how completely the issue was addressed>,
  "feedback": "specific, actionable coaching feedback for the agent"
}
Use a lower temperature of judgment: score conservatively and justify nothing outside the JSON.`

const speakerRubricPrompt = rubricPrompt + `
The transcript is speaker-labelled. Evaluate only the agent's side of the conversation.`

// Scoring runs cooler than summarization for consistent numbers.
const temperature = 0.2

// Stage is the quality-scoring stage: it grades the call against the rubric
// and attaches a QualityScore to the record.
type Stage struct {
	client summarize.ChatClient
	log    zerolog.Logger
}

// NewStage creates the quality-scoring stage.
func NewStage(client summarize.ChatClient, log zerolog.Logger) *Stage {
	return &Stage{
		client: client,
		log:    log.With().Str("stage", pipeline.StageQualityScoring).Logger(),
	}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string { return pipeline.StageQualityScoring }

// Attempt implements pipeline.Stage.
func (s *Stage) Attempt(ctx context.Context, rec *pipeline.Record) error {
	if rec.Transcript == "" && len(rec.Speakers) == 0 {
		return errors.New("no transcript or speaker data available")
	}

	system := rubricPrompt
	user := "Evaluate this call transcript using the structured rubric:\n\n" + rec.Transcript
	if len(rec.Speakers) > 0 {
		system = speakerRubricPrompt
		user = "Evaluate this call conversation using the structured rubric:\n\n" +
			summarize.FormatConversation(rec.Speakers)
	}

	content, err := s.client.Chat(ctx, system, user, temperature)
	if err != nil {
		return fmt.Errorf("quality scoring chat: %w", err)
	}

	score, err := parseScore(content)
	if err != nil {
		return fmt.Errorf("quality scoring response: %w", err)
	}

	rec.Quality = score
	s.log.Info().
		Str("call_id", rec.ID).
		Str("model", s.client.Model()).
		Float64("tone", score.Tone).
		Float64("professionalism", score.Professionalism).
		Float64("resolution", score.Resolution).
		Msg("quality score generated")
	return nil
}

// parseScore decodes and validates the rubric answer. Scores are clamped to
// the [1,10] range; an answer with no scores at all fails the attempt.
func parseScore(content string) (*pipeline.QualityScore, error) {
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, err
	}

	var out pipeline.QualityScore
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode score: %w", err)
	}

	if out.Tone == 0 && out.Professionalism == 0 && out.Resolution == 0 {
		return nil, errors.New("score response contains no scores")
	}

	out.Tone = clamp(out.Tone)
	out.Professionalism = clamp(out.Professionalism)
	out.Resolution = clamp(out.Resolution)

	out.Feedback = strings.TrimSpace(out.Feedback)
	if out.Feedback == "" {
		return nil, errors.New("score response contains no feedback")
	}

	return &out, nil
}

func clamp(v float64) float64 {
	if v < pipeline.MinScore {
		return pipeline.MinScore
	}
	if v > pipeline.MaxScore {
		return pipeline.MaxScore
	}
	return v
}
