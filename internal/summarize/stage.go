package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/llm"
	"github.com/snarg/call-engine/internal/pipeline"
)

// ChatClient is the LLM capability the stage needs.
type ChatClient interface {
	Chat(ctx context.Context, system, user string, temperature float64) (string, error)
	Model() string
}

const systemPrompt = `You are an expert call-center analyst. Analyze the call and respond with ONLY a JSON object:
{
  "summary": "2-3 sentence narrative of the call",
  "key_points": ["list", "of", "key points"],
  "sentiment": "positive|neutral|negative",
  "outcome": "resolved|escalated|follow_up|unresolved"
}
Base sentiment on the customer's state at the end of the call. Choose the outcome that best matches what was actually agreed.`

const speakerSystemPrompt = systemPrompt + `
The transcript is speaker-labelled. Use the conversation flow to judge who the agent is and how the interaction developed.`

const temperature = 0.3

// Stage is the summarization stage: it turns the transcript into a
// structured CallSummary via the chat model.
type Stage struct {
	client ChatClient
	log    zerolog.Logger
}

// NewStage creates the summarization stage.
func NewStage(client ChatClient, log zerolog.Logger) *Stage {
	return &Stage{
		client: client,
		log:    log.With().Str("stage", pipeline.StageSummarization).Logger(),
	}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string { return pipeline.StageSummarization }

// Attempt implements pipeline.Stage.
func (s *Stage) Attempt(ctx context.Context, rec *pipeline.Record) error {
	if rec.Transcript == "" && len(rec.Speakers) == 0 {
		return errors.New("no transcript or speaker data available")
	}

	system := systemPrompt
	user := "Analyze this call transcript:\n\n" + rec.Transcript
	if len(rec.Speakers) > 0 {
		system = speakerSystemPrompt
		user = "Analyze this call conversation:\n\n" + FormatConversation(rec.Speakers) +
			"\n\nConversation statistics:\n" + formatStats(rec.Speakers)
	}

	content, err := s.client.Chat(ctx, system, user, temperature)
	if err != nil {
		return fmt.Errorf("summarization chat: %w", err)
	}

	summary, err := parseSummary(content)
	if err != nil {
		return fmt.Errorf("summarization response: %w", err)
	}

	rec.Summary = summary
	s.log.Info().
		Str("call_id", rec.ID).
		Str("model", s.client.Model()).
		Str("sentiment", string(summary.Sentiment)).
		Str("outcome", string(summary.Outcome)).
		Int("key_points", len(summary.KeyPoints)).
		Msg("summary generated")
	return nil
}

// parseSummary decodes and validates the model's JSON answer. Unknown
// sentiment/outcome tags are coerced to the neutral defaults rather than
// failing the attempt; a missing narrative fails it.
func parseSummary(content string) (*pipeline.CallSummary, error) {
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, err
	}

	var out pipeline.CallSummary
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}

	out.Narrative = strings.TrimSpace(out.Narrative)
	if out.Narrative == "" {
		return nil, errors.New("summary narrative is empty")
	}

	out.Sentiment = pipeline.Sentiment(strings.ToLower(strings.TrimSpace(string(out.Sentiment))))
	if !out.Sentiment.Valid() {
		out.Sentiment = pipeline.SentimentNeutral
	}
	out.Outcome = pipeline.Outcome(strings.ToLower(strings.TrimSpace(string(out.Outcome))))
	if !out.Outcome.Valid() {
		out.Outcome = pipeline.OutcomeUnresolved
	}

	return &out, nil
}

// FormatConversation renders speaker segments as labelled dialogue lines.
func FormatConversation(segments []pipeline.SpeakerSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", seg.Speaker, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatStats summarizes per-speaker talk time and turn counts, which helps
// the model identify the agent.
func formatStats(segments []pipeline.SpeakerSegment) string {
	type stat struct {
		turns int
		talk  float64
	}
	order := make([]string, 0, 2)
	stats := make(map[string]*stat)
	for _, seg := range segments {
		st, ok := stats[seg.Speaker]
		if !ok {
			st = &stat{}
			stats[seg.Speaker] = st
			order = append(order, seg.Speaker)
		}
		st.turns++
		if seg.End > seg.Start {
			st.talk += seg.End - seg.Start
		}
	}

	var b strings.Builder
	for _, speaker := range order {
		st := stats[speaker]
		fmt.Fprintf(&b, "- %s: %d turns, %.1fs talk time\n", speaker, st.turns, st.talk)
	}
	return strings.TrimRight(b.String(), "\n")
}
