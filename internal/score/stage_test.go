package score

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/pipeline"
)

type fakeChat struct {
	content string
	err     error
	lastSys string
}

func (f *fakeChat) Model() string { return "fake-model" }

func (f *fakeChat) Chat(_ context.Context, system, _ string, _ float64) (string, error) {
	f.lastSys = system
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

func transcriptRecord() *pipeline.Record {
	rec := pipeline.NewRecord(pipeline.Input{Kind: pipeline.InputText, Content: []byte("x")})
	rec.Transcript = "customer: hello. agent: how can I help?"
	return rec
}

func TestAttempt_ParsesScore(t *testing.T) {
	chat := &fakeChat{content: `{"tone_score": 8.5, "professionalism_score": 9.0, "resolution_score": 7.0, "feedback": "Good empathy; confirm next steps explicitly."}`}
	stage := NewStage(chat, zerolog.Nop())

	rec := transcriptRecord()
	if err := stage.Attempt(context.Background(), rec); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if rec.Quality == nil {
		t.Fatal("quality score not set")
	}
	if rec.Quality.Tone != 8.5 || rec.Quality.Professionalism != 9.0 || rec.Quality.Resolution != 7.0 {
		t.Errorf("scores = %+v", rec.Quality)
	}
	if rec.Quality.Feedback == "" {
		t.Error("feedback missing")
	}
}

func TestAttempt_ClampsOutOfRangeScores(t *testing.T) {
	chat := &fakeChat{content: `{"tone_score": 11.0, "professionalism_score": 0.5, "resolution_score": 5.0, "feedback": "ok"}`}
	stage := NewStage(chat, zerolog.Nop())

	rec := transcriptRecord()
	if err := stage.Attempt(context.Background(), rec); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if rec.Quality.Tone != pipeline.MaxScore {
		t.Errorf("tone = %v, want clamped to %v", rec.Quality.Tone, pipeline.MaxScore)
	}
	if rec.Quality.Professionalism != pipeline.MinScore {
		t.Errorf("professionalism = %v, want clamped to %v", rec.Quality.Professionalism, pipeline.MinScore)
	}
	if rec.Quality.Resolution != 5.0 {
		t.Errorf("resolution = %v, want untouched", rec.Quality.Resolution)
	}
}

func TestAttempt_RejectsEmptyAnswer(t *testing.T) {
	cases := []string{
		`{"tone_score": 0, "professionalism_score": 0, "resolution_score": 0, "feedback": "x"}`,
		`{"tone_score": 8, "professionalism_score": 8, "resolution_score": 8, "feedback": "  "}`,
		"no json here",
	}
	for _, content := range cases {
		stage := NewStage(&fakeChat{content: content}, zerolog.Nop())
		rec := transcriptRecord()
		if err := stage.Attempt(context.Background(), rec); err == nil {
			t.Errorf("content %q: expected error", content)
		}
		if rec.Quality != nil {
			t.Errorf("content %q: quality must stay nil on failure", content)
		}
	}
}

func TestAttempt_NoTranscript(t *testing.T) {
	stage := NewStage(&fakeChat{}, zerolog.Nop())
	rec := pipeline.NewRecord(pipeline.Input{Kind: pipeline.InputText})
	if err := stage.Attempt(context.Background(), rec); err == nil {
		t.Error("expected error with no transcript")
	}
}

func TestAttempt_ChatFailure(t *testing.T) {
	stage := NewStage(&fakeChat{err: errors.New("timeout")}, zerolog.Nop())
	if err := stage.Attempt(context.Background(), transcriptRecord()); err == nil {
		t.Error("expected error when chat fails")
	}
}

func TestAttempt_SpeakerAwareRubric(t *testing.T) {
	chat := &fakeChat{content: `{"tone_score": 7, "professionalism_score": 7, "resolution_score": 7, "feedback": "fine"}`}
	stage := NewStage(chat, zerolog.Nop())

	rec := transcriptRecord()
	rec.Speakers = []pipeline.SpeakerSegment{{Speaker: "Speaker 1", Text: "how can I help?"}}
	if err := stage.Attempt(context.Background(), rec); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if !strings.Contains(chat.lastSys, "agent's side") {
		t.Error("system prompt should be the speaker-aware rubric")
	}
}
