package transcribe

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/pipeline"
)

type fakeProvider struct {
	name  string
	resp  *Response
	err   error
	calls int
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Transcribe(_ context.Context, _ []byte, _ string, _ Opts) (*Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func audioRecord() *pipeline.Record {
	return pipeline.NewRecord(pipeline.Input{
		Kind:     pipeline.InputAudio,
		Content:  []byte{0x49, 0x44, 0x33},
		Filename: "call.mp3",
	})
}

func TestAttempt_TextPassthrough(t *testing.T) {
	primary := &fakeProvider{name: "deepgram"}
	stage := NewStage(primary, nil, "en-US", zerolog.Nop())

	rec := pipeline.NewRecord(pipeline.Input{
		Kind:    pipeline.InputText,
		Content: []byte("  agent: how can I help?  "),
	})
	if err := stage.Attempt(context.Background(), rec); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if rec.Transcript != "agent: how can I help?" {
		t.Errorf("transcript = %q", rec.Transcript)
	}
	if primary.calls != 0 {
		t.Errorf("provider called %d times for text input, want 0", primary.calls)
	}
}

func TestAttempt_EmptyTextFails(t *testing.T) {
	stage := NewStage(&fakeProvider{name: "deepgram"}, nil, "en-US", zerolog.Nop())
	rec := pipeline.NewRecord(pipeline.Input{Kind: pipeline.InputText, Content: []byte("   ")})
	if err := stage.Attempt(context.Background(), rec); err == nil {
		t.Error("expected error for empty text input")
	}
}

func TestAttempt_PrimarySuccess(t *testing.T) {
	primary := &fakeProvider{
		name: "deepgram",
		resp: &Response{
			Text: "hello from deepgram",
			Segments: []pipeline.SpeakerSegment{
				{Speaker: "Speaker 0", Text: "hello", Start: 0, End: 1.2},
				{Speaker: "Speaker 1", Text: "from deepgram", Start: 1.4, End: 3},
			},
		},
	}
	fallback := &fakeProvider{name: "whisper"}
	stage := NewStage(primary, fallback, "en-US", zerolog.Nop())

	rec := audioRecord()
	if err := stage.Attempt(context.Background(), rec); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if rec.Transcript != "hello from deepgram" {
		t.Errorf("transcript = %q", rec.Transcript)
	}
	if len(rec.Speakers) != 2 {
		t.Errorf("speakers = %d, want 2", len(rec.Speakers))
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls)
	}
}

func TestAttempt_FallbackOnPrimaryFailure(t *testing.T) {
	primary := &fakeProvider{name: "deepgram", err: errors.New("rate limited")}
	fallback := &fakeProvider{
		name: "whisper",
		resp: &Response{Text: "hello from whisper", Duration: 12.5},
	}
	stage := NewStage(primary, fallback, "en-US", zerolog.Nop())

	rec := audioRecord()
	if err := stage.Attempt(context.Background(), rec); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if rec.Transcript != "hello from whisper" {
		t.Errorf("transcript = %q", rec.Transcript)
	}
	if len(rec.Speakers) != 1 || rec.Speakers[0].Speaker != "Speaker 0" {
		t.Errorf("expected single synthetic speaker segment, got %+v", rec.Speakers)
	}
	if rec.Speakers[0].End != 12.5 {
		t.Errorf("segment end = %v, want provider duration", rec.Speakers[0].End)
	}
}

func TestAttempt_BothProvidersFail(t *testing.T) {
	primary := &fakeProvider{name: "deepgram", err: errors.New("boom")}
	fallback := &fakeProvider{name: "whisper", err: errors.New("also boom")}
	stage := NewStage(primary, fallback, "en-US", zerolog.Nop())

	rec := audioRecord()
	err := stage.Attempt(context.Background(), rec)
	if err == nil {
		t.Fatal("expected error when both providers fail")
	}
	if rec.Transcript != "" {
		t.Errorf("transcript should remain empty, got %q", rec.Transcript)
	}
}

func TestAttempt_NoFallbackConfigured(t *testing.T) {
	primary := &fakeProvider{name: "deepgram", err: errors.New("boom")}
	stage := NewStage(primary, nil, "en-US", zerolog.Nop())

	if err := stage.Attempt(context.Background(), audioRecord()); err == nil {
		t.Error("expected error with no fallback configured")
	}
}

func TestAttempt_EmptyAudio(t *testing.T) {
	stage := NewStage(&fakeProvider{name: "deepgram"}, nil, "en-US", zerolog.Nop())
	rec := pipeline.NewRecord(pipeline.Input{Kind: pipeline.InputAudio})
	if err := stage.Attempt(context.Background(), rec); err == nil {
		t.Error("expected error for empty audio input")
	}
}
