package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Stage names in pipeline order.
const (
	StageTranscription  = "transcription"
	StageSummarization  = "summarization"
	StageQualityScoring = "quality_scoring"
)

// InputKind declares what the input payload contains.
type InputKind string

const (
	InputAudio InputKind = "audio"
	InputText  InputKind = "text"
)

// Input is the original request payload. Immutable after creation.
type Input struct {
	Kind     InputKind
	Content  []byte
	Filename string
}

// Sentiment is the closed set of call sentiment tags.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is one of the known sentiment tags.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Outcome is the closed set of call outcome tags.
type Outcome string

const (
	OutcomeResolved   Outcome = "resolved"
	OutcomeEscalated  Outcome = "escalated"
	OutcomeFollowUp   Outcome = "follow_up"
	OutcomeUnresolved Outcome = "unresolved"
)

// Valid reports whether o is one of the known outcome tags.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeResolved, OutcomeEscalated, OutcomeFollowUp, OutcomeUnresolved:
		return true
	}
	return false
}

// SpeakerSegment is one diarized utterance from the transcription stage.
type SpeakerSegment struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// CallSummary is the structured output of the summarization stage.
type CallSummary struct {
	Narrative string    `json:"summary"`
	KeyPoints []string  `json:"key_points"`
	Sentiment Sentiment `json:"sentiment"`
	Outcome   Outcome   `json:"outcome"`
}

// Score bounds for quality assessments.
const (
	MinScore = 1.0
	MaxScore = 10.0
)

// QualityScore is the structured output of the quality scoring stage.
type QualityScore struct {
	Tone            float64 `json:"tone_score"`
	Professionalism float64 `json:"professionalism_score"`
	Resolution      float64 `json:"resolution_score"`
	Feedback        string  `json:"feedback"`
}

// StageError is one recorded stage failure. The errors list on a Record is
// append-only; entries are never mutated or removed.
type StageError struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is the mutable per-run state threaded through the pipeline.
// It is exclusively owned by the single run processing it; distinct runs
// never share a Record, so no locking is needed.
type Record struct {
	ID    string
	Input Input

	// Stage outputs. Once set by a stage they are never cleared, even if a
	// later stage fails.
	Transcript string
	Speakers   []SpeakerSegment
	Summary    *CallSummary
	Quality    *QualityScore

	Errors      []StageError
	RetryCounts map[string]int
}

// NewRecord creates the Record for one pipeline run.
func NewRecord(input Input) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Input:       input,
		RetryCounts: make(map[string]int),
	}
}

// AddError appends a failure entry for the named stage.
func (r *Record) AddError(stage, message string) {
	r.Errors = append(r.Errors, StageError{
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// ErrorCount returns the number of recorded errors attributed to stage.
func (r *Record) ErrorCount(stage string) int {
	n := 0
	for _, e := range r.Errors {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

// HasOutput reports whether the named stage has populated its output field.
func (r *Record) HasOutput(stage string) bool {
	switch stage {
	case StageTranscription:
		return r.Transcript != ""
	case StageSummarization:
		return r.Summary != nil
	case StageQualityScoring:
		return r.Quality != nil
	}
	return false
}
