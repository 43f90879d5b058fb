package pipeline

import "time"

// Status is the terminal status of one pipeline run.
type Status string

const (
	// StatusSuccess: all three stages advanced.
	StatusSuccess Status = "success"
	// StatusPartial: a transcript exists but a later stage exhausted its
	// retries. Useful output is present alongside the recorded errors.
	StatusPartial Status = "partial"
	// StatusFailed: transcription itself was terminated; nothing useful
	// downstream.
	StatusFailed Status = "failed"
)

// Result is the immutable snapshot built once, at pipeline termination, from
// the final Record plus elapsed wall-clock time.
//
// Errors and populated output fields are always returned together: a partial
// or failed result may still carry usable data, and a success may carry
// errors from attempts that were later retried.
type Result struct {
	CallID      string           `json:"call_id"`
	Status      Status           `json:"status"`
	Transcript  string           `json:"transcript,omitempty"`
	Speakers    []SpeakerSegment `json:"speakers,omitempty"`
	Summary     *CallSummary     `json:"summary,omitempty"`
	Quality     *QualityScore    `json:"quality_score,omitempty"`
	Errors      []StageError     `json:"errors,omitempty"`
	RetryCounts map[string]int   `json:"retry_counts,omitempty"`
	Elapsed     time.Duration    `json:"-"`
	ElapsedSec  float64          `json:"processing_time_seconds"`
	Timestamp   time.Time        `json:"timestamp"`
}

// snapshot freezes the record into a Result. Slices and maps are copied so
// the Result does not alias the (now discarded) Record.
func snapshot(rec *Record, status Status, elapsed time.Duration) Result {
	res := Result{
		CallID:     rec.ID,
		Status:     status,
		Transcript: rec.Transcript,
		Elapsed:    elapsed,
		ElapsedSec: elapsed.Seconds(),
		Timestamp:  time.Now().UTC(),
	}
	if len(rec.Speakers) > 0 {
		res.Speakers = append([]SpeakerSegment(nil), rec.Speakers...)
	}
	if rec.Summary != nil {
		s := *rec.Summary
		s.KeyPoints = append([]string(nil), rec.Summary.KeyPoints...)
		res.Summary = &s
	}
	if rec.Quality != nil {
		q := *rec.Quality
		res.Quality = &q
	}
	if len(rec.Errors) > 0 {
		res.Errors = append([]StageError(nil), rec.Errors...)
	}
	if len(rec.RetryCounts) > 0 {
		res.RetryCounts = make(map[string]int, len(rec.RetryCounts))
		for k, v := range rec.RetryCounts {
			res.RetryCounts[k] = v
		}
	}
	return res
}
