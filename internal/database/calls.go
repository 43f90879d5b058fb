package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/snarg/call-engine/internal/pipeline"
)

// CallMeta carries ingest metadata that is not part of the pipeline result.
type CallMeta struct {
	Source     string // "upload" or "mqtt"
	InputKind  string // "audio" or "text"
	Filename   string
	AudioKey   string
	AudioStore string
}

// CallAPI is the call representation for API responses.
type CallAPI struct {
	CallID                string          `json:"call_id"`
	Status                string          `json:"status"`
	Source                string          `json:"source"`
	InputKind             string          `json:"input_kind"`
	Filename              string          `json:"filename,omitempty"`
	AudioKey              string          `json:"audio_key,omitempty"`
	AudioStore            string          `json:"audio_store,omitempty"`
	Transcript            string          `json:"transcript,omitempty"`
	Speakers              json.RawMessage `json:"speakers,omitempty"`
	Summary               json.RawMessage `json:"summary,omitempty"`
	Quality               json.RawMessage `json:"quality,omitempty"`
	RetryCounts           json.RawMessage `json:"retry_counts"`
	Errors                []StageErrorAPI `json:"errors"`
	ProcessingTimeSeconds *float64        `json:"processing_time_seconds,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// StageErrorAPI is one recorded stage failure.
type StageErrorAPI struct {
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// marshalOrNil returns nil for nil pointers and empty slices so the
// column stores SQL NULL instead of a JSON null literal.
func marshalOrNil(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *pipeline.CallSummary:
		if t == nil {
			return nil, nil
		}
	case *pipeline.QualityScore:
		if t == nil {
			return nil, nil
		}
	case []pipeline.SpeakerSegment:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// InsertResult persists one pipeline result in a transaction:
// the calls row plus one stage_errors row per recorded failure.
func (db *DB) InsertResult(ctx context.Context, res *pipeline.Result, meta CallMeta) error {
	speakers, err := marshalOrNil(res.Speakers)
	if err != nil {
		return fmt.Errorf("marshal speakers: %w", err)
	}
	summary, err := marshalOrNil(res.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	quality, err := marshalOrNil(res.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality: %w", err)
	}
	retryCounts, err := json.Marshal(res.RetryCounts)
	if err != nil {
		return fmt.Errorf("marshal retry counts: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO calls (
			call_id, status, source, input_kind, filename,
			audio_key, audio_store, transcript, speakers,
			summary, quality, retry_counts, processing_time_seconds, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		res.CallID, string(res.Status), meta.Source, meta.InputKind, pqString(meta.Filename),
		pqString(meta.AudioKey), pqString(meta.AudioStore), pqString(res.Transcript), speakers,
		summary, quality, retryCounts, res.ElapsedSec, res.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	for _, se := range res.Errors {
		_, err = tx.Exec(ctx, `
			INSERT INTO stage_errors (call_id, stage, error, occurred_at)
			VALUES ($1, $2, $3, $4)
		`, res.CallID, se.Stage, se.Message, se.Timestamp)
		if err != nil {
			return fmt.Errorf("insert stage error: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetCall returns one call with its stage errors, or pgx.ErrNoRows.
func (db *DB) GetCall(ctx context.Context, callID string) (*CallAPI, error) {
	var (
		c          CallAPI
		filename   *string
		audioKey   *string
		audioStore *string
		transcript *string
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT call_id, status, source, input_kind, filename,
			audio_key, audio_store, transcript, speakers,
			summary, quality, retry_counts, processing_time_seconds, created_at
		FROM calls
		WHERE call_id = $1
	`, callID).Scan(
		&c.CallID, &c.Status, &c.Source, &c.InputKind, &filename,
		&audioKey, &audioStore, &transcript, &c.Speakers,
		&c.Summary, &c.Quality, &c.RetryCounts, &c.ProcessingTimeSeconds, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if filename != nil {
		c.Filename = *filename
	}
	if audioKey != nil {
		c.AudioKey = *audioKey
	}
	if audioStore != nil {
		c.AudioStore = *audioStore
	}
	if transcript != nil {
		c.Transcript = *transcript
	}

	errs, err := db.getStageErrors(ctx, callID)
	if err != nil {
		return nil, err
	}
	c.Errors = errs
	return &c, nil
}

func (db *DB) getStageErrors(ctx context.Context, callID string) ([]StageErrorAPI, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT stage, error, occurred_at
		FROM stage_errors
		WHERE call_id = $1
		ORDER BY occurred_at, id
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("query stage errors: %w", err)
	}
	defer rows.Close()

	errs := []StageErrorAPI{}
	for rows.Next() {
		var se StageErrorAPI
		if err := rows.Scan(&se.Stage, &se.Error, &se.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan stage error: %w", err)
		}
		errs = append(errs, se)
	}
	return errs, rows.Err()
}

// ListFilter specifies filters and pagination for listing calls.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// CallSummaryRow is the condensed call representation for list responses.
type CallSummaryRow struct {
	CallID                string    `json:"call_id"`
	Status                string    `json:"status"`
	Source                string    `json:"source"`
	InputKind             string    `json:"input_kind"`
	Filename              string    `json:"filename,omitempty"`
	ErrorCount            int       `json:"error_count"`
	ProcessingTimeSeconds *float64  `json:"processing_time_seconds,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// ListCalls returns a page of calls (newest first) and the total count
// matching the filter.
func (db *DB) ListCalls(ctx context.Context, f ListFilter) ([]CallSummaryRow, int, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var total int
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM calls
		WHERE ($1::text IS NULL OR status = $1)
	`, pqString(f.Status)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count calls: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT c.call_id, c.status, c.source, c.input_kind, c.filename,
			(SELECT count(*) FROM stage_errors e WHERE e.call_id = c.call_id),
			c.processing_time_seconds, c.created_at
		FROM calls c
		WHERE ($1::text IS NULL OR c.status = $1)
		ORDER BY c.created_at DESC
		LIMIT $2 OFFSET $3
	`, pqString(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	calls := []CallSummaryRow{}
	for rows.Next() {
		var (
			c        CallSummaryRow
			filename *string
		)
		if err := rows.Scan(
			&c.CallID, &c.Status, &c.Source, &c.InputKind, &filename,
			&c.ErrorCount, &c.ProcessingTimeSeconds, &c.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan call: %w", err)
		}
		if filename != nil {
			c.Filename = *filename
		}
		calls = append(calls, c)
	}
	return calls, total, rows.Err()
}

// ExpiredAudioKeys returns the archive keys of calls past the retention
// window, so their audio objects can be removed before the rows are purged.
func (db *DB) ExpiredAudioKeys(ctx context.Context, retention time.Duration) ([]string, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT audio_key FROM calls
		 WHERE created_at < now() - $1::interval AND audio_key IS NOT NULL`,
		retention.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// PurgeCallsOlderThan deletes calls past the retention window.
// Stage errors go with them via ON DELETE CASCADE.
func (db *DB) PurgeCallsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM calls WHERE created_at < now() - $1::interval`,
		retention.String(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
