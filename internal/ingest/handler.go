package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/audio"
	"github.com/snarg/call-engine/internal/metrics"
	"github.com/snarg/call-engine/internal/pipeline"
	"github.com/snarg/call-engine/internal/storage"
	"github.com/snarg/call-engine/internal/worker"
)

// CallEvent is the JSON payload published on calls/# topics.
// Either Transcript or Audio must be set; Audio is base64 in JSON.
type CallEvent struct {
	Filename   string `json:"filename,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Audio      []byte `json:"audio,omitempty"`
}

// Queue accepts jobs for processing.
type Queue interface {
	Enqueue(worker.Job) bool
}

// Handler turns broker call events into pipeline jobs.
type Handler struct {
	queue Queue
	store storage.AudioStore
	log   zerolog.Logger
}

func NewHandler(queue Queue, store storage.AudioStore, log zerolog.Logger) *Handler {
	return &Handler{queue: queue, store: store, log: log}
}

// HandleMessage processes one broker message. Malformed or invalid events
// are logged and counted, never retried: the broker redelivers on QoS
// failures, not on application rejections.
func (h *Handler) HandleMessage(topic string, payload []byte) {
	var ev CallEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("invalid").Inc()
		h.log.Warn().Err(err).Str("topic", topic).Msg("malformed call event")
		return
	}

	job, err := h.buildJob(ev)
	if err != nil {
		metrics.IngestEventsTotal.WithLabelValues("invalid").Inc()
		h.log.Warn().Err(err).Str("topic", topic).Str("filename", ev.Filename).Msg("rejected call event")
		return
	}

	if !h.queue.Enqueue(job) {
		metrics.IngestEventsTotal.WithLabelValues("queue_full").Inc()
		h.log.Warn().Str("topic", topic).Msg("queue full, dropping call event")
		return
	}

	metrics.IngestEventsTotal.WithLabelValues("accepted").Inc()
	h.log.Debug().
		Str("topic", topic).
		Str("input_kind", string(job.Input.Kind)).
		Msg("call event queued")
}

func (h *Handler) buildJob(ev CallEvent) (worker.Job, error) {
	callID := uuid.NewString()

	if ev.Transcript != "" {
		if err := audio.ValidateTranscript(ev.Transcript); err != nil {
			return worker.Job{}, err
		}
		return worker.Job{
			CallID: callID,
			Input: pipeline.Input{
				Kind:     pipeline.InputText,
				Content:  []byte(ev.Transcript),
				Filename: ev.Filename,
			},
			Source: "mqtt",
		}, nil
	}

	if err := audio.ValidateUpload(ev.Filename, len(ev.Audio)); err != nil {
		return worker.Job{}, err
	}

	key := storage.Key(time.Now(), callID, audio.Ext(ev.Filename))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.store.Save(ctx, key, ev.Audio, audio.ContentType(ev.Filename)); err != nil {
		// Archive failure is not fatal: process the call anyway.
		metrics.IngestEventsTotal.WithLabelValues("store_error").Inc()
		h.log.Error().Err(err).Str("key", key).Msg("audio archive failed")
		key = ""
	}

	job := worker.Job{
		CallID: callID,
		Input: pipeline.Input{
			Kind:     pipeline.InputAudio,
			Content:  ev.Audio,
			Filename: ev.Filename,
		},
		Source:   "mqtt",
		AudioKey: key,
	}
	if key != "" {
		job.AudioStore = h.store.Type()
	}
	return job, nil
}
