package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/audio"
	"github.com/snarg/call-engine/internal/database"
	"github.com/snarg/call-engine/internal/pipeline"
	"github.com/snarg/call-engine/internal/storage"
	"github.com/snarg/call-engine/internal/worker"
)

// CallStore reads persisted call results.
type CallStore interface {
	GetCall(ctx context.Context, callID string) (*database.CallAPI, error)
	ListCalls(ctx context.Context, f database.ListFilter) ([]database.CallSummaryRow, int, error)
}

// JobQueue accepts jobs for processing and reports queue state.
type JobQueue interface {
	Enqueue(worker.Job) bool
	Stats() worker.QueueStats
}

// CallsHandler serves call submission and retrieval.
type CallsHandler struct {
	store CallStore
	queue JobQueue
	audio storage.AudioStore
	log   zerolog.Logger
}

// NewCallsHandler creates the calls handler.
func NewCallsHandler(store CallStore, queue JobQueue, audioStore storage.AudioStore, log zerolog.Logger) *CallsHandler {
	return &CallsHandler{
		store: store,
		queue: queue,
		audio: audioStore,
		log:   log.With().Str("handler", "calls").Logger(),
	}
}

// Routes registers the call endpoints.
func (h *CallsHandler) Routes(r chi.Router) {
	r.Post("/calls", h.Submit)
	r.Get("/calls", h.List)
	r.Get("/calls/{call_id}", h.Get)
	r.Get("/queue", h.Queue)
}

// SubmitResponse acknowledges an accepted call.
type SubmitResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// transcriptRequest is the JSON body for a text submission.
type transcriptRequest struct {
	Transcript string `json:"transcript"`
	Filename   string `json:"filename,omitempty"`
}

// Submit handles POST /api/v1/calls.
// Multipart bodies carry an audio file in the "audio" field; JSON bodies
// carry a raw transcript. Processing is asynchronous: the response only
// acknowledges that the call was queued.
func (h *CallsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	// Cap the body before anything reads it, so an oversized upload is
	// rejected at the wire instead of buffered into memory first. The
	// slack above the audio cap leaves room for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, audio.MaxAudioBytes+(1<<20))

	var job worker.Job
	var err error
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		job, err = h.audioJob(r)
	case strings.HasPrefix(contentType, "application/json"):
		job, err = h.transcriptJob(r)
	default:
		WriteError(w, http.StatusUnsupportedMediaType, "expected multipart/form-data or application/json")
		return
	}
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid submission", err.Error())
		return
	}

	if !h.queue.Enqueue(job) {
		WriteError(w, http.StatusServiceUnavailable, "processing queue is full, retry later")
		return
	}

	h.log.Info().
		Str("call_id", job.CallID).
		Str("input_kind", string(job.Input.Kind)).
		Msg("call queued")
	WriteJSON(w, http.StatusAccepted, SubmitResponse{CallID: job.CallID, Status: "queued"})
}

func (h *CallsHandler) audioJob(r *http.Request) (worker.Job, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return worker.Job{}, err
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		return worker.Job{}, errors.New(`missing "audio" file field`)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return worker.Job{}, err
	}
	if err := audio.ValidateUpload(header.Filename, len(data)); err != nil {
		return worker.Job{}, err
	}

	callID := uuid.NewString()
	key := storage.Key(time.Now(), callID, audio.Ext(header.Filename))
	job := worker.Job{
		CallID: callID,
		Input: pipeline.Input{
			Kind:     pipeline.InputAudio,
			Content:  data,
			Filename: header.Filename,
		},
		Source:   "upload",
		AudioKey: key,
	}

	if err := h.audio.Save(r.Context(), key, data, audio.ContentType(header.Filename)); err != nil {
		// Archive failure is not fatal: process the call anyway.
		h.log.Error().Err(err).Str("key", key).Msg("audio archive failed")
		job.AudioKey = ""
	} else {
		job.AudioStore = h.audio.Type()
	}
	return job, nil
}

func (h *CallsHandler) transcriptJob(r *http.Request) (worker.Job, error) {
	var req transcriptRequest
	if err := DecodeJSON(r, &req); err != nil {
		return worker.Job{}, err
	}
	if err := audio.ValidateTranscript(req.Transcript); err != nil {
		return worker.Job{}, err
	}
	return worker.Job{
		CallID: uuid.NewString(),
		Input: pipeline.Input{
			Kind:     pipeline.InputText,
			Content:  []byte(req.Transcript),
			Filename: req.Filename,
		},
		Source: "upload",
	}, nil
}

// Get handles GET /api/v1/calls/{call_id}.
func (h *CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "call_id")
	if _, err := uuid.Parse(callID); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid call id")
		return
	}

	call, err := h.store.GetCall(r.Context(), callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			WriteError(w, http.StatusNotFound, "call not found")
			return
		}
		h.log.Error().Err(err).Str("call_id", callID).Msg("get call failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}
	WriteJSON(w, http.StatusOK, call)
}

// ListResponse is the paginated call list body.
type ListResponse struct {
	Calls  []database.CallSummaryRow `json:"calls"`
	Total  int                       `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// List handles GET /api/v1/calls.
func (h *CallsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", string(pipeline.StatusSuccess), string(pipeline.StatusPartial), string(pipeline.StatusFailed):
	default:
		WriteError(w, http.StatusBadRequest, "invalid status filter (accepted: success, partial, failed)")
		return
	}

	calls, total, err := h.store.ListCalls(r.Context(), database.ListFilter{
		Status: status,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("list calls failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}
	WriteJSON(w, http.StatusOK, ListResponse{Calls: calls, Total: total, Limit: p.Limit, Offset: p.Offset})
}

// Queue handles GET /api/v1/queue.
func (h *CallsHandler) Queue(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.queue.Stats())
}
