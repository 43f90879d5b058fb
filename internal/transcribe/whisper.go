package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
// It has no diarization support, so it serves as the basic-transcript
// fallback behind the Deepgram primary. Implements the Provider interface.
type WhisperClient struct {
	url     string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

// whisperResponse is the parsed response from the Whisper API (verbose_json).
type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// NewWhisperClient creates a new Whisper HTTP client. url is the full
// transcriptions endpoint, e.g. "https://api.openai.com/v1/audio/transcriptions"
// or a self-hosted compatible server.
func NewWhisperClient(url, apiKey, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:     url,
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe posts the audio as multipart/form-data. Only non-default
// parameters are sent, so this works with OpenAI or any compatible endpoint.
// Transport errors and 5xx/429 responses are retried with backoff; the
// multipart body is built once and replayed on each attempt.
func (wc *WhisperClient) Transcribe(ctx context.Context, data []byte, filename string, opts Opts) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}
	if opts.Language != "" {
		// Whisper takes ISO-639-1, not a region-qualified tag.
		w.WriteField("language", shortLanguage(opts.Language))
	}
	w.WriteField("temperature", fmt.Sprintf("%.2f", opts.Temperature))
	w.WriteField("response_format", "verbose_json")

	w.Close()
	form := buf.Bytes()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = wc.timeout

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, bytes.NewReader(form))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		if wc.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+wc.apiKey)
		}

		resp, err := wc.client.Do(req)
		if err != nil {
			return fmt.Errorf("whisper request: %w", err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body)))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, fmt.Errorf("whisper returned no transcript text")
	}

	return &Response{
		Text:     text,
		Language: result.Language,
		Duration: result.Duration,
	}, nil
}

// shortLanguage reduces "en-US" style tags to the bare ISO-639-1 code.
func shortLanguage(lang string) string {
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		return lang[:idx]
	}
	return lang
}
