package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/snarg/call-engine/internal/audio"
	"github.com/snarg/call-engine/internal/pipeline"
)

const deepgramListenEndpoint = "https://api.deepgram.com/v1/listen"

// DeepgramClient calls the Deepgram prerecorded transcription API with
// speaker diarization. Implements the Provider interface.
type DeepgramClient struct {
	apiKey   string
	model    string // e.g. "nova-2"
	endpoint string // override for tests; empty = production endpoint
	timeout  time.Duration
	client   *http.Client
}

// deepgramResponse is the JSON response from the Deepgram listen API.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []deepgramUtterance `json:"utterances"`
	} `json:"results"`
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
}

// deepgramUtterance is one diarized utterance from Deepgram.
type deepgramUtterance struct {
	Speaker    int     `json:"speaker"`
	Transcript string  `json:"transcript"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// NewDeepgramClient creates a new Deepgram prerecorded client.
func NewDeepgramClient(apiKey, model string, timeout time.Duration) *DeepgramClient {
	return &DeepgramClient{
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (dg *DeepgramClient) Name() string { return "deepgram" }

// Model returns the configured model identifier.
func (dg *DeepgramClient) Model() string { return dg.model }

// Transcribe sends raw audio bytes to the Deepgram listen API.
// The audio is posted as the request body with its content type inferred
// from the filename extension (Deepgram's convention for prerecorded audio).
// Transport errors and 5xx/429 responses are retried with backoff.
func (dg *DeepgramClient) Transcribe(ctx context.Context, data []byte, filename string, opts Opts) (*Response, error) {
	endpoint := dg.endpoint
	if endpoint == "" {
		endpoint = deepgramListenEndpoint
	}

	q := url.Values{}
	q.Set("model", dg.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if opts.Diarize {
		q.Set("diarize", "true")
		q.Set("utterances", "true")
	}
	lang := opts.Language
	if lang == "" {
		lang = "en-US"
	}
	q.Set("language", lang)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = dg.timeout

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+q.Encode(), bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Token "+dg.apiKey)
		req.Header.Set("Content-Type", audio.ContentType(filename))

		resp, err := dg.client.Do(req)
		if err != nil {
			return fmt.Errorf("deepgram request: %w", err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("deepgram API error (status %d): %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("deepgram API error (status %d): %s", resp.StatusCode, string(body)))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	var result deepgramResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &Response{Duration: result.Metadata.Duration}
	if len(result.Results.Channels) > 0 && len(result.Results.Channels[0].Alternatives) > 0 {
		out.Text = strings.TrimSpace(result.Results.Channels[0].Alternatives[0].Transcript)
	}
	if out.Text == "" {
		return nil, fmt.Errorf("deepgram returned no transcript text")
	}

	for _, u := range result.Results.Utterances {
		if strings.TrimSpace(u.Transcript) == "" {
			continue
		}
		out.Segments = append(out.Segments, pipeline.SpeakerSegment{
			Speaker:    fmt.Sprintf("Speaker %d", u.Speaker),
			Text:       u.Transcript,
			Start:      u.Start,
			End:        u.End,
			Confidence: u.Confidence,
		})
	}

	return out, nil
}
