package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const deepgramFixture = `{
	"metadata": {"duration": 42.5},
	"results": {
		"channels": [{"alternatives": [{"transcript": "thanks for calling support", "confidence": 0.97}]}],
		"utterances": [
			{"speaker": 0, "transcript": "thanks for calling", "start": 0.1, "end": 1.6, "confidence": 0.98},
			{"speaker": 1, "transcript": "support", "start": 1.9, "end": 2.4, "confidence": 0.95}
		]
	}
}`

func TestDeepgramTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token dg-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "audio/mpeg" {
			t.Errorf("Content-Type = %q, want audio/mpeg", got)
		}
		q := r.URL.Query()
		if q.Get("model") != "nova-2" || q.Get("diarize") != "true" || q.Get("utterances") != "true" {
			t.Errorf("unexpected query: %v", q)
		}
		w.Write([]byte(deepgramFixture))
	}))
	defer srv.Close()

	dg := NewDeepgramClient("dg-key", "nova-2", 5*time.Second)
	dg.endpoint = srv.URL

	resp, err := dg.Transcribe(context.Background(), []byte{0x1, 0x2}, "call.mp3", Opts{Diarize: true})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "thanks for calling support" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Duration != 42.5 {
		t.Errorf("duration = %v, want 42.5", resp.Duration)
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(resp.Segments))
	}
	if resp.Segments[0].Speaker != "Speaker 0" || resp.Segments[1].Speaker != "Speaker 1" {
		t.Errorf("speaker labels = %q, %q", resp.Segments[0].Speaker, resp.Segments[1].Speaker)
	}
}

func TestDeepgramTranscribe_APIError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"err_msg": "unsupported audio"}`))
	}))
	defer srv.Close()

	dg := NewDeepgramClient("dg-key", "nova-2", 5*time.Second)
	dg.endpoint = srv.URL

	if _, err := dg.Transcribe(context.Background(), []byte{0x1}, "call.wav", Opts{}); err == nil {
		t.Error("expected error on 400")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on 4xx)", n)
	}
}

func TestDeepgramTranscribe_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(deepgramFixture))
	}))
	defer srv.Close()

	dg := NewDeepgramClient("dg-key", "nova-2", 10*time.Second)
	dg.endpoint = srv.URL

	resp, err := dg.Transcribe(context.Background(), []byte{0x1}, "call.wav", Opts{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "thanks for calling support" {
		t.Errorf("text = %q", resp.Text)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestDeepgramTranscribe_EmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": {"channels": [{"alternatives": [{"transcript": ""}]}]}}`))
	}))
	defer srv.Close()

	dg := NewDeepgramClient("dg-key", "nova-2", 5*time.Second)
	dg.endpoint = srv.URL

	if _, err := dg.Transcribe(context.Background(), []byte{0x1}, "call.wav", Opts{}); err == nil {
		t.Error("expected error on empty transcript")
	}
}

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q, want en (region stripped)", got)
		}
		w.Write([]byte(`{"text": " hello there ", "language": "english", "duration": 3.2}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "sk-test", "whisper-1", 5*time.Second)
	resp, err := wc.Transcribe(context.Background(), []byte{0x1}, "call.mp3", Opts{Language: "en-US"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "hello there" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Duration != 3.2 {
		t.Errorf("duration = %v", resp.Duration)
	}
	if resp.Segments != nil {
		t.Error("whisper should not return segments")
	}
}

func TestWhisperTranscribe_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		// The form must still parse on the third attempt, proving the
		// multipart body is replayed rather than consumed by the first send.
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			t.Fatalf("parse multipart on retry: %v", err)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file on retry: %v", err)
		}
		f.Close()
		w.Write([]byte(`{"text": "recovered", "duration": 1.0}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "sk-test", "whisper-1", 10*time.Second)
	resp, err := wc.Transcribe(context.Background(), []byte{0x1, 0x2}, "call.wav", Opts{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Text != "recovered" {
		t.Errorf("text = %q", resp.Text)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}
