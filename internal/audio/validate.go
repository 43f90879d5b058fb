package audio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Upload limits. Audio beyond this size should be chunked upstream; the
// providers reject larger payloads anyway.
const (
	MaxAudioBytes      = 100 << 20 // 100 MB
	MaxTranscriptChars = 50000
)

// audioExtensions are the accepted audio container/codec extensions.
var audioExtensions = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"m4a":  true,
	"ogg":  true,
	"webm": true,
}

// Ext returns the lowercase extension of filename without the dot.
func Ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// ValidateUpload checks an audio upload's extension and size. The bytes
// themselves are opaque; codec handling happens at the providers.
func ValidateUpload(filename string, size int) error {
	if size == 0 {
		return fmt.Errorf("audio file is empty")
	}
	if size > MaxAudioBytes {
		return fmt.Errorf("audio file is %d bytes, limit is %d", size, MaxAudioBytes)
	}
	ext := Ext(filename)
	if ext == "" {
		return fmt.Errorf("audio filename %q has no extension", filename)
	}
	if !audioExtensions[ext] {
		return fmt.Errorf("unsupported audio format %q (accepted: mp3, wav, m4a, ogg, webm)", ext)
	}
	return nil
}

// ContentType maps a filename extension onto its audio MIME type.
// Unknown extensions fall back to octet-stream, which providers sniff.
func ContentType(filename string) string {
	switch Ext(filename) {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "m4a":
		return "audio/mp4"
	case "ogg":
		return "audio/ogg"
	case "webm":
		return "audio/webm"
	}
	return "application/octet-stream"
}

// ValidateTranscript checks a raw transcript submission.
func ValidateTranscript(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("transcript is empty")
	}
	if len(trimmed) > MaxTranscriptChars {
		return fmt.Errorf("transcript is %d characters, limit is %d", len(trimmed), MaxTranscriptChars)
	}
	return nil
}
