package audio

import (
	"strings"
	"testing"
)

func TestValidateUpload(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		size     int
		wantErr  bool
	}{
		{"mp3 ok", "call.mp3", 1024, false},
		{"wav ok", "call.WAV", 1024, false},
		{"m4a ok", "rec.m4a", 10, false},
		{"empty file", "call.mp3", 0, true},
		{"too large", "call.mp3", MaxAudioBytes + 1, true},
		{"at limit", "call.mp3", MaxAudioBytes, false},
		{"no extension", "callaudio", 1024, true},
		{"unsupported format", "call.flac", 1024, true},
		{"text file", "call.txt", 1024, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateUpload(tc.filename, tc.size)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateUpload(%q, %d) error = %v, wantErr %v", tc.filename, tc.size, err, tc.wantErr)
			}
		})
	}
}

func TestValidateTranscript(t *testing.T) {
	if err := ValidateTranscript("agent: hello"); err != nil {
		t.Errorf("valid transcript rejected: %v", err)
	}
	if err := ValidateTranscript("   \n\t "); err == nil {
		t.Error("whitespace-only transcript accepted")
	}
	if err := ValidateTranscript(strings.Repeat("a", MaxTranscriptChars+1)); err == nil {
		t.Error("oversized transcript accepted")
	}
}

func TestExt(t *testing.T) {
	if got := Ext("Call.MP3"); got != "mp3" {
		t.Errorf("Ext = %q, want mp3", got)
	}
	if got := Ext("noext"); got != "" {
		t.Errorf("Ext = %q, want empty", got)
	}
}

func TestContentType(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"call.mp3", "audio/mpeg"},
		{"call.WAV", "audio/wav"},
		{"call.m4a", "audio/mp4"},
		{"call.ogg", "audio/ogg"},
		{"call.webm", "audio/webm"},
		{"call.flac", "application/octet-stream"},
		{"", "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := ContentType(tc.filename); got != tc.want {
			t.Errorf("ContentType(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}
