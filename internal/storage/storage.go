package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/config"
)

// AudioStore abstracts the archive backend for original call audio.
// Keys are {YYYY-MM-DD}/{call_id}.{ext}, assigned by the caller.
type AudioStore interface {
	// Save stores audio data under key.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for a previously saved file.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether a file is present.
	Exists(ctx context.Context, key string) bool

	// Delete removes a previously saved file. Deleting a key that is
	// already gone is not an error.
	Delete(ctx context.Context, key string) error

	// Type returns "local" or "s3".
	Type() string
}

// New creates an AudioStore based on config: S3 when a bucket is configured,
// local disk otherwise. S3 access is verified at startup so a bad bucket or
// credentials fail fast instead of at the first upload.
func New(cfg config.S3Config, audioDir string, log zerolog.Logger) (AudioStore, error) {
	if !cfg.Enabled() {
		return NewLocalStore(audioDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	return s3store, nil
}

// Key builds the archive key for one call's audio.
func Key(t time.Time, callID, ext string) string {
	return fmt.Sprintf("%s/%s.%s", t.UTC().Format("2006-01-02"), callID, ext)
}
