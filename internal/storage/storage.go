// Package storage archives raw tool output (Whisper and pyannote JSON) on
// local disk or in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/config"
)

var (
	// ErrNotFound is returned when a key has no stored object.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that are empty or escape the store root.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Raw input kinds, used as the file name under a job's key prefix.
const (
	KindTranscript = "transcript"
	KindDiarize    = "diarize"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is a flat key/value blob store. Keys are slash-separated and must pass
// CleanKey; RawKey builds them for job inputs.
type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	// Open and Stat return ErrNotFound for missing keys.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// URL returns a time-limited download link, or "" when the backend has
	// none and callers should stream Open instead.
	URL(ctx context.Context, key string) (string, error)
	Type() string
}

const startupCheckTimeout = 10 * time.Second

// New returns a LocalStore under dataDir, or an S3Store when a bucket is
// configured. The bucket is probed once so bad credentials fail at startup.
func New(cfg config.S3Config, dataDir string, log zerolog.Logger) (Store, error) {
	if !cfg.Enabled() {
		return NewLocalStore(dataDir), nil
	}

	st, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("s3 store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), startupCheckTimeout)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return nil, fmt.Errorf("s3 bucket %q at %q unreachable: %w", cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("s3 bucket reachable")
	return st, nil
}

// RawKey returns the key for one side of a job's raw input:
// raw/{job_id}/{transcript|diarize}.json
func RawKey(jobID, kind string) string {
	return "raw/" + jobID + "/" + kind + ".json"
}

// CleanKey normalizes a caller-supplied key and rejects keys that are empty
// or would resolve outside the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// ReadAll reads a whole object.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
