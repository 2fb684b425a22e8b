package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/config"
)

// fakeBucket answers the read-side S3 calls for a single stored object.
func fakeBucket(t *testing.T) *httptest.Server {
	t.Helper()
	const objPath = "/scribe-raw/prod/raw/j/transcript.json"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/scribe-raw" && r.Method == http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == objPath:
			w.Header().Set("Content-Length", "5")
			w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write([]byte("hello"))
			}
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFakeS3(t *testing.T) *S3Store {
	t.Helper()
	srv := fakeBucket(t)
	s, err := NewS3Store(config.S3Config{
		Bucket:        "scribe-raw",
		Endpoint:      srv.URL,
		Region:        "us-east-1",
		AccessKey:     "test",
		SecretKey:     "test",
		Prefix:        "prod",
		PresignExpiry: 15 * time.Minute,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	return s
}

func TestS3Store_Read(t *testing.T) {
	s := newFakeS3(t)
	ctx := context.Background()
	key := RawKey("j", KindTranscript)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	info, err := s.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 5 || info.Key != key {
		t.Errorf("Stat = %+v, want size 5 key %s", info, key)
	}
	if info.ModTime.Year() != 2006 {
		t.Errorf("Stat ModTime = %v, want Last-Modified", info.ModTime)
	}

	data, err := ReadAll(ctx, s, key)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadAll = %q, want hello", data)
	}

	missing := RawKey("j", KindDiarize)
	if _, err := s.Stat(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat(missing) err = %v, want ErrNotFound", err)
	}
	if _, err := s.Open(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) err = %v, want ErrNotFound", err)
	}
}

func TestS3Store_URL(t *testing.T) {
	s := newFakeS3(t)
	url, err := s.URL(context.Background(), RawKey("j", KindTranscript))
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	for _, want := range []string{"/scribe-raw/prod/raw/j/transcript.json", "X-Amz-Expires=900", "X-Amz-Signature="} {
		if !strings.Contains(url, want) {
			t.Errorf("URL %q missing %q", url, want)
		}
	}
}
