package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/merge"
	"github.com/snarg/scribe-engine/internal/parser"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/worker"
)

// mergeRequest is the body of POST /merge and POST /jobs. Each side is taken
// from the first source present: inline segments, raw tool output, then a
// storage key.
type mergeRequest struct {
	Name string `json:"name"`

	Transcript    []merge.TranscriptSegment `json:"transcript"`
	TranscriptRaw json.RawMessage           `json:"transcript_raw"`
	TranscriptKey string                    `json:"transcript_key"`

	Diarize    []merge.DiarizeSegment `json:"diarize"`
	DiarizeRaw json.RawMessage        `json:"diarize_raw"`
	DiarizeKey string                 `json:"diarize_key"`
}

// mergeInputs holds both resolved sides plus the bytes to archive for each.
// Inline segments are archived in parser.NativeFormat so a later merge by key
// reads them back unchanged. A side loaded from a storage key has no bytes
// to archive and keeps its key.
type mergeInputs struct {
	transcript    []merge.TranscriptSegment
	diarize       []merge.DiarizeSegment
	transcriptRaw []byte
	diarizeRaw    []byte
	transcriptKey string
	diarizeKey    string
}

// inputError is a client error with the status to report it under.
type inputError struct {
	status int
	msg    string
	err    error
}

func (e *inputError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *inputError) Unwrap() error { return e.err }

func badInput(status int, msg string, err error) error {
	return &inputError{status: status, msg: msg, err: err}
}

// writeInputError maps resolve errors to responses.
func writeInputError(w http.ResponseWriter, err error) {
	var ie *inputError
	if errors.As(err, &ie) {
		detail := ""
		if ie.err != nil {
			detail = ie.err.Error()
		}
		WriteErrorDetail(w, ie.status, ie.msg, detail)
		return
	}
	WriteError(w, http.StatusInternalServerError, "failed to load inputs")
}

// decodeMergeRequest reads the body, reporting oversize bodies as 413.
func decodeMergeRequest(r *http.Request) (*mergeRequest, error) {
	var req mergeRequest
	if err := DecodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, badInput(http.StatusRequestEntityTooLarge, "request body too large", nil)
		}
		return nil, badInput(http.StatusBadRequest, "invalid request body", err)
	}
	return &req, nil
}

func resolveInputs(ctx context.Context, store storage.Store, req *mergeRequest) (*mergeInputs, error) {
	in := &mergeInputs{}

	switch {
	case req.Transcript != nil:
		if err := parser.CheckTranscript(req.Transcript); err != nil {
			return nil, badInput(http.StatusBadRequest, "invalid transcript", err)
		}
		raw, err := parser.EncodeTranscript(req.Transcript)
		if err != nil {
			return nil, err
		}
		in.transcript = req.Transcript
		in.transcriptRaw = raw
	case hasRaw(req.TranscriptRaw):
		segs, err := parser.ParseWhisper(req.TranscriptRaw)
		if err != nil {
			return nil, badInput(http.StatusUnprocessableEntity, "invalid transcript_raw", err)
		}
		in.transcript = segs
		in.transcriptRaw = req.TranscriptRaw
	case req.TranscriptKey != "":
		data, err := loadKey(ctx, store, req.TranscriptKey, "transcript_key")
		if err != nil {
			return nil, err
		}
		segs, err := parser.ParseWhisper(data)
		if err != nil {
			return nil, badInput(http.StatusUnprocessableEntity, "invalid transcript_key content", err)
		}
		in.transcript = segs
		in.transcriptKey = req.TranscriptKey
	default:
		return nil, badInput(http.StatusBadRequest, "transcript is required", nil)
	}

	switch {
	case req.Diarize != nil:
		if err := parser.CheckDiarization(req.Diarize); err != nil {
			return nil, badInput(http.StatusBadRequest, "invalid diarize", err)
		}
		raw, err := parser.EncodeDiarization(req.Diarize)
		if err != nil {
			return nil, err
		}
		in.diarize = req.Diarize
		in.diarizeRaw = raw
	case hasRaw(req.DiarizeRaw):
		segs, err := parser.ParseDiarization(req.DiarizeRaw)
		if err != nil {
			return nil, badInput(http.StatusUnprocessableEntity, "invalid diarize_raw", err)
		}
		in.diarize = segs
		in.diarizeRaw = req.DiarizeRaw
	case req.DiarizeKey != "":
		data, err := loadKey(ctx, store, req.DiarizeKey, "diarize_key")
		if err != nil {
			return nil, err
		}
		segs, err := parser.ParseDiarization(data)
		if err != nil {
			return nil, badInput(http.StatusUnprocessableEntity, "invalid diarize_key content", err)
		}
		in.diarize = segs
		in.diarizeKey = req.DiarizeKey
	default:
		// No diarization: every segment comes back UNKNOWN.
		in.diarize = []merge.DiarizeSegment{}
	}

	return in, nil
}

func loadKey(ctx context.Context, store storage.Store, key, field string) ([]byte, error) {
	if store == nil {
		return nil, badInput(http.StatusBadRequest, field+" requires storage", nil)
	}
	data, err := storage.ReadAll(ctx, store, key)
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		return nil, badInput(http.StatusBadRequest, "invalid "+field, err)
	case errors.Is(err, storage.ErrNotFound):
		return nil, badInput(http.StatusNotFound, field+" not found", nil)
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func hasRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// MergeHandler serves synchronous merges.
type MergeHandler struct {
	queue MergeQueue
	store storage.Store
	log   zerolog.Logger
}

func NewMergeHandler(queue MergeQueue, store storage.Store, log zerolog.Logger) *MergeHandler {
	return &MergeHandler{queue: queue, store: store, log: log}
}

func (h *MergeHandler) Routes(r chi.Router) {
	r.Post("/merge", h.Merge)
}

// Merge runs the merge inline and returns the result. Nothing is stored.
func (h *MergeHandler) Merge(w http.ResponseWriter, r *http.Request) {
	req, err := decodeMergeRequest(r)
	if err != nil {
		writeInputError(w, err)
		return
	}

	in, err := resolveInputs(r.Context(), h.store, req)
	if err != nil {
		if !isInputError(err) {
			h.log.Error().Err(err).Msg("failed to resolve merge inputs")
		}
		writeInputError(w, err)
		return
	}

	res := h.queue.Run(worker.Job{
		ID:         worker.NewJobID(),
		Source:     worker.SourceAPI,
		Name:       req.Name,
		Transcript: in.transcript,
		Diarize:    in.diarize,
		ReceivedAt: time.Now(),
	})
	WriteJSON(w, http.StatusOK, res)
}

func isInputError(err error) bool {
	var ie *inputError
	return errors.As(err, &ie)
}
