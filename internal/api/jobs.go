package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/worker"
)

// JobsHandler serves queued merges and their stored results.
type JobsHandler struct {
	queue MergeQueue
	runs  RunStore
	store storage.Store
	log   zerolog.Logger
}

func NewJobsHandler(queue MergeQueue, runs RunStore, store storage.Store, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{queue: queue, runs: runs, store: store, log: log}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.CreateJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/jobs/{id}/segments", h.ListSegments)
	r.Get("/jobs/{id}/raw/{kind}", h.GetRaw)
	r.Get("/queue", h.GetQueueStats)
}

type createJobResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	TranscriptKey string `json:"transcript_key,omitempty"`
	DiarizeKey    string `json:"diarize_key,omitempty"`
}

// CreateJob archives the raw inputs and queues the merge.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	req, err := decodeMergeRequest(r)
	if err != nil {
		writeInputError(w, err)
		return
	}

	in, err := resolveInputs(r.Context(), h.store, req)
	if err != nil {
		if !isInputError(err) {
			h.log.Error().Err(err).Msg("failed to resolve job inputs")
		}
		writeInputError(w, err)
		return
	}

	jobID := worker.NewJobID()
	resp := createJobResponse{
		JobID:         jobID,
		Status:        "queued",
		TranscriptKey: in.transcriptKey,
		DiarizeKey:    in.diarizeKey,
	}

	if h.store != nil {
		if in.transcriptRaw != nil {
			key := storage.RawKey(jobID, storage.KindTranscript)
			if err := h.store.Save(r.Context(), key, in.transcriptRaw, "application/json"); err != nil {
				h.log.Error().Err(err).Str("key", key).Msg("failed to archive transcript")
				WriteError(w, http.StatusInternalServerError, "failed to archive transcript")
				return
			}
			resp.TranscriptKey = key
		}
		if in.diarizeRaw != nil {
			key := storage.RawKey(jobID, storage.KindDiarize)
			if err := h.store.Save(r.Context(), key, in.diarizeRaw, "application/json"); err != nil {
				h.log.Error().Err(err).Str("key", key).Msg("failed to archive diarization")
				WriteError(w, http.StatusInternalServerError, "failed to archive diarization")
				return
			}
			resp.DiarizeKey = key
		}
	}

	err = h.queue.Enqueue(worker.Job{
		ID:         jobID,
		Source:     worker.SourceAPI,
		Name:       req.Name,
		Transcript: in.transcript,
		Diarize:    in.diarize,
		ReceivedAt: time.Now(),
	})
	if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrStopped) {
		w.Header().Set("Retry-After", "5")
		WriteErrorDetail(w, http.StatusServiceUnavailable, "merge queue unavailable", err.Error())
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	WriteJSON(w, http.StatusAccepted, resp)
}

// ListJobs returns stored merge runs, newest first.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		WriteError(w, http.StatusServiceUnavailable, "job history not available")
		return
	}
	p, err := ParsePagination(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid pagination", err.Error())
		return
	}
	source, _ := QueryString(r, "source")

	runs, total, err := h.runs.ListMergeRuns(r.Context(), database.MergeRunFilter{
		Source: source,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list merge runs")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":   runs,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

// GetJob returns a stored run's summary. Queued jobs are not visible until
// they have been merged.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// ListSegments returns a run's merged segments, optionally for one speaker.
func (h *JobsHandler) ListSegments(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	speaker, _ := QueryString(r, "speaker")

	segs, err := h.runs.ListMergedSegments(r.Context(), run.ID, speaker)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", run.ID).Msg("failed to list merged segments")
		WriteError(w, http.StatusInternalServerError, "failed to list segments")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"job_id":   run.ID,
		"segments": segs,
		"total":    len(segs),
	})
}

// GetRaw serves an archived input. S3-backed stores redirect to a presigned URL.
func (h *JobsHandler) GetRaw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "kind")
	if kind != storage.KindTranscript && kind != storage.KindDiarize {
		WriteError(w, http.StatusBadRequest, "kind must be transcript or diarize")
		return
	}
	if h.store == nil {
		WriteError(w, http.StatusNotFound, "raw input not found")
		return
	}

	if id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		WriteError(w, http.StatusBadRequest, "invalid job ID")
		return
	}
	key := storage.RawKey(id, kind)

	info, err := h.store.Stat(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "raw input not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("failed to stat raw input")
		WriteError(w, http.StatusInternalServerError, "failed to locate raw input")
		return
	}

	if url, err := h.store.URL(r.Context(), key); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("failed to presign raw input")
		WriteError(w, http.StatusInternalServerError, "failed to locate raw input")
		return
	} else if url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("failed to open raw input")
		WriteError(w, http.StatusInternalServerError, "failed to read raw input")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// GetQueueStats returns worker pool statistics.
func (h *JobsHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.queue.Stats())
}

func (h *JobsHandler) lookupRun(w http.ResponseWriter, r *http.Request) (*database.MergeRunAPI, bool) {
	if h.runs == nil {
		WriteError(w, http.StatusServiceUnavailable, "job history not available")
		return nil, false
	}
	id := chi.URLParam(r, "id")
	run, err := h.runs.GetMergeRun(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", id).Msg("failed to get merge run")
		WriteError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return run, true
}
