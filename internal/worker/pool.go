// Package worker runs merge jobs on a bounded pool of goroutines and
// records each result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/merge"
	"github.com/snarg/scribe-engine/internal/metrics"
)

// Intake sources recorded on each job.
const (
	SourceAPI     = "api"
	SourceMQTT    = "mqtt"
	SourceWatcher = "watcher"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue has no free slot.
	ErrQueueFull = errors.New("merge queue is full")
	// ErrStopped is returned by Enqueue once the pool has been stopped.
	ErrStopped = errors.New("worker pool stopped")
)

// Job is one transcript/diarization pair waiting to be merged.
type Job struct {
	ID         string
	Source     string
	Name       string
	Transcript []merge.TranscriptSegment
	Diarize    []merge.DiarizeSegment
	ReceivedAt time.Time
}

// NewJobID returns a fresh random job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Result is the outcome of merging a single job.
type Result struct {
	JobID      string                `json:"job_id"`
	Name       string                `json:"name,omitempty"`
	Source     string                `json:"source"`
	Segments   []merge.MergedSegment `json:"segments"`
	Summary    merge.Summary         `json:"summary"`
	DurationMs int64                 `json:"duration_ms"`
}

// QueueStats reports the current state of the merge queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Workers   int   `json:"workers"`
}

// ResultStore persists merge results.
type ResultStore interface {
	InsertMergeRun(ctx context.Context, row *database.MergeRunRow) error
}

// ResultFunc is called after a job has been merged and stored.
type ResultFunc func(job Job, res *Result)

// PoolOptions configures the merge worker pool.
type PoolOptions struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Store      ResultStore // optional
	Publish    ResultFunc  // optional
	Log        zerolog.Logger
}

// Pool manages merge workers.
type Pool struct {
	jobs   chan Job
	opts   PoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a new merge worker pool. Workers are not started until Start.
func NewPool(opts PoolOptions) *Pool {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:   make(chan Job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("merge worker pool started")
}

// Stop rejects new jobs, drains the queue and waits for workers to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("merge worker pool stopped")
}

// Enqueue adds a job to the queue without blocking.
func (p *Pool) Enqueue(j Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(p.jobs),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Workers:   p.opts.Workers,
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.opts.Workers }

func (p *Pool) PendingJobs() int     { return len(p.jobs) }
func (p *Pool) CompletedJobs() int64 { return p.completed.Load() }
func (p *Pool) FailedJobs() int64    { return p.failed.Load() }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(p.ctx, p.opts.JobTimeout)
		_, err := p.Process(ctx, job)
		cancel()
		if err != nil {
			p.failed.Add(1)
			log.Warn().Err(err).
				Str("job_id", job.ID).
				Str("name", job.Name).
				Str("source", job.Source).
				Msg("merge failed")
		} else {
			p.completed.Add(1)
		}
	}
}

// Run merges a job and records merge metrics. Nothing is persisted or published.
func (p *Pool) Run(job Job) *Result {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	start := time.Now()

	transcript, diarize := p.prepare(job)
	merged := merge.Merge(transcript, diarize)
	summary := merge.Stats(merged)

	elapsed := time.Since(start)
	metrics.MergeDuration.Observe(elapsed.Seconds())
	metrics.MergedSegmentsTotal.Add(float64(summary.Segments))
	metrics.UnknownSegmentsTotal.Add(float64(summary.Unknown))

	return &Result{
		JobID:      job.ID,
		Name:       job.Name,
		Source:     job.Source,
		Segments:   merged,
		Summary:    summary,
		DurationMs: elapsed.Milliseconds(),
	}
}

// Process merges a job, stores the run and publishes the result.
func (p *Pool) Process(ctx context.Context, job Job) (*Result, error) {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	res := p.Run(job)

	if p.opts.Store != nil {
		row := &database.MergeRunRow{
			ID:           res.JobID,
			Source:       job.Source,
			Name:         job.Name,
			SegmentCount: res.Summary.Segments,
			UnknownCount: res.Summary.Unknown,
			Speakers:     res.Summary.Speakers,
			TalkTimeMs:   res.Summary.TalkTimeMs,
			DurationMs:   res.DurationMs,
			Segments:     res.Segments,
		}
		if err := p.opts.Store.InsertMergeRun(ctx, row); err != nil {
			metrics.MergesTotal.WithLabelValues(job.Source, "error").Inc()
			return nil, fmt.Errorf("store merge run: %w", err)
		}
	}
	metrics.MergesTotal.WithLabelValues(job.Source, "ok").Inc()

	if p.opts.Publish != nil {
		p.opts.Publish(job, res)
	}

	p.log.Debug().
		Str("job_id", res.JobID).
		Str("name", job.Name).
		Str("source", job.Source).
		Int("segments", res.Summary.Segments).
		Int("unknown", res.Summary.Unknown).
		Int("speakers", len(res.Summary.Speakers)).
		Int64("duration_ms", res.DurationMs).
		Msg("merge complete")

	return res, nil
}

// prepare checks input ordering before the merge. Diarization is re-sorted
// since its order carries no meaning; transcript order is the output order
// and is only reported.
func (p *Pool) prepare(job Job) ([]merge.TranscriptSegment, []merge.DiarizeSegment) {
	diarize := job.Diarize
	if !merge.DiarizeSorted(diarize) {
		metrics.UnsortedInputsTotal.WithLabelValues("diarize").Inc()
		p.log.Warn().Str("job_id", job.ID).Str("name", job.Name).Msg("diarization not sorted by start, sorting")
		diarize = merge.SortDiarize(diarize)
	}
	if !merge.TranscriptSorted(job.Transcript) {
		metrics.UnsortedInputsTotal.WithLabelValues("transcript").Inc()
		p.log.Warn().Str("job_id", job.ID).Str("name", job.Name).Msg("transcript not sorted by start, speakers may be missed")
	}
	return job.Transcript, diarize
}
