package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/merge"
)

type fakeStore struct {
	mu   sync.Mutex
	rows []*database.MergeRunRow
	err  error
}

func (f *fakeStore) InsertMergeRun(_ context.Context, row *database.MergeRunRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func newTestPool(workers, queueSize int) *Pool {
	return NewPool(PoolOptions{
		Workers:   workers,
		QueueSize: queueSize,
		Log:       zerolog.Nop(),
	})
}

func sampleJob() Job {
	return Job{
		ID:     "job-1",
		Source: SourceAPI,
		Name:   "interview",
		Transcript: []merge.TranscriptSegment{
			{StartMs: 0, EndMs: 2500, Text: "Olá, tudo bem?"},
			{StartMs: 2500, EndMs: 5800, Text: "Tudo ótimo, obrigado."},
		},
		Diarize: []merge.DiarizeSegment{
			{StartMs: 0, EndMs: 2400, Speaker: "SPEAKER_00"},
			{StartMs: 2400, EndMs: 6000, Speaker: "SPEAKER_01"},
		},
	}
}

func TestNewPool(t *testing.T) {
	p := newTestPool(4, 100)
	if p == nil {
		t.Fatal("NewPool returned nil")
	}
	if cap(p.jobs) != 100 {
		t.Errorf("queue capacity = %d, want 100", cap(p.jobs))
	}
	if p.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", p.Workers())
	}
	if p.opts.JobTimeout != 30*time.Second {
		t.Errorf("JobTimeout = %v, want 30s default", p.opts.JobTimeout)
	}
}

func TestPool_EnqueueBeforeStart(t *testing.T) {
	p := newTestPool(2, 5)
	// Enqueue works before Start(); it just buffers
	if err := p.Enqueue(Job{ID: "a"}); err != nil {
		t.Errorf("Enqueue = %v, want nil when queue has space", err)
	}
}

func TestPool_EnqueueFull(t *testing.T) {
	p := newTestPool(0, 2) // 0 workers = nobody draining

	p.Enqueue(Job{ID: "a"})
	p.Enqueue(Job{ID: "b"})

	err := p.Enqueue(Job{ID: "c"})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue = %v, want ErrQueueFull", err)
	}
}

func TestPool_EnqueueAfterStop(t *testing.T) {
	p := newTestPool(1, 10)
	p.Start()
	p.Stop()

	err := p.Enqueue(Job{ID: "a"})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Enqueue = %v, want ErrStopped", err)
	}
	// Second Stop is a no-op
	p.Stop()
}

func TestPool_Stats(t *testing.T) {
	p := newTestPool(0, 10) // 0 workers so nothing drains

	p.Enqueue(Job{ID: "a"})
	p.Enqueue(Job{ID: "b"})

	stats := p.Stats()
	if stats.Pending != 2 {
		t.Errorf("Pending = %d, want 2", stats.Pending)
	}
	if stats.Completed != 0 {
		t.Errorf("Completed = %d, want 0", stats.Completed)
	}
	if stats.Failed != 0 {
		t.Errorf("Failed = %d, want 0", stats.Failed)
	}
	if p.PendingJobs() != 2 {
		t.Errorf("PendingJobs() = %d, want 2", p.PendingJobs())
	}
}

func TestPool_StopDrainsQueue(t *testing.T) {
	store := &fakeStore{}
	p := NewPool(PoolOptions{Workers: 2, QueueSize: 10, Store: store, Log: zerolog.Nop()})

	for i := 0; i < 5; i++ {
		job := sampleJob()
		job.ID = NewJobID()
		if err := p.Enqueue(job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	p.Start()
	p.Stop()

	if got := store.count(); got != 5 {
		t.Errorf("stored rows = %d, want 5", got)
	}
	if got := p.Stats().Completed; got != 5 {
		t.Errorf("Completed = %d, want 5", got)
	}
}

func TestPool_FailedJobsCounted(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	p := NewPool(PoolOptions{Workers: 1, QueueSize: 4, Store: store, Log: zerolog.Nop()})

	p.Enqueue(sampleJob())
	p.Enqueue(sampleJob())
	p.Start()
	p.Stop()

	stats := p.Stats()
	if stats.Failed != 2 {
		t.Errorf("Failed = %d, want 2", stats.Failed)
	}
	if stats.Completed != 0 {
		t.Errorf("Completed = %d, want 0", stats.Completed)
	}
}

func TestPool_Process(t *testing.T) {
	store := &fakeStore{}
	var published []*Result
	p := NewPool(PoolOptions{
		Workers:   1,
		QueueSize: 1,
		Store:     store,
		Publish:   func(_ Job, res *Result) { published = append(published, res) },
		Log:       zerolog.Nop(),
	})

	res, err := p.Process(context.Background(), sampleJob())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := []string{"SPEAKER_00", "SPEAKER_01"}
	if len(res.Segments) != len(want) {
		t.Fatalf("len(Segments) = %d, want %d", len(res.Segments), len(want))
	}
	for i, w := range want {
		if res.Segments[i].Speaker != w {
			t.Errorf("Segments[%d].Speaker = %q, want %q", i, res.Segments[i].Speaker, w)
		}
	}
	if res.JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", res.JobID)
	}

	if store.count() != 1 {
		t.Fatalf("stored rows = %d, want 1", store.count())
	}
	row := store.rows[0]
	if row.ID != "job-1" || row.Source != SourceAPI || row.Name != "interview" {
		t.Errorf("row = {%q %q %q}, want {job-1 api interview}", row.ID, row.Source, row.Name)
	}
	if row.SegmentCount != 2 || row.UnknownCount != 0 {
		t.Errorf("row counts = %d/%d, want 2/0", row.SegmentCount, row.UnknownCount)
	}
	if len(row.Segments) != 2 {
		t.Errorf("len(row.Segments) = %d, want 2", len(row.Segments))
	}

	if len(published) != 1 || published[0] != res {
		t.Errorf("published = %v, want the returned result once", published)
	}
}

func TestPool_ProcessStoreError(t *testing.T) {
	published := 0
	p := NewPool(PoolOptions{
		Store:   &fakeStore{err: errors.New("db down")},
		Publish: func(Job, *Result) { published++ },
		Log:     zerolog.Nop(),
	})

	if _, err := p.Process(context.Background(), sampleJob()); err == nil {
		t.Fatal("Process should fail when the store fails")
	}
	if published != 0 {
		t.Errorf("published = %d, want 0 after store failure", published)
	}
}

func TestPool_RunAssignsID(t *testing.T) {
	p := newTestPool(0, 1)
	job := sampleJob()
	job.ID = ""

	res := p.Run(job)
	if res.JobID == "" {
		t.Error("Run should assign a job ID when none is set")
	}
}

func TestPool_RunSortsDiarization(t *testing.T) {
	p := newTestPool(0, 1)
	job := sampleJob()
	job.Diarize = []merge.DiarizeSegment{
		{StartMs: 2400, EndMs: 6000, Speaker: "SPEAKER_01"},
		{StartMs: 0, EndMs: 2400, Speaker: "SPEAKER_00"},
	}

	res := p.Run(job)
	if res.Segments[0].Speaker != "SPEAKER_00" {
		t.Errorf("Segments[0].Speaker = %q, want SPEAKER_00", res.Segments[0].Speaker)
	}
	if res.Segments[1].Speaker != "SPEAKER_01" {
		t.Errorf("Segments[1].Speaker = %q, want SPEAKER_01", res.Segments[1].Speaker)
	}
	// Caller's slice is left as-is
	if job.Diarize[0].Speaker != "SPEAKER_01" {
		t.Error("Run mutated the job's diarization slice")
	}
}

func TestPool_RunKeepsTranscriptOrder(t *testing.T) {
	p := newTestPool(0, 1)
	job := sampleJob()
	job.Transcript = []merge.TranscriptSegment{
		{StartMs: 2500, EndMs: 5800, Text: "second"},
		{StartMs: 0, EndMs: 2500, Text: "first"},
	}

	res := p.Run(job)
	if res.Segments[0].Text != "second" || res.Segments[1].Text != "first" {
		t.Errorf("texts = [%q %q], want input order", res.Segments[0].Text, res.Segments[1].Text)
	}
	if res.Segments[0].Speaker != "SPEAKER_01" {
		t.Errorf("Segments[0].Speaker = %q, want SPEAKER_01", res.Segments[0].Speaker)
	}
}

func TestNewJobID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	if a == b {
		t.Errorf("NewJobID returned %q twice", a)
	}
	if len(a) != 36 {
		t.Errorf("len(NewJobID()) = %d, want 36", len(a))
	}
}
