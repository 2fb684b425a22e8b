package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/snarg/scribe-engine/internal/worker"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSplitPairFile(t *testing.T) {
	tests := []struct {
		path     string
		wantBase string
		wantKind string
		wantOK   bool
	}{
		{"/in/ep1.transcript.json", "/in/ep1", KindTranscript, true},
		{"/in/2026/ep1.diarize.json", "/in/2026/ep1", KindDiarize, true},
		{"/in/ep1.json", "", "", false},
		{"/in/ep1.transcript.json.tmp", "", "", false},
		{"/in/.transcript.json", "", "", false},
		{".diarize.json", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			base, kind, ok := splitPairFile(tt.path)
			if ok != tt.wantOK || base != tt.wantBase || kind != tt.wantKind {
				t.Errorf("splitPairFile(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.path, base, kind, ok, tt.wantBase, tt.wantKind, tt.wantOK)
			}
		})
	}
}

func TestPairJobID(t *testing.T) {
	a := pairJobID("ep1", []byte("t"), []byte("d"))
	if a != pairJobID("ep1", []byte("t"), []byte("d")) {
		t.Error("pairJobID not stable for identical input")
	}
	if a == pairJobID("ep2", []byte("t"), []byte("d")) {
		t.Error("pairJobID ignores name")
	}
	if a == pairJobID("ep1", []byte("t2"), []byte("d")) {
		t.Error("pairJobID ignores content")
	}
	// Boundary between parts matters
	if pairJobID("ep", []byte("1t"), []byte("d")) == a {
		t.Error("pairJobID collides across part boundaries")
	}
}

func TestFileWatcher_ProcessPair(t *testing.T) {
	dir := t.TempDir()
	q := &fakeQueue{}
	fw := NewFileWatcher(newTestPipeline(q, nil), dir)

	base := filepath.Join(dir, "2026", "ep1")
	writeFile(t, base+transcriptSuffix, whisperPayload)

	fw.processPair(base, false)
	if got := len(q.snapshot()); got != 0 {
		t.Fatalf("enqueued %d jobs with one half on disk, want 0", got)
	}

	writeFile(t, base+diarizeSuffix, pyannotePayload)
	fw.processPair(base, false)

	jobs := q.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if job.Name != "2026/ep1" {
		t.Errorf("Name = %q, want 2026/ep1", job.Name)
	}
	if job.Source != worker.SourceWatcher {
		t.Errorf("Source = %q, want watcher", job.Source)
	}
	if len(job.Transcript) != 2 || len(job.Diarize) != 2 {
		t.Errorf("halves = %d/%d segments, want 2/2", len(job.Transcript), len(job.Diarize))
	}

	// Same content on disk yields the same ID
	fw.processPair(base, false)
	jobs = q.snapshot()
	if len(jobs) != 2 || jobs[1].ID != job.ID {
		t.Errorf("re-read pair ID = %q, want %q", jobs[len(jobs)-1].ID, job.ID)
	}

	st := fw.Status()
	if st.JobsSubmitted != 2 || st.FilesProcessed != 4 {
		t.Errorf("Status = %+v, want 2 jobs / 4 files", st)
	}
}

func TestFileWatcher_InvalidFileSkipped(t *testing.T) {
	dir := t.TempDir()
	q := &fakeQueue{}
	fw := NewFileWatcher(newTestPipeline(q, nil), dir)

	base := filepath.Join(dir, "bad")
	writeFile(t, base+transcriptSuffix, `{"unexpected": 1}`)
	writeFile(t, base+diarizeSuffix, pyannotePayload)

	fw.processPair(base, false)
	if got := len(q.snapshot()); got != 0 {
		t.Errorf("enqueued %d jobs for invalid pair, want 0", got)
	}
	if fw.Status().FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d, want 1", fw.Status().FilesSkipped)
	}
}

func TestFileWatcher_Backfill(t *testing.T) {
	dir := t.TempDir()
	q := &fakeQueue{}
	fw := NewFileWatcher(newTestPipeline(q, nil), dir)

	writeFile(t, filepath.Join(dir, "b", "ep2"+transcriptSuffix), whisperPayload)
	writeFile(t, filepath.Join(dir, "b", "ep2"+diarizeSuffix), pyannotePayload)
	writeFile(t, filepath.Join(dir, "a"+transcriptSuffix), whisperPayload)
	writeFile(t, filepath.Join(dir, "a"+diarizeSuffix), pyannotePayload)
	writeFile(t, filepath.Join(dir, "lonely"+transcriptSuffix), whisperPayload)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignore me")

	fw.backfill()

	jobs := q.snapshot()
	if len(jobs) != 2 {
		t.Fatalf("backfill enqueued %d jobs, want 2", len(jobs))
	}
	if jobs[0].Name != "a" || jobs[1].Name != "b/ep2" {
		t.Errorf("names = [%q %q], want [a b/ep2]", jobs[0].Name, jobs[1].Name)
	}
	if st := fw.Status().Status; st != "watching" {
		t.Errorf("Status = %q, want watching", st)
	}
}
