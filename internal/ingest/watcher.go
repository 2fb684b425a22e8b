package ingest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/parser"
	"github.com/snarg/scribe-engine/internal/worker"
)

const (
	transcriptSuffix = ".transcript.json"
	diarizeSuffix    = ".diarize.json"

	debounceDelay = 500 * time.Millisecond
)

// watcherNamespace seeds content-derived job IDs for watched files.
var watcherNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("scribe-engine/watcher"))

// WatcherStatus reports the directory watcher state for the health endpoint.
type WatcherStatus struct {
	Status         string `json:"status"`
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesSkipped   int64  `json:"files_skipped"`
	JobsSubmitted  int64  `json:"jobs_submitted"`
}

// FileWatcher monitors a directory tree for <name>.transcript.json and
// <name>.diarize.json files. Once both files of a name are on disk they are
// parsed and merged. The directory itself holds the pairing state.
//
// Job IDs are derived from the file contents, so re-reading an unchanged pair
// (e.g. on restart) produces the same run ID and is stored only once.
type FileWatcher struct {
	pipeline *Pipeline
	watchDir string
	log      zerolog.Logger

	watcher *fsnotify.Watcher

	// Debounce is keyed by pair base path so writes to either file coalesce.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	jobsSubmitted  atomic.Int64
	status         atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

func NewFileWatcher(p *Pipeline, watchDir string) *FileWatcher {
	fw := &FileWatcher{
		pipeline:       p,
		watchDir:       watchDir,
		log:            p.log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
	fw.status.Store("starting")
	return fw
}

// Start adds every existing directory to the fsnotify watch set, begins
// watching and backfills pairs already on disk in the background.
func (fw *FileWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w

	dirCount := 0
	err = filepath.WalkDir(fw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil // continue walking
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	fw.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", fw.watchDir).
		Msg("file watcher initialized")

	go fw.watchLoop()
	go fw.backfill()
	return nil
}

// Stop closes the fsnotify watcher and cancels pending debounced work.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	if fw.watcher != nil {
		fw.watcher.Close()
	}

	fw.debounceMu.Lock()
	for base, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, base)
	}
	fw.debounceMu.Unlock()

	fw.log.Info().
		Int64("files_processed", fw.filesProcessed.Load()).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Int64("jobs_submitted", fw.jobsSubmitted.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status.
func (fw *FileWatcher) Status() WatcherStatus {
	s, _ := fw.status.Load().(string)
	return WatcherStatus{
		Status:         s,
		WatchDir:       fw.watchDir,
		FilesProcessed: fw.filesProcessed.Load(),
		FilesSkipped:   fw.filesSkipped.Load(),
		JobsSubmitted:  fw.jobsSubmitted.Load(),
	}
}

func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case <-fw.pipeline.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			// New directory: add it to the watch set.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					fw.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			base, _, ok := splitPairFile(event.Name)
			if !ok {
				continue
			}
			fw.scheduleProcess(base)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces pair processing so the files are fully written
// before they are read.
func (fw *FileWatcher) scheduleProcess(base string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[base]; ok {
		t.Reset(debounceDelay)
		return
	}

	fw.debounceTimers[base] = time.AfterFunc(debounceDelay, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, base)
		fw.debounceMu.Unlock()

		fw.processPair(base, false)
	})
}

// processPair reads both files for base and submits a job if both exist.
// With wait set, a full queue is retried until shutdown instead of dropping.
func (fw *FileWatcher) processPair(base string, wait bool) {
	tPath, dPath := base+transcriptSuffix, base+diarizeSuffix

	tData, err := os.ReadFile(tPath)
	if err != nil {
		fw.missingOrFailed(tPath, err)
		return
	}
	dData, err := os.ReadFile(dPath)
	if err != nil {
		fw.missingOrFailed(dPath, err)
		return
	}
	fw.filesProcessed.Add(2)

	transcript, err := parser.ParseWhisper(tData)
	if err != nil {
		fw.skip(tPath, err)
		return
	}
	diarize, err := parser.ParseDiarization(dData)
	if err != nil {
		fw.skip(dPath, err)
		return
	}

	name := fw.jobName(base)
	job := worker.Job{
		ID:         pairJobID(name, tData, dData),
		Source:     worker.SourceWatcher,
		Name:       name,
		Transcript: transcript,
		Diarize:    diarize,
		ReceivedAt: time.Now(),
	}

	for {
		err = fw.pipeline.submit(job)
		if err == nil || !wait || !errors.Is(err, worker.ErrQueueFull) {
			break
		}
		select {
		case <-fw.pipeline.ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	if err != nil {
		metrics.WatcherFilesTotal.WithLabelValues("dropped").Inc()
		fw.log.Warn().Err(err).Str("job", name).Msg("failed to submit watched pair")
		return
	}

	fw.jobsSubmitted.Add(1)
	metrics.WatcherFilesTotal.WithLabelValues("queued").Inc()
	fw.log.Debug().Str("job", name).Str("job_id", job.ID).Msg("watched pair queued")
}

func (fw *FileWatcher) missingOrFailed(path string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		metrics.WatcherFilesTotal.WithLabelValues("waiting").Inc()
		fw.log.Debug().Str("path", path).Msg("waiting for other half")
		return
	}
	metrics.WatcherFilesTotal.WithLabelValues("error").Inc()
	fw.log.Warn().Err(err).Str("path", path).Msg("failed to read file")
}

func (fw *FileWatcher) skip(path string, err error) {
	fw.filesSkipped.Add(1)
	metrics.WatcherFilesTotal.WithLabelValues("invalid").Inc()
	fw.log.Warn().Err(err).Str("path", path).Msg("failed to parse file")
}

// backfill submits every complete pair already on disk, oldest name first.
func (fw *FileWatcher) backfill() {
	fw.status.Store("backfilling")
	start := time.Now()

	seen := make(map[string]bool)
	var bases []string
	_ = filepath.WalkDir(fw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if base, _, ok := splitPairFile(path); ok && !seen[base] {
			seen[base] = true
			bases = append(bases, base)
		}
		return nil
	})
	sort.Strings(bases)

	fw.log.Info().Int("candidates", len(bases)).Msg("backfill starting")

	before := fw.jobsSubmitted.Load()
	for _, base := range bases {
		if fw.pipeline.ctx.Err() != nil {
			fw.log.Info().Msg("backfill interrupted by shutdown")
			return
		}
		fw.processPair(base, true)
	}

	if fw.status.Load() != "stopped" {
		fw.status.Store("watching")
	}
	fw.log.Info().
		Int64("submitted", fw.jobsSubmitted.Load()-before).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}

// jobName is the pair's base path relative to the watch directory, with
// forward slashes.
func (fw *FileWatcher) jobName(base string) string {
	rel, err := filepath.Rel(fw.watchDir, base)
	if err != nil {
		return filepath.Base(base)
	}
	return filepath.ToSlash(rel)
}

// splitPairFile returns the base path and kind for a pair file name.
func splitPairFile(path string) (base, kind string, ok bool) {
	switch {
	case strings.HasSuffix(path, transcriptSuffix):
		base, kind = strings.TrimSuffix(path, transcriptSuffix), KindTranscript
	case strings.HasSuffix(path, diarizeSuffix):
		base, kind = strings.TrimSuffix(path, diarizeSuffix), KindDiarize
	default:
		return "", "", false
	}
	if base == "" || strings.HasSuffix(base, "/") || strings.HasSuffix(base, string(filepath.Separator)) {
		return "", "", false
	}
	return base, kind, true
}

// pairJobID derives a stable job ID from the job name and both file contents.
func pairJobID(name string, transcript, diarize []byte) string {
	data := make([]byte, 0, len(name)+len(transcript)+len(diarize)+2)
	data = append(data, name...)
	data = append(data, 0)
	data = append(data, transcript...)
	data = append(data, 0)
	data = append(data, diarize...)
	return uuid.NewSHA1(watcherNamespace, data).String()
}
