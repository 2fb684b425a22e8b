package ingest

import (
	"sort"
	"sync"
	"time"

	"github.com/snarg/scribe-engine/internal/merge"
)

// Pair is a job with both halves present.
type Pair struct {
	Name       string
	Transcript []merge.TranscriptSegment
	Diarize    []merge.DiarizeSegment
	FirstSeen  time.Time
}

type half struct {
	transcript    []merge.TranscriptSegment
	diarize       []merge.DiarizeSegment
	hasTranscript bool
	hasDiarize    bool
	firstSeen     time.Time
}

// Joiner pairs transcripts and diarizations that arrive separately under the
// same job name. A half that waits longer than the TTL is dropped by Expire.
// A repeated half replaces the earlier one.
type Joiner struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]*half
	now     func() time.Time
}

func NewJoiner(ttl time.Duration) *Joiner {
	return &Joiner{
		ttl:     ttl,
		pending: make(map[string]*half),
		now:     time.Now,
	}
}

// AddTranscript records the transcript half. It returns the completed pair
// once the diarization is also present.
func (j *Joiner) AddTranscript(name string, segs []merge.TranscriptSegment) (Pair, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	h := j.entry(name)
	h.transcript = segs
	h.hasTranscript = true
	return j.take(name, h)
}

// AddDiarize records the diarization half. It returns the completed pair
// once the transcript is also present.
func (j *Joiner) AddDiarize(name string, segs []merge.DiarizeSegment) (Pair, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	h := j.entry(name)
	h.diarize = segs
	h.hasDiarize = true
	return j.take(name, h)
}

// Expire drops halves first seen more than the TTL before now and returns
// their names, sorted.
func (j *Joiner) Expire(now time.Time) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var expired []string
	for name, h := range j.pending {
		if now.Sub(h.firstSeen) > j.ttl {
			delete(j.pending, name)
			expired = append(expired, name)
		}
	}
	sort.Strings(expired)
	return expired
}

// Pending returns the number of jobs waiting for their other half.
func (j *Joiner) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func (j *Joiner) entry(name string) *half {
	h, ok := j.pending[name]
	if !ok {
		h = &half{firstSeen: j.now()}
		j.pending[name] = h
	}
	return h
}

// take must be called with mu held.
func (j *Joiner) take(name string, h *half) (Pair, bool) {
	if !h.hasTranscript || !h.hasDiarize {
		return Pair{}, false
	}
	delete(j.pending, name)
	return Pair{
		Name:       name,
		Transcript: h.transcript,
		Diarize:    h.diarize,
		FirstSeen:  h.firstSeen,
	}, true
}
