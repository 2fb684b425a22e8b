// Package ingest turns transcripts and diarizations arriving over MQTT or in
// a watched directory into merge jobs.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/merge"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/parser"
	"github.com/snarg/scribe-engine/internal/worker"
)

// Enqueuer accepts merge jobs.
type Enqueuer interface {
	Enqueue(job worker.Job) error
}

// Publisher sends a payload to a broker topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type PipelineOptions struct {
	Queue       Enqueuer
	Publisher   Publisher // optional; nil disables result publishing
	ResultTopic string
	Events      *EventBus // optional
	PairTTL     time.Duration
	Log         zerolog.Logger
}

// Pipeline parses incoming halves, pairs them and hands complete jobs to the
// worker pool.
type Pipeline struct {
	queue       Enqueuer
	publisher   Publisher
	resultTopic string
	events      *EventBus
	joiner      *Joiner
	log         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	msgCount      atomic.Int64
	jobsEnqueued  atomic.Int64
	jobsDropped   atomic.Int64
	halvesExpired atomic.Int64
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.PairTTL <= 0 {
		opts.PairTTL = 10 * time.Minute
	}
	return &Pipeline{
		queue:       opts.Queue,
		publisher:   opts.Publisher,
		resultTopic: strings.TrimSuffix(opts.ResultTopic, "/"),
		events:      opts.Events,
		joiner:      NewJoiner(opts.PairTTL),
		log:         opts.Log.With().Str("component", "ingest").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins expiring stale halves and periodic stats logging.
func (p *Pipeline) Start() {
	go p.expiryLoop()
	go p.statsLoop()
	p.log.Info().Dur("pair_ttl", p.joiner.ttl).Msg("ingest pipeline started")
}

// Stop cancels the background loops.
func (p *Pipeline) Stop() {
	p.log.Info().
		Int64("total_messages", p.msgCount.Load()).
		Int("pending_halves", p.joiner.Pending()).
		Msg("ingest pipeline stopping")
	p.cancel()
}

// SetPublisher sets the result publisher. It must be called before Start.
func (p *Pipeline) SetPublisher(pub Publisher) {
	p.publisher = pub
}

// HandleMessage is the MQTT message callback.
func (p *Pipeline) HandleMessage(topic string, payload []byte) {
	p.msgCount.Add(1)

	// Our own results come back on wildcard subscriptions.
	if p.resultTopic != "" && strings.HasPrefix(topic, p.resultTopic+"/") {
		return
	}

	route := ParseTopic(topic)
	if route == nil {
		metrics.MQTTMessagesTotal.WithLabelValues("unrouted").Inc()
		p.log.Debug().Str("topic", topic).Msg("no route for topic")
		return
	}
	metrics.MQTTMessagesTotal.WithLabelValues(route.Kind).Inc()

	if err := p.accept(route.Kind, route.Job, payload); err != nil {
		p.log.Warn().Err(err).
			Str("topic", topic).
			Str("job", route.Job).
			Str("kind", route.Kind).
			Msg("failed to handle message")
	}
}

// accept parses one half and enqueues the job once both halves are present.
func (p *Pipeline) accept(kind, name string, payload []byte) error {
	var (
		pair Pair
		ok   bool
	)
	switch kind {
	case KindTranscript:
		segs, err := parser.ParseWhisper(payload)
		if err != nil {
			return fmt.Errorf("parse transcript: %w", err)
		}
		pair, ok = p.joiner.AddTranscript(name, segs)
	case KindDiarize:
		segs, err := parser.ParseDiarization(payload)
		if err != nil {
			return fmt.Errorf("parse diarization: %w", err)
		}
		pair, ok = p.joiner.AddDiarize(name, segs)
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	if !ok {
		p.log.Debug().Str("job", name).Str("kind", kind).Msg("waiting for other half")
		return nil
	}

	return p.submit(worker.Job{
		ID:         worker.NewJobID(),
		Source:     worker.SourceMQTT,
		Name:       pair.Name,
		Transcript: pair.Transcript,
		Diarize:    pair.Diarize,
		ReceivedAt: time.Now(),
	})
}

func (p *Pipeline) submit(job worker.Job) error {
	if err := p.queue.Enqueue(job); err != nil {
		p.jobsDropped.Add(1)
		if errors.Is(err, worker.ErrQueueFull) {
			metrics.MergesTotal.WithLabelValues(job.Source, "dropped").Inc()
		}
		return fmt.Errorf("enqueue %s: %w", job.Name, err)
	}
	p.jobsEnqueued.Add(1)
	return nil
}

// resultMessage is the JSON published for each merged job.
type resultMessage struct {
	JobID      string                `json:"job_id"`
	Name       string                `json:"name"`
	Source     string                `json:"source"`
	Segments   []merge.MergedSegment `json:"segments"`
	Summary    merge.Summary         `json:"summary"`
	DurationMs int64                 `json:"duration_ms"`
}

// PublishResult announces a merged result on the event bus and sends it to
// {ResultTopic}/{name}. Jobs without a name are published under their ID.
func (p *Pipeline) PublishResult(job worker.Job, res *worker.Result) {
	name := job.Name
	if name == "" {
		name = res.JobID
	}
	msg := resultMessage{
		JobID:      res.JobID,
		Name:       name,
		Source:     job.Source,
		Segments:   res.Segments,
		Summary:    res.Summary,
		DurationMs: res.DurationMs,
	}

	if p.events != nil {
		p.events.Publish(EventMergeCompleted, job.Source, name, msg)
	}
	if p.publisher == nil || p.resultTopic == "" {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", res.JobID).Msg("failed to encode result")
		return
	}

	topic := p.resultTopic + "/" + name
	if err := p.publisher.Publish(topic, payload); err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("failed to publish result")
	}
}

// PendingHalves returns the number of jobs waiting for their other half.
func (p *Pipeline) PendingHalves() int {
	return p.joiner.Pending()
}

// MsgCount returns the total number of MQTT messages seen.
func (p *Pipeline) MsgCount() int64 {
	return p.msgCount.Load()
}

func (p *Pipeline) expiryLoop() {
	interval := p.joiner.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			p.expire(now)
		}
	}
}

func (p *Pipeline) expire(now time.Time) {
	expired := p.joiner.Expire(now)
	if len(expired) == 0 {
		return
	}
	p.halvesExpired.Add(int64(len(expired)))
	p.log.Warn().Strs("jobs", expired).Msg("dropped unpaired halves after TTL")
	if p.events != nil {
		for _, name := range expired {
			p.events.Publish(EventPairExpired, worker.SourceMQTT, name, map[string]string{"name": name})
		}
	}
}

// statsLoop logs message counts every 60 seconds.
func (p *Pipeline) statsLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	var lastTotal int64
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			total := p.msgCount.Load()
			delta := total - lastTotal
			lastTotal = total

			p.log.Info().
				Int64("total", total).
				Int64("last_60s", delta).
				Int("pending_halves", p.joiner.Pending()).
				Int64("enqueued", p.jobsEnqueued.Load()).
				Int64("dropped", p.jobsDropped.Load()).
				Int64("expired", p.halvesExpired.Load()).
				Msg("stats")
		}
	}
}
