package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats provides the collector access to worker pool state.
type QueueStats interface {
	PendingJobs() int
	CompletedJobs() int64
	FailedJobs() int64
}

// IntakeStats provides the collector access to the job joiner.
type IntakeStats interface {
	PendingHalves() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool   *pgxpool.Pool
	queue  QueueStats
	intake IntakeStats

	queuePending    *prometheus.Desc
	jobsCompleted   *prometheus.Desc
	jobsFailed      *prometheus.Desc
	pendingHalves   *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any argument may be nil; the matching gauges then report 0.
func NewCollector(pool *pgxpool.Pool, queue QueueStats, intake IntakeStats) *Collector {
	return &Collector{
		pool:   pool,
		queue:  queue,
		intake: intake,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_pending"),
			"Merge jobs waiting in the worker queue.",
			nil, nil,
		),
		jobsCompleted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "completed_jobs"),
			"Merge jobs completed by the worker pool since start.",
			nil, nil,
		),
		jobsFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "failed_jobs"),
			"Merge jobs failed in the worker pool since start.",
			nil, nil,
		),
		pendingHalves: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pending_halves"),
			"Transcripts or diarizations waiting for their other half.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.jobsCompleted
	ch <- c.jobsFailed
	ch <- c.pendingHalves
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, completed, failed, halves float64
	if c.queue != nil {
		pending = float64(c.queue.PendingJobs())
		completed = float64(c.queue.CompletedJobs())
		failed = float64(c.queue.FailedJobs())
	}
	if c.intake != nil {
		halves = float64(c.intake.PendingHalves())
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.jobsCompleted, prometheus.CounterValue, completed)
	ch <- prometheus.MustNewConstMetric(c.jobsFailed, prometheus.CounterValue, failed)
	ch <- prometheus.MustNewConstMetric(c.pendingHalves, prometheus.GaugeValue, halves)

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
