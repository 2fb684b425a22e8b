package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/scribe-engine/internal/ingest"
	"github.com/snarg/scribe-engine/internal/worker"
)

// DBPinger reports database reachability.
type DBPinger interface {
	HealthCheck(ctx context.Context) error
}

// MQTTStatus reports broker connectivity.
type MQTTStatus interface {
	IsConnected() bool
}

// WatcherSource reports directory watcher state.
type WatcherSource interface {
	Status() ingest.WatcherStatus
}

// HealthResponse is the body of GET /api/v1/health. Checks maps each
// dependency to ok, error, disconnected or not_configured.
type HealthResponse struct {
	Status        string                `json:"status"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Checks        map[string]string     `json:"checks"`
	Queue         *worker.QueueStats    `json:"queue,omitempty"`
	Watcher       *ingest.WatcherStatus `json:"watcher,omitempty"`
}

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"

	notConfigured = "not_configured"
	dbPingTimeout = 2 * time.Second
)

// HealthHandler reports dependency state. Only a failed database makes the
// service unhealthy; a lost broker or stopped watcher degrades it.
type HealthHandler struct {
	db      DBPinger
	mqtt    MQTTStatus
	watcher WatcherSource
	queue   MergeQueue
	version string
	started time.Time
}

func NewHealthHandler(db DBPinger, mqtt MQTTStatus, watcher WatcherSource, queue MergeQueue, version string, started time.Time) *HealthHandler {
	return &HealthHandler{db: db, mqtt: mqtt, watcher: watcher, queue: queue, version: version, started: started}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        statusHealthy,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Checks:        map[string]string{},
	}
	degrade := func() {
		if resp.Status == statusHealthy {
			resp.Status = statusDegraded
		}
	}

	switch {
	case h.db == nil:
		resp.Checks["database"] = notConfigured
	case h.pingDB(r.Context()) != nil:
		resp.Checks["database"] = "error"
		resp.Status = statusUnhealthy
	default:
		resp.Checks["database"] = "ok"
	}

	switch {
	case h.mqtt == nil:
		resp.Checks["mqtt"] = notConfigured
	case h.mqtt.IsConnected():
		resp.Checks["mqtt"] = "ok"
	default:
		resp.Checks["mqtt"] = "disconnected"
		degrade()
	}

	if h.watcher == nil {
		resp.Checks["file_watcher"] = notConfigured
	} else {
		ws := h.watcher.Status()
		resp.Checks["file_watcher"] = ws.Status
		resp.Watcher = &ws
		if ws.Status == "stopped" {
			degrade()
		}
	}

	if h.queue != nil {
		qs := h.queue.Stats()
		resp.Queue = &qs
	}

	code := http.StatusOK
	if resp.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, resp)
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	return h.db.HealthCheck(ctx)
}
