package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/scribe-engine/internal/ingest"
)

// EventSource is the live event bus.
type EventSource interface {
	Subscribe(filter ingest.EventFilter) (<-chan ingest.Event, func())
	ReplaySince(lastEventID string, filter ingest.EventFilter) []ingest.Event
}

const (
	keepaliveInterval = 15 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
)

type EventsHandler struct {
	events   EventSource
	upgrader websocket.Upgrader
}

// NewEventsHandler serves the event stream. Websocket upgrades are accepted
// from the given origins, or from any origin when the list is empty.
func NewEventsHandler(events EventSource, origins []string) *EventsHandler {
	return &EventsHandler{
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
	}
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
	r.Get("/events/ws", h.StreamWebsocket)
}

func parseEventFilter(r *http.Request) ingest.EventFilter {
	var f ingest.EventFilter
	if v, ok := QueryString(r, "types"); ok {
		f.Types = strings.Split(v, ",")
	}
	if v, ok := QueryString(r, "sources"); ok {
		f.Sources = strings.Split(v, ",")
	}
	return f
}

// StreamEvents opens an SSE connection and pushes filtered events.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	rc := http.NewResponseController(w)
	filter := parseEventFilter(r)

	// The stream outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.events.Subscribe(filter)
	defer cancel()

	var mark replayMark
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.events.ReplaySince(lastEventID, filter) {
			writeSSE(w, e)
			mark.sent(e)
		}
	}
	if err := rc.Flush(); err != nil {
		return
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if mark.seen(event) {
				continue
			}
			writeSSE(w, event)
			rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

// replayMark remembers the newest replayed event so the live subscription,
// opened before the replay, does not deliver it a second time.
type replayMark struct {
	seq uint64
}

func (m *replayMark) sent(e ingest.Event) {
	if s := e.Seq(); s > m.seq {
		m.seq = s
	}
}

func (m *replayMark) seen(e ingest.Event) bool {
	s := e.Seq()
	return s != 0 && s <= m.seq
}

func writeSSE(w http.ResponseWriter, e ingest.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// StreamWebsocket upgrades to a websocket and writes each event as a JSON
// text message. Replay starts after the last_event_id query parameter.
func (h *EventsHandler) StreamWebsocket(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	filter := parseEventFilter(r)
	lastEventID, _ := QueryString(r, "last_event_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	ch, cancel := h.events.Subscribe(filter)
	defer cancel()

	log := hlog.FromRequest(r)
	log.Info().Msg("websocket client connected")

	// Reader: handles pongs and notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(e ingest.Event) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(e)
	}

	var mark replayMark
	if lastEventID != "" {
		for _, e := range h.events.ReplaySince(lastEventID, filter) {
			if err := send(e); err != nil {
				return
			}
			mark.sent(e)
		}
	}

	ping := time.NewTicker(keepaliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			log.Info().Msg("websocket client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if mark.seen(event) {
				continue
			}
			if err := send(event); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
