package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"aegis/core"
	"aegis/util/goroutine"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 45 * time.Second

	// wsSendBuffer bounds the per-client queue; slow consumers are dropped
	// rather than blocking the broadcast path.
	wsSendBuffer = 32
)

// TimelineHub fans timeline events out to WebSocket subscribers. Each client
// subscribes to one alert's timeline; the hub implements
// service.TimelineBroadcaster so the recorder can publish writes as they
// happen.
type TimelineHub struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*timelineClient]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
}

type timelineClient struct {
	conn           *websocket.Conn
	alertID        string
	organizationID string
	send           chan *core.TimelineEvent
	closeOnce      sync.Once
}

func (c *timelineClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// NewTimelineHub creates the broadcast hub.
func NewTimelineHub(logger *zap.SugaredLogger) *TimelineHub {
	if logger == nil {
		panic("logger is required")
	}
	return &TimelineHub{
		logger:  logger,
		clients: make(map[*timelineClient]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// BroadcastTimelineEvent delivers an event to every subscriber of its alert.
// Slow subscribers are disconnected instead of applying backpressure to the
// triage path.
func (h *TimelineHub) BroadcastTimelineEvent(event *core.TimelineEvent) {
	if event == nil {
		return
	}

	var dropped []*timelineClient
	h.mu.RLock()
	for client := range h.clients {
		if client.alertID != event.AlertID || client.organizationID != event.OrganizationID {
			continue
		}
		select {
		case client.send <- event:
		default:
			dropped = append(dropped, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dropped {
		h.logger.Warnw("Dropping slow timeline subscriber", "alertId", client.alertID)
		h.unregister(client)
	}
}

// SubscriberCount reports active subscriptions, mainly for tests.
func (h *TimelineHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop disconnects all subscribers.
func (h *TimelineHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
	h.mu.Unlock()
}

func (h *TimelineHub) register(client *timelineClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

func (h *TimelineHub) unregister(client *timelineClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()
}

// handleTimelineWS upgrades the connection and streams timeline events for
// one alert until the client disconnects.
func (a *API) handleTimelineWS(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}
	if a.deps.Hub == nil {
		a.writeError(w, r, "timeline streaming is not enabled", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range a.config.API.AllowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &timelineClient{
		conn:           conn,
		alertID:        alertID,
		organizationID: org,
		send:           make(chan *core.TimelineEvent, wsSendBuffer),
	}
	a.deps.Hub.register(client)

	goroutine.Go("timeline-ws-writer", a.logger, func() {
		a.deps.Hub.writePump(client)
	})
	goroutine.Go("timeline-ws-reader", a.logger, func() {
		a.deps.Hub.readPump(client)
	})
}

// writePump drains the client's send queue onto the socket, keeping the
// connection alive with pings.
func (h *TimelineHub) writePump(client *timelineClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case event, open := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !open {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(event); err != nil {
				h.unregister(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(client)
				return
			}
		case <-h.stopCh:
			return
		}
	}
}

// readPump discards inbound frames; its job is to notice disconnects and
// service pongs.
func (h *TimelineHub) readPump(client *timelineClient) {
	defer h.unregister(client)

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
