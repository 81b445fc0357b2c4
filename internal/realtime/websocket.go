package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgard/lifetracker/internal/database"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebsocketHandler streams change events to websocket clients. Query
// parameters table, event and user_id narrow the subscription; table
// defaults to the handler's table.
type WebsocketHandler struct {
	broadcaster *Broadcaster
	table       string
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewWebsocketHandler creates a handler subscribing to table by default.
// allowAllOrigins disables the same-origin check.
func NewWebsocketHandler(b *Broadcaster, table string, allowAllOrigins bool, logger *slog.Logger) *WebsocketHandler {
	h := &WebsocketHandler{
		broadcaster: b,
		table:       table,
		logger:      logger.With("component", "websocket"),
	}
	if allowAllOrigins {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return h
}

// ParseFilter builds a Filter from request query parameters.
func ParseFilter(r *http.Request, defaultTable string) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{Table: defaultTable}
	if table := q.Get("table"); table != "" {
		filter.Table = table
	}
	switch event := database.EventType(strings.ToUpper(q.Get("event"))); event {
	case "", "*":
	case database.EventInsert, database.EventUpdate, database.EventDelete:
		filter.Event = event
	default:
		return Filter{}, errors.New("event must be one of INSERT, UPDATE, DELETE or *")
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Filter{}, errors.New("user_id must be an integer")
		}
		filter.UserID = id
	}
	return filter, nil
}

// ServeHTTP upgrades the connection and writes one JSON message per event.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r, h.table)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broadcaster.Subscribe(filter)
	defer sub.Unsubscribe()
	log := h.logger.With("subscription_id", sub.ID, "remote_addr", r.RemoteAddr)
	log.Info("Websocket client subscribed", "table", filter.Table, "event", filter.Event, "user_id", filter.UserID)

	// The read loop only handles control frames and detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("Websocket read ended", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Info("Websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-sub.C():
			if !ok {
				reason := "subscription ended"
				if err := sub.Err(); err != nil {
					reason = err.Error()
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason),
					time.Now().Add(writeWait))
				log.Warn("Websocket subscription ended", "reason", reason)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Warn("Websocket write failed", "error", err)
				return
			}
		}
	}
}
