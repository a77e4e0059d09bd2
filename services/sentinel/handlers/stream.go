package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/events"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

const (
	// pingInterval keeps idle connections alive through proxies.
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// HandleEventsWebSocket streams fault and healing updates to the client
// until it disconnects. Slow clients lose events rather than slowing
// the pipeline; the bus drops for them.
func HandleEventsWebSocket(bus *events.Bus, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sub, cancel := bus.Subscribe()
		defer cancel()
		if metrics != nil {
			metrics.EventSubscribers.Inc()
			defer metrics.EventSubscribers.Dec()
		}
		slog.Info("event stream client connected", "remote", ws.RemoteAddr().String())

		// Reader goroutine: we never expect client messages, but reading
		// is how gorilla surfaces close frames.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				slog.Info("event stream client disconnected", "remote", ws.RemoteAddr().String())
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					slog.Debug("event stream ping failed", "error", err)
					return
				}
			case ev, open := <-sub:
				if !open {
					// Bus shut down; tell the client we are going away.
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "sentinel shutting down"),
						time.Now().Add(writeTimeout))
					return
				}
				ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := ws.WriteJSON(ev); err != nil {
					slog.Debug("event stream write failed", "error", err)
					return
				}
			}
		}
	}
}
