package progress

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// WSHandler streams one execution's progress events over a WebSocket.
// Clients connect to /ws/progress/{executionID}; each event is sent as a
// JSON text frame, and the connection closes when the subscription does.
type WSHandler struct {
	bus *Bus
	log *slog.Logger

	upgrader websocket.Upgrader
}

func NewWSHandler(bus *Bus, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			// The listener is internal-facing; the API in front of it
			// owns origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws/progress/{executionID}", h.serve)
	return r
}

func (h *WSHandler) serve(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := h.bus.Subscribe(executionID)
	defer cancel()

	h.log.Debug("progress subscriber connected", "execution_id", executionID)

	// Reads are only consumed to notice the client going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-events:
			if !ok {
				deadline := time.Now().Add(writeTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
					deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug("progress subscriber write failed", "execution_id", executionID, "error", err)
				return
			}
		}
	}
}
