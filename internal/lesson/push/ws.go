package push

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

// NewUpgrader accepts origins for which allow returns true; a nil allow
// accepts every origin.
func NewUpgrader(allow func(origin string) bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allow == nil {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || allow(origin)
		},
	}
}

// ServeWS streams one run over a WebSocket, one JSON message per frame.
func (h *Hub) ServeWS(up websocket.Upgrader, w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "run_id", runID, "error", err)
		return
	}
	defer conn.Close()

	client, replay, finished := h.Subscribe(runID, LastEventID(r))
	defer h.Unsubscribe(client)

	// the reader only notices the peer going away
	gone := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	closeNormal := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
			time.Now().Add(wsWriteWait))
	}

	for _, m := range replay {
		if err := write(m); err != nil {
			return
		}
		if m.Terminal() {
			closeNormal()
			return
		}
	}
	if finished {
		closeNormal()
		return
	}

	ping := time.NewTicker(h.cfg.Heartbeat)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-client.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case m := <-client.Outbound:
			if err := write(m); err != nil {
				h.log.Warn("websocket write failed", "client_id", client.ID.String(), "error", err)
				return
			}
			if m.Terminal() {
				closeNormal()
				return
			}
		}
	}
}
