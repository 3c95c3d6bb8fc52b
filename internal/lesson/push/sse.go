package push

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/lessonstream/internal/lesson/emitter"
)

func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteSSE writes m as one event named after its type.
func WriteSSE(w io.Writer, m emitter.Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", m.Seq, m.Type, raw)
	return err
}

func writePing(w io.Writer) error {
	_, err := io.WriteString(w, ": ping\n\n")
	return err
}

// LastEventID reads the resume point from the Last-Event-ID header or the
// lastEventId query parameter.
func LastEventID(r *http.Request) int64 {
	v := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if v == "" {
		v = strings.TrimSpace(r.URL.Query().Get("lastEventId"))
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ServeSSE streams one run until its terminal message, the client leaving,
// or the hub dropping the client.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, runID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	client, replay, finished := h.Subscribe(runID, LastEventID(r))
	defer h.Unsubscribe(client)

	SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	for _, m := range replay {
		if err := WriteSSE(w, m); err != nil {
			return
		}
		if m.Terminal() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()
	if finished {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("SSE client context done", "client_id", client.ID.String(), "err", ctx.Err())
			return
		case <-client.Done():
			return
		case <-heartbeat.C:
			if err := writePing(w); err != nil {
				return
			}
			flusher.Flush()
		case m := <-client.Outbound:
			if err := WriteSSE(w, m); err != nil {
				h.log.Warn("SSE write failed", "client_id", client.ID.String(), "error", err)
				return
			}
			flusher.Flush()
			if m.Terminal() {
				return
			}
		}
	}
}
