// Package push fans run messages out to SSE and WebSocket subscribers.
package push

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lessonstream/internal/lesson/emitter"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type Config struct {
	ClientBuffer int
	// History is how many messages per run are kept for replay.
	History   int
	Heartbeat time.Duration
	// Retention is how long a finished run stays replayable.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = 64
	}
	if c.History <= 0 {
		c.History = 512
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 10 * time.Minute
	}
	return c
}

type Client struct {
	ID       uuid.UUID
	RunID    string
	Outbound chan emitter.Message
	done     chan struct{}
	once     sync.Once
}

// Done is closed when the hub drops the client.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() { c.once.Do(func() { close(c.done) }) }

type run struct {
	history  []emitter.Message
	clients  map[*Client]bool
	finished bool
}

type Hub struct {
	mu   sync.RWMutex
	log  *logger.Logger
	cfg  Config
	runs map[string]*run
}

func NewHub(log *logger.Logger, cfg Config) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		log:  log.With("component", "PushHub"),
		cfg:  cfg.withDefaults(),
		runs: make(map[string]*run),
	}
}

func (h *Hub) Heartbeat() time.Duration { return h.cfg.Heartbeat }

func (h *Hub) runLocked(id string) *run {
	r, ok := h.runs[id]
	if !ok {
		r = &run{clients: make(map[*Client]bool)}
		h.runs[id] = r
	}
	return r
}

// Open registers a run so subscribers can attach before its first message.
func (h *Hub) Open(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runLocked(runID)
}

func (h *Hub) Has(runID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.runs[runID]
	return ok
}

// Subscribe attaches a client and returns the messages it missed, all with
// seq greater than afterSeq. Replay and live delivery never overlap.
func (h *Hub) Subscribe(runID string, afterSeq int64) (*Client, []emitter.Message, bool) {
	runID = strings.TrimSpace(runID)
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.runLocked(runID)
	var replay []emitter.Message
	for _, m := range r.history {
		if m.Seq > afterSeq {
			replay = append(replay, m)
		}
	}
	c := &Client{
		ID:       uuid.New(),
		RunID:    runID,
		Outbound: make(chan emitter.Message, h.cfg.ClientBuffer),
		done:     make(chan struct{}),
	}
	if r.finished {
		c.close()
		return c, replay, true
	}
	r.clients[c] = true
	h.log.Debug("push client subscribed", "client_id", c.ID.String(), "run_id", runID, "replay", len(replay))
	return c, replay, false
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.runs[c.RunID]; ok {
		delete(r.clients, c)
	}
	c.close()
}

// Publish records m in the run history and delivers it to subscribers. A
// subscriber too slow for a non-droppable message is disconnected; it can
// resubscribe and replay from its last seq.
func (h *Hub) Publish(runID string, m emitter.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.runLocked(runID)
	if r.finished {
		return
	}
	r.history = append(r.history, m)
	if over := len(r.history) - h.cfg.History; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
	for c := range r.clients {
		select {
		case c.Outbound <- m:
		default:
			if m.Droppable() {
				h.log.Debug("dropping push message; outbound buffer full", "client_id", c.ID.String(), "type", string(m.Type))
				continue
			}
			h.log.Warn("disconnecting slow push client", "client_id", c.ID.String(), "run_id", runID)
			delete(r.clients, c)
			c.close()
		}
	}
	if m.Terminal() {
		r.finished = true
		time.AfterFunc(h.cfg.Retention, func() { h.forget(runID) })
	}
}

func (h *Hub) forget(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.runs[runID]; ok {
		for c := range r.clients {
			c.close()
		}
		delete(h.runs, runID)
	}
}

// HubSink publishes emitter output to the local hub.
type HubSink struct {
	hub   *Hub
	runID string
}

func NewHubSink(h *Hub, runID string) *HubSink {
	h.Open(runID)
	return &HubSink{hub: h, runID: runID}
}
