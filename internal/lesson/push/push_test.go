package push

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonstream/internal/lesson/emitter"
	"github.com/yungbote/lessonstream/internal/lesson/trace"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

func msg(seq int64, t emitter.MessageType) emitter.Message {
	return emitter.Message{Type: t, Seq: seq, Message: "m"}
}

func recv(t *testing.T, c *Client) emitter.Message {
	t.Helper()
	select {
	case m := <-c.Outbound:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for push message")
	}
	return emitter.Message{}
}

func subscribers(h *Hub, runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.runs[runID]; ok {
		return len(r.clients)
	}
	return 0
}

func TestHubReplayThenLive(t *testing.T) {
	h := NewHub(logger.Nop(), Config{})
	h.Publish("r1", msg(1, emitter.TypeComponent))
	h.Publish("r1", msg(2, emitter.TypeProgress))

	c, replay, finished := h.Subscribe("r1", 1)
	require.False(t, finished)
	require.Len(t, replay, 1)
	assert.Equal(t, int64(2), replay[0].Seq)

	h.Publish("r1", msg(3, emitter.TypeComponent))
	assert.Equal(t, int64(3), recv(t, c).Seq)

	h.Publish("other", msg(1, emitter.TypeComponent))
	select {
	case m := <-c.Outbound:
		t.Fatalf("unexpected message from another run: %+v", m)
	default:
	}
}

func TestHubHistoryIsBounded(t *testing.T) {
	h := NewHub(logger.Nop(), Config{History: 3})
	for i := int64(1); i <= 5; i++ {
		h.Publish("r", msg(i, emitter.TypeComponent))
	}
	_, replay, _ := h.Subscribe("r", 0)
	require.Len(t, replay, 3)
	assert.Equal(t, int64(3), replay[0].Seq)
}

func TestHubSlowClient(t *testing.T) {
	h := NewHub(logger.Nop(), Config{ClientBuffer: 1})
	c, _, _ := h.Subscribe("r", 0)
	h.Publish("r", msg(1, emitter.TypeComponent))
	h.Publish("r", msg(2, emitter.TypeProgress))
	select {
	case <-c.Done():
		t.Fatal("droppable overflow must not disconnect")
	default:
	}
	h.Publish("r", msg(3, emitter.TypeComponent))
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("slow client not disconnected")
	}
	assert.Equal(t, 0, subscribers(h, "r"))
}

func TestHubFinishedRun(t *testing.T) {
	h := NewHub(logger.Nop(), Config{Retention: 30 * time.Millisecond})
	h.Publish("r", msg(1, emitter.TypeComponent))
	h.Publish("r", msg(2, emitter.TypeComplete))
	h.Publish("r", msg(3, emitter.TypeProgress))

	_, replay, finished := h.Subscribe("r", 0)
	assert.True(t, finished)
	require.Len(t, replay, 2)
	assert.Equal(t, emitter.TypeComplete, replay[1].Type)

	require.Eventually(t, func() bool { return !h.Has("r") }, time.Second, 10*time.Millisecond)
}

func TestForwardSkipsOwnOrigin(t *testing.T) {
	h := NewHub(logger.Nop(), Config{})
	c, _, _ := h.Subscribe("r", 0)
	fwd := Forward(h, "me")
	fwd(trace.Envelope{RunID: "r", Origin: "me", Message: msg(1, emitter.TypeComponent)})
	fwd(trace.Envelope{RunID: "r", Origin: "peer", Message: msg(2, emitter.TypeComponent)})
	assert.Equal(t, int64(2), recv(t, c).Seq)
}

type fakeBus struct {
	got []trace.Envelope
}

func (b *fakeBus) Publish(_ context.Context, env trace.Envelope) error {
	b.got = append(b.got, env)
	return nil
}
func (b *fakeBus) StartForwarder(context.Context, func(trace.Envelope)) error { return nil }
func (b *fakeBus) Close() error                                             { return nil }

func TestSinks(t *testing.T) {
	h := NewHub(logger.Nop(), Config{})
	bus := &fakeBus{}
	sink := emitter.Tee(NewHubSink(h, "r"), NewBusSink(nil, bus, "r", "me"))
	require.NoError(t, sink.Send(context.Background(), msg(1, emitter.TypeComponent)))

	_, replay, _ := h.Subscribe("r", 0)
	assert.Len(t, replay, 1)
	require.Len(t, bus.got, 1)
	assert.Equal(t, "me", bus.got[0].Origin)
}

func readEvents(t *testing.T, body io.Reader) []emitter.Message {
	t.Helper()
	var out []emitter.Message
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			var m emitter.Message
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
			out = append(out, m)
		}
	}
	return out
}

func TestServeSSE(t *testing.T) {
	h := NewHub(logger.Nop(), Config{Heartbeat: 10 * time.Millisecond})
	h.Open("r")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeSSE(w, r, "r")
	}))
	defer srv.Close()

	h.Publish("r", msg(1, emitter.TypeComponent))
	done := make(chan []emitter.Message, 1)
	go func() {
		resp, err := http.Get(srv.URL)
		if err != nil {
			done <- nil
			return
		}
		defer resp.Body.Close()
		done <- readEvents(t, resp.Body)
	}()

	require.Eventually(t, func() bool { return subscribers(h, "r") == 1 }, time.Second, 5*time.Millisecond)
	h.Publish("r", msg(2, emitter.TypeProgress))
	h.Publish("r", msg(3, emitter.TypeComplete))

	select {
	case events := <-done:
		require.Len(t, events, 3)
		assert.Equal(t, emitter.TypeComplete, events[2].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("SSE stream did not end")
	}
}

func TestServeSSEResumes(t *testing.T) {
	h := NewHub(logger.Nop(), Config{})
	for i := int64(1); i <= 3; i++ {
		h.Publish("r", msg(i, emitter.TypeComponent))
	}
	h.Publish("r", msg(4, emitter.TypeComplete))

	req := httptest.NewRequest(http.MethodGet, "/?lastEventId=2", nil)
	rec := httptest.NewRecorder()
	h.ServeSSE(rec, req, "r")

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	events := readEvents(t, strings.NewReader(body))
	require.Len(t, events, 2)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Contains(t, body, "event: component")
}

func TestServeWS(t *testing.T) {
	h := NewHub(logger.Nop(), Config{})
	h.Open("r")
	up := NewUpgrader(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(up, w, r, "r")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return subscribers(h, "r") == 1 }, time.Second, 5*time.Millisecond)
	h.Publish("r", msg(1, emitter.TypeComponent))
	h.Publish("r", msg(2, emitter.TypeComplete))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second emitter.Message
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, emitter.TypeComplete, second.Type)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestUpgraderOrigins(t *testing.T) {
	up := NewUpgrader(func(o string) bool { return o == "https://ok.example" })
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(r))
	r.Header.Set("Origin", "https://ok.example")
	assert.True(t, up.CheckOrigin(r))
}
