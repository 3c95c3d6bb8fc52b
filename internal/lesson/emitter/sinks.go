package emitter

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
)

// Sink delivers messages to one consumer. Send is called in emission order
// and never concurrently for one emitter.
type Sink interface {
	Send(ctx context.Context, m Message) error
}

type SinkFunc func(ctx context.Context, m Message) error

func (f SinkFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// Tee sends every message to each sink in turn and stops at the first error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, m Message) error {
		for _, s := range sinks {
			if err := s.Send(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// ChannelSink buffers messages on a channel. Droppable messages are discarded
// when the buffer is full; everything else waits for room.
type ChannelSink struct {
	ch      chan Message
	dropped atomic.Int64
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Message, buffer)}
}

func (s *ChannelSink) Send(ctx context.Context, m Message) error {
	if m.Droppable() {
		select {
		case s.ch <- m:
		default:
			s.dropped.Add(1)
		}
		return nil
	}
	select {
	case s.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) C() <-chan Message { return s.ch }

func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }

// Close must only be called once no more Sends can happen.
func (s *ChannelSink) Close() { close(s.ch) }

// JSONLinesSink writes one JSON object per line.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLinesSink{enc: enc}
}

func (s *JSONLinesSink) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(m)
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Send(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func (r *Recorder) ByType(t MessageType) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}
