package push

import (
	"context"

	"github.com/yungbote/lessonstream/internal/lesson/emitter"
	"github.com/yungbote/lessonstream/internal/lesson/trace"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

func (s *HubSink) Send(_ context.Context, m emitter.Message) error {
	s.hub.Publish(s.runID, m)
	return nil
}

// BusSink mirrors emitter output to other instances. Publish failures are
// logged; local subscribers are unaffected.
type BusSink struct {
	bus    trace.Bus
	runID  string
	origin string
	log    *logger.Logger
}

func NewBusSink(log *logger.Logger, bus trace.Bus, runID, origin string) *BusSink {
	if log == nil {
		log = logger.Nop()
	}
	return &BusSink{bus: bus, runID: runID, origin: origin, log: log.With("component", "BusSink")}
}

func (s *BusSink) Send(ctx context.Context, m emitter.Message) error {
	if err := s.bus.Publish(ctx, trace.Envelope{RunID: s.runID, Origin: s.origin, Message: m}); err != nil {
		s.log.Warn("run message not mirrored", "run_id", s.runID, "seq", m.Seq, "error", err)
	}
	return nil
}

// Forward delivers envelopes from other instances to the local hub.
func Forward(h *Hub, self string) func(trace.Envelope) {
	return func(env trace.Envelope) {
		if env.Origin == self || env.RunID == "" {
			return
		}
		h.Publish(env.RunID, env.Message)
	}
}
