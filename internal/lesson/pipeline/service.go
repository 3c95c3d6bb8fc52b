package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/lessonstream/internal/lesson/emitter"
	"github.com/yungbote/lessonstream/internal/lesson/push"
	"github.com/yungbote/lessonstream/internal/lesson/trace"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

var ErrShuttingDown = errors.New("service is shutting down")

// Service starts background runs whose messages are published to the hub
// and, when a bus is configured, to the other nodes.
type Service struct {
	log    *logger.Logger
	runner *Runner
	hub    *push.Hub
	bus    trace.Bus
	origin string

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	active map[string]context.CancelFunc
}

func NewService(log *logger.Logger, runner *Runner, hub *push.Hub, bus trace.Bus, origin string) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if origin == "" {
		origin = uuid.NewString()
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		log:    log.With("service", "LessonRuns"),
		runner: runner,
		hub:    hub,
		bus:    bus,
		origin: origin,
		base:   base,
		stop:   stop,
		active: map[string]context.CancelFunc{},
	}
}

func (s *Service) Runner() *Runner { return s.runner }
func (s *Service) Hub() *push.Hub  { return s.hub }
func (s *Service) Origin() string  { return s.origin }

func NewRunID() string { return uuid.NewString() }

// Start validates req and launches it in the background. The returned id
// can be subscribed to immediately.
func (s *Service) Start(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrShuttingDown
	}
	runID := NewRunID()
	sinks := []emitter.Sink{push.NewHubSink(s.hub, runID)}
	if s.bus != nil {
		sinks = append(sinks, push.NewBusSink(s.log, s.bus, runID, s.origin))
	}
	ctx, cancel := context.WithCancel(s.base)
	s.active[runID] = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(runID)
		_, _ = s.runner.Run(ctx, runID, req, emitter.Tee(sinks...))
	}()
	s.log.Info("lesson run started", "run_id", runID, "domain", req.Domain)
	return runID, nil
}

// Stream runs req in the caller's goroutine, delivering to sink. The run keeps
// ctx's values but not its cancellation, so it finishes after the caller goes
// away; Shutdown still cancels it.
func (s *Service) Stream(ctx context.Context, runID string, req Request, sink emitter.Sink) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	tracked := !s.closed
	if tracked {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if tracked {
		defer s.wg.Done()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()
	return s.runner.Run(runCtx, runID, req, sink)
}

// Cancel stops a background run. It reports whether the run was active.
func (s *Service) Cancel(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Service) finish(runID string) {
	s.mu.Lock()
	cancel := s.active[runID]
	delete(s.active, runID)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Shutdown refuses new runs and waits for active ones. When ctx expires the
// remaining runs are cancelled, which still sends their terminal message.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.stop()
		return nil
	case <-ctx.Done():
		s.log.Warn("cancelling active lesson runs", "active", s.Active())
		s.stop()
		<-done
		return ctx.Err()
	}
}
