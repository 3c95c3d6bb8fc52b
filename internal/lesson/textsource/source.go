// Package textsource streams model output as ordered deltas that keep the
// visible channel apart from the reasoning channel.
package textsource

import (
	"context"
	"errors"
	"fmt"
)

// Delta is one unit of stream output. At most one of the two fields is
// normally set, but both are accepted.
type Delta struct {
	Content   string
	Reasoning string
}

type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Source produces deltas for one request. Stream returns nil only after the
// provider's end-of-stream sentinel was observed.
type Source interface {
	Stream(ctx context.Context, req Request, onDelta func(Delta) error) error
}

var ErrNoSentinel = errors.New("stream ended without end-of-stream sentinel")

// TransportError reports a stream that ended abnormally.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	return fmt.Sprintf("%s stream: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "upstream http error"
	}
	if e.Body == "" {
		return fmt.Sprintf("upstream http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("upstream http error: status=%d body=%s", e.StatusCode, e.Body)
}

func transport(provider string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Provider: provider, Err: err}
}
