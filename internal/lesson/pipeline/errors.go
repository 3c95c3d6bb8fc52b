package pipeline

import (
	"context"
	"errors"

	"github.com/yungbote/lessonstream/internal/lesson/plan"
	"github.com/yungbote/lessonstream/internal/lesson/repair"
	"github.com/yungbote/lessonstream/internal/lesson/textsource"
)

// Error codes carried by the terminal error message.
const (
	CodeTransport  = "transport"
	CodeParse      = "parse"
	CodeValidation = "validation"
	CodeCancelled  = "cancelled"
	CodeInternal   = "internal"
)

// RunError is returned by Runner.Run for a run that ended with an error message.
type RunError struct {
	Code string
	Err  error
}

func (e *RunError) Error() string {
	if e == nil {
		return "run failed"
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// failure is what the client is told about err.
type failure struct {
	code    string
	message string
	content string
}

func classify(ctx context.Context, err error) failure {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return failure{code: CodeCancelled, message: "Lesson generation was cancelled"}
	}
	var te *textsource.TransportError
	if errors.As(err, &te) {
		return failure{code: CodeTransport, message: "The plan stream ended unexpectedly"}
	}
	var pe *repair.ParseError
	if errors.As(err, &pe) {
		return failure{code: CodeParse, message: "The lesson plan could not be parsed", content: pe.Excerpt}
	}
	var ve *plan.ValidationError
	if errors.As(err, &ve) {
		return failure{code: CodeValidation, message: "The lesson plan is invalid: " + ve.Error()}
	}
	return failure{code: CodeInternal, message: "Lesson generation failed"}
}
