// Package assets runs image and audio synthesis jobs concurrently, isolating
// failures per job, and caches generated bytes for serving.
package assets

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Asset is a generator result: a URL, raw bytes, or both.
type Asset struct {
	URL         string
	Data        []byte
	ContentType string
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (Asset, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (Asset, error)
}

type ImageSpec struct {
	ID     string
	Prompt string
}

type AudioSpec struct {
	ID   string
	Text string
}

// Job is one enrichment request. URL is empty unless Status is succeeded.
type Job struct {
	ID       string
	Kind     Kind
	Input    string
	Status   Status
	URL      string
	Err      error
	Duration time.Duration
}

var ErrEmptyAsset = errors.New("generator returned neither url nor data")

// JobError wraps a failed job's cause.
type JobError struct {
	JobID string
	Kind  Kind
	Err   error
}

func (e *JobError) Error() string {
	if e == nil {
		return "asset job failed"
	}
	return string(e.Kind) + " job " + e.JobID + ": " + e.Err.Error()
}

func (e *JobError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
