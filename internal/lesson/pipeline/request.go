package pipeline

import (
	"errors"
	"strings"
)

const maxPromptRunes = 4000

var (
	ErrEmptyPrompt = errors.New("prompt is required")
	ErrLongPrompt  = errors.New("prompt is too long")
)

// Media holds the enrichment toggles. The zero value disables everything, so
// callers decoding user input should start from DefaultMedia.
type Media struct {
	EnableImage       bool `json:"enableImage"`
	EnableVoice       bool `json:"enableVoice"`
	EnableSoundEffect bool `json:"enableSoundEffect"`
	// Demo selects the demo credential pool instead of the tenant pool.
	Demo bool `json:"demo"`
}

func DefaultMedia() Media {
	return Media{EnableImage: true, EnableVoice: true, EnableSoundEffect: true, Demo: true}
}

type Request struct {
	Prompt   string `json:"prompt"`
	Domain   string `json:"domain"`
	AgeGroup string `json:"ageGroup"`
	Media    Media  `json:"media"`
}

// MediaPatch is the wire form of Media where absent toggles keep their default.
type MediaPatch struct {
	EnableImage       *bool `json:"enableImage"`
	EnableVoice       *bool `json:"enableVoice"`
	EnableSoundEffect *bool `json:"enableSoundEffect"`
	Demo              *bool `json:"demo"`
}

func (p *MediaPatch) Apply(m Media) Media {
	if p == nil {
		return m
	}
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&m.EnableImage, p.EnableImage)
	set(&m.EnableVoice, p.EnableVoice)
	set(&m.EnableSoundEffect, p.EnableSoundEffect)
	set(&m.Demo, p.Demo)
	return m
}

// Validate trims the request in place.
func (r *Request) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.Domain = strings.TrimSpace(r.Domain)
	r.AgeGroup = strings.TrimSpace(r.AgeGroup)
	if r.Prompt == "" {
		return ErrEmptyPrompt
	}
	if len([]rune(r.Prompt)) > maxPromptRunes {
		return ErrLongPrompt
	}
	return nil
}
