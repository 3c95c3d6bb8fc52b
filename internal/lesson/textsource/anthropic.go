package textsource

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// ThinkingBudget enables extended thinking when at least 1024 and below
	// the request's MaxTokens.
	ThinkingBudget int
	Timeout        time.Duration
}

// Anthropic streams from the Messages API. Thinking deltas are routed to the
// reasoning channel and message_stop is the end-of-stream sentinel.
type Anthropic struct {
	client *anthropic.Client
	cfg    AnthropicConfig
}

func NewAnthropic(cfg AnthropicConfig, extra ...option.RequestOption) (*Anthropic, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("anthropic: model required")
	}
	var opts []option.RequestOption
	if k := strings.TrimSpace(cfg.APIKey); k != "" {
		opts = append(opts, option.WithAPIKey(k))
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	opts = append(opts, extra...)
	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client, cfg: cfg}, nil
}

func (s *Anthropic) Stream(ctx context.Context, req Request, onDelta func(Delta) error) error {
	const provider = "anthropic"

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.cfg.Model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if b := int64(s.cfg.ThinkingBudget); b >= 1024 && b < maxTokens {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(b)
	} else if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if s.cfg.Timeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	stream := s.client.Messages.NewStreaming(ctx2, params)
	defer stream.Close()

	stopped := false
	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			var d Delta
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				d.Content = delta.Text
			case anthropic.ThinkingDelta:
				d.Reasoning = delta.Thinking
			}
			if d.Content == "" && d.Reasoning == "" {
				continue
			}
			if err := onDelta(d); err != nil {
				return err
			}
		case anthropic.MessageStopEvent:
			stopped = true
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return transport(provider, err)
	}
	if !stopped {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return transport(provider, ErrNoSentinel)
	}
	return nil
}
