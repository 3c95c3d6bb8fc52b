package textsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

type OpenAICompatConfig struct {
	BaseURL string
	APIKey  string
	// ChatCompletionsPath defaults to /v1/chat/completions, or /chat/completions
	// when BaseURL already ends in /v1.
	ChatCompletionsPath string
	Model               string
	Timeout             time.Duration
}

// OpenAICompat streams from any chat/completions endpoint that speaks the
// OpenAI SSE dialect, including providers that emit reasoning_content.
type OpenAICompat struct {
	baseURL  string
	apiKey   string
	chatPath string
	model    string
	timeout  time.Duration

	httpClient *http.Client
}

func NewOpenAICompat(cfg OpenAICompatConfig) (*OpenAICompat, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("openai_compat: base_url required")
	}
	chatPath := strings.TrimSpace(cfg.ChatCompletionsPath)
	if chatPath == "" {
		chatPath = "/v1/chat/completions"
		if strings.HasSuffix(baseURL, "/v1") {
			chatPath = "/chat/completions"
		}
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &OpenAICompat{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		chatPath:   chatPath,
		model:      strings.TrimSpace(cfg.Model),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// NewOpenAICompatWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewOpenAICompatWithHTTPClient(cfg OpenAICompatConfig, httpClient *http.Client) (*OpenAICompat, error) {
	s, err := NewOpenAICompat(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		s.httpClient = httpClient
	}
	return s, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error any `json:"error,omitempty"`
}

func (s *OpenAICompat) Stream(ctx context.Context, req Request, onDelta func(Delta) error) error {
	const provider = "openai_compat"

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.model
	}
	if model == "" {
		return errors.New("openai_compat: model required")
	}

	body := chatRequest{Model: model, Stream: true, MaxTokens: req.MaxTokens}
	if strings.TrimSpace(req.System) != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx2, http.MethodPost, s.baseURL+s.chatPath, &buf)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return transport(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return transport(provider, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)})
	}

	done := false
	errStop := errors.New("stop")
	var cbErr error
	err = streamSSE(resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || done {
			return nil
		}
		if data == "[DONE]" {
			done = true
			return nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil {
			b, _ := json.Marshal(chunk.Error)
			return fmt.Errorf("upstream stream error: %s", string(b))
		}

		for _, c := range chunk.Choices {
			d := Delta{Content: c.Delta.Content, Reasoning: c.Delta.ReasoningContent}
			if d.Content != "" || d.Reasoning != "" {
				if err := onDelta(d); err != nil {
					cbErr = err
					return errStop
				}
			}
			if c.FinishReason != nil && *c.FinishReason != "" {
				done = true
			}
		}
		return nil
	})
	if cbErr != nil {
		return cbErr
	}
	if err != nil {
		return transport(provider, err)
	}
	if !done {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return transport(provider, ErrNoSentinel)
	}
	return nil
}
