// Package enrich adapts OpenAI-compatible image and speech endpoints to the
// asset generator contracts, grouped into demo and tenant credential pools.
package enrich

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yungbote/lessonstream/internal/lesson/assets"
)

const (
	DefaultImageModel  = "dall-e-3"
	DefaultImageSize   = "1920x1920"
	DefaultSpeechModel = "tts-1"
	DefaultVoice       = "nova"
	DefaultSpeed       = 0.9

	maxSpeechBytes = 32 << 20
)

type BackendConfig struct {
	BaseURL     string
	APIKey      string
	ImageModel  string
	ImageSize   string
	SpeechModel string
	Voice       string
	Speed       float64
}

// Configured reports whether the config names any credentials.
func (c BackendConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != "" || strings.TrimSpace(c.BaseURL) != ""
}

type Backend struct {
	client      *openai.Client
	imageModel  string
	imageSize   string
	speechModel string
	voice       string
	speed       float64
}

var (
	_ assets.ImageGenerator    = (*Backend)(nil)
	_ assets.SpeechSynthesizer = (*Backend)(nil)
)

func NewBackend(cfg BackendConfig, extra ...option.RequestOption) (*Backend, error) {
	if !cfg.Configured() {
		return nil, errors.New("enrich: api_key or base_url required")
	}
	var opts []option.RequestOption
	if k := strings.TrimSpace(cfg.APIKey); k != "" {
		opts = append(opts, option.WithAPIKey(k))
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	opts = append(opts, extra...)
	client := openai.NewClient(opts...)

	b := &Backend{
		client:      &client,
		imageModel:  orDefault(cfg.ImageModel, DefaultImageModel),
		imageSize:   orDefault(cfg.ImageSize, DefaultImageSize),
		speechModel: orDefault(cfg.SpeechModel, DefaultSpeechModel),
		voice:       orDefault(cfg.Voice, DefaultVoice),
		speed:       cfg.Speed,
	}
	if b.speed <= 0 {
		b.speed = DefaultSpeed
	}
	return b, nil
}

func (b *Backend) GenerateImage(ctx context.Context, prompt string) (assets.Asset, error) {
	resp, err := b.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(b.imageModel),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(b.imageSize),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return assets.Asset{}, fmt.Errorf("image generate: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return assets.Asset{}, errors.New("image generate: empty response")
	}
	img := resp.Data[0]
	if u := strings.TrimSpace(img.URL); u != "" {
		return assets.Asset{URL: u}, nil
	}
	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return assets.Asset{}, fmt.Errorf("image generate: decode b64: %w", err)
		}
		return assets.Asset{Data: data, ContentType: "image/png"}, nil
	}
	return assets.Asset{}, errors.New("image generate: no url or data")
}

func (b *Backend) Synthesize(ctx context.Context, text string) (assets.Asset, error) {
	resp, err := b.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(b.speechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(b.voice),
		Speed:          openai.Float(b.speed),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return assets.Asset{}, fmt.Errorf("speech: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return assets.Asset{}, fmt.Errorf("speech: read body: %w", err)
	}
	if len(data) == 0 {
		return assets.Asset{}, errors.New("speech: empty body")
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		ct = "audio/mpeg"
	}
	return assets.Asset{Data: data, ContentType: ct}, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
