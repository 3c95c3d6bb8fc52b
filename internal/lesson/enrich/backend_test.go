package enrich

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(v any) *http.Response {
	b, _ := json.Marshal(v)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(b)),
	}
}

func newTestBackend(t *testing.T, rt roundTripperFunc) *Backend {
	t.Helper()
	b, err := NewBackend(BackendConfig{APIKey: "k", BaseURL: "http://upstream/v1/"},
		option.WithHTTPClient(&http.Client{Transport: rt}), option.WithMaxRetries(0))
	require.NoError(t, err)
	return b
}

func TestGenerateImageReturnsURL(t *testing.T) {
	b := newTestBackend(t, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/images/generations", req.URL.Path)
		var in map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		assert.Equal(t, "a red ball", in["prompt"])
		assert.Equal(t, DefaultImageSize, in["size"])
		assert.Equal(t, "url", in["response_format"])
		return jsonResponse(map[string]any{"created": 1, "data": []map[string]any{{"url": "https://cdn/img.png"}}}), nil
	})
	a, err := b.GenerateImage(context.Background(), "a red ball")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/img.png", a.URL)
}

func TestGenerateImageDecodesBase64(t *testing.T) {
	b := newTestBackend(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(map[string]any{"created": 1, "data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString([]byte("png"))}}}), nil
	})
	a, err := b.GenerateImage(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "png", string(a.Data))
	assert.Empty(t, a.URL)
}

func TestGenerateImageError(t *testing.T) {
	b := newTestBackend(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadRequest,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(bytes.NewReader([]byte(`{"error":{"message":"nope"}}`))),
		}, nil
	})
	_, err := b.GenerateImage(context.Background(), "p")
	require.Error(t, err)
}

func TestSynthesizeReadsAudio(t *testing.T) {
	b := newTestBackend(t, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/audio/speech", req.URL.Path)
		var in map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		assert.Equal(t, DefaultVoice, in["voice"])
		assert.InDelta(t, DefaultSpeed, in["speed"], 0.001)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"audio/mpeg"}},
			Body:       io.NopCloser(bytes.NewReader([]byte("ID3data"))),
		}, nil
	})
	a, err := b.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ID3data", string(a.Data))
	assert.Equal(t, "audio/mpeg", a.ContentType)
}

func TestPoolsSelect(t *testing.T) {
	pools, err := NewPools(BackendConfig{APIKey: "demo"}, BackendConfig{})
	require.NoError(t, err)
	assert.NotNil(t, pools.Select(true).Images)
	assert.NotNil(t, pools.Select(true).Speech)
	assert.Nil(t, pools.Select(false).Images)
	assert.Nil(t, pools.Select(false).Speech)
}

func TestNewBackendRequiresCredentials(t *testing.T) {
	_, err := NewBackend(BackendConfig{})
	require.Error(t, err)
}
