package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ProviderOpenAICompat = "openai_compat"
	ProviderAnthropic    = "anthropic"
	ProviderMock         = "mock"
)

type Config struct {
	Env      string         `mapstructure:"env"`
	LogMode  string         `mapstructure:"log_mode"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Text     TextConfig     `mapstructure:"text"`
	Prompt   PromptConfig   `mapstructure:"prompt"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Assets   AssetsConfig   `mapstructure:"assets"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Push     PushConfig     `mapstructure:"push"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Otel     OtelConfig     `mapstructure:"otel"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
}

type TextConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	ThinkingBudget int           `mapstructure:"thinking_budget"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type PromptConfig struct {
	// CatalogPath overrides the embedded prompt catalog.
	CatalogPath string `mapstructure:"catalog_path"`
}

type PoolConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type EnrichConfig struct {
	Demo           PoolConfig    `mapstructure:"demo"`
	Tenant         PoolConfig    `mapstructure:"tenant"`
	ImageModel     string        `mapstructure:"image_model"`
	ImageSize      string        `mapstructure:"image_size"`
	SpeechModel    string        `mapstructure:"speech_model"`
	Voice          string        `mapstructure:"voice"`
	Speed          float64       `mapstructure:"speed"`
	ImageTimeout   time.Duration `mapstructure:"image_timeout"`
	AudioTimeout   time.Duration `mapstructure:"audio_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

type AssetsConfig struct {
	CacheSize     int           `mapstructure:"cache_size"`
	TTL           time.Duration `mapstructure:"ttl"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Channel  string        `mapstructure:"channel"`
	TraceTTL time.Duration `mapstructure:"trace_ttl"`
}

type LedgerConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	// JWTSecret enables bearer auth on the lesson routes when set.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type PushConfig struct {
	ClientBuffer int           `mapstructure:"client_buffer"`
	Heartbeat    time.Duration `mapstructure:"heartbeat"`
	History      int           `mapstructure:"history"`
	Retention    time.Duration `mapstructure:"retention"`
}

type PipelineConfig struct {
	FailTimeout time.Duration `mapstructure:"fail_timeout"`
	SinkBuffer  int           `mapstructure:"sink_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type OtelConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Headers     string  `mapstructure:"headers"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_mode", "development")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_header_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 120*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("http.cors_origins", []string{"http://localhost:3000", "http://localhost:5173", "http://127.0.0.1:3000", "http://127.0.0.1:5173"})

	v.SetDefault("text.provider", ProviderOpenAICompat)
	v.SetDefault("text.base_url", "https://api.openai.com/v1")
	v.SetDefault("text.api_key", "")
	v.SetDefault("text.model", "gpt-4o-mini")
	v.SetDefault("text.temperature", 0.7)
	v.SetDefault("text.max_tokens", 12000)
	v.SetDefault("text.thinking_budget", 0)
	v.SetDefault("text.timeout", 180*time.Second)

	v.SetDefault("prompt.catalog_path", "")

	v.SetDefault("enrich.demo.base_url", "")
	v.SetDefault("enrich.demo.api_key", "")
	v.SetDefault("enrich.tenant.base_url", "")
	v.SetDefault("enrich.tenant.api_key", "")
	v.SetDefault("enrich.image_model", "dall-e-3")
	v.SetDefault("enrich.image_size", "1920x1920")
	v.SetDefault("enrich.speech_model", "tts-1")
	v.SetDefault("enrich.voice", "nova")
	v.SetDefault("enrich.speed", 0.9)
	v.SetDefault("enrich.image_timeout", 90*time.Second)
	v.SetDefault("enrich.audio_timeout", 45*time.Second)
	v.SetDefault("enrich.max_concurrency", 4)

	v.SetDefault("assets.cache_size", 256)
	v.SetDefault("assets.ttl", time.Hour)
	v.SetDefault("assets.public_base_url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "lesson-runs")
	v.SetDefault("redis.trace_ttl", time.Hour)

	v.SetDefault("ledger.driver", "none")
	v.SetDefault("ledger.dsn", "")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("push.client_buffer", 64)
	v.SetDefault("push.heartbeat", 15*time.Second)
	v.SetDefault("push.history", 512)
	v.SetDefault("push.retention", 10*time.Minute)

	v.SetDefault("pipeline.fail_timeout", 3*time.Second)
	v.SetDefault("pipeline.sink_buffer", 256)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "lessonstream")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.headers", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sample_ratio", 0.1)
}

// LoadConfig reads defaults, then the optional file at path (or
// LESSON_CONFIG_PATH), then LESSON_* environment variables.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LESSON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("LESSON_CONFIG_PATH"))
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyCompatEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyCompatEnv honors the unprefixed variables older deployments set. A
// LESSON_* value always wins.
func applyCompatEnv(v *viper.Viper) {
	compat := []struct{ env, key string }{
		{"LOG_MODE", "log_mode"},
		{"OPENAI_API_KEY", "text.api_key"},
		{"OPENAI_API_KEY", "enrich.tenant.api_key"},
		{"OPENAI_BASE_URL", "text.base_url"},
		{"OPENAI_BASE_URL", "enrich.tenant.base_url"},
		{"REDIS_ADDR", "redis.addr"},
	}
	for _, c := range compat {
		val := strings.TrimSpace(os.Getenv(c.env))
		if val == "" {
			continue
		}
		prefixed := "LESSON_" + strings.ToUpper(strings.ReplaceAll(c.key, ".", "_"))
		if _, set := os.LookupEnv(prefixed); set {
			continue
		}
		if v.InConfig(c.key) {
			continue
		}
		v.Set(c.key, val)
	}
}

func (c *Config) normalize() {
	c.Text.Provider = strings.ToLower(strings.TrimSpace(c.Text.Provider))
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	if c.Enrich.MaxConcurrency < 1 {
		c.Enrich.MaxConcurrency = 1
	}
	if c.Enrich.MaxConcurrency > 8 {
		c.Enrich.MaxConcurrency = 8
	}
	var origins []string
	for _, o := range c.HTTP.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.HTTP.CORSOrigins = origins
}

func (c Config) Validate() error {
	switch c.Text.Provider {
	case ProviderOpenAICompat, ProviderAnthropic, ProviderMock:
	default:
		return fmt.Errorf("config: unknown text provider %q", c.Text.Provider)
	}
	switch c.Ledger.Driver {
	case "postgres", "sqlite", "none":
	default:
		return fmt.Errorf("config: unknown ledger driver %q", c.Ledger.Driver)
	}
	if c.Ledger.Driver == "postgres" && strings.TrimSpace(c.Ledger.DSN) == "" {
		return fmt.Errorf("config: ledger.dsn required for postgres")
	}
	if c.Text.MaxTokens <= 0 {
		return fmt.Errorf("config: text.max_tokens must be positive")
	}
	return nil
}
