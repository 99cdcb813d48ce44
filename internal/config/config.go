package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Defaults for the synthesis and playback layers. These mirror the
// documented behavior of the public endpoints and are deliberately
// conservative.
const (
	DefaultMaxInFlightJobs     = 4
	DefaultMaxChunkRequests    = 5
	DefaultRequestTimeout      = 8 * time.Second
	DefaultMaxRetries          = 1
	DefaultRetryDelay          = 200 * time.Millisecond
	DefaultPlaybackSpeed       = 1.0
	DefaultPlaybackVolume      = 1.0
	DefaultStreamURL           = "ws://localhost:21213/"
	DefaultRequestsPerMinute   = 120
	DefaultShutdownGracePeriod = 5 * time.Second
)

// Endpoint is one synthesis API target. ResponseField names the JSON
// field of a successful response that holds the base64 audio payload.
type Endpoint struct {
	Name          string `mapstructure:"name" yaml:"name"`
	URL           string `mapstructure:"url" yaml:"url"`
	ResponseField string `mapstructure:"response_field" yaml:"response_field"`
}

// Config is the app-level configuration. It is loaded once at startup;
// a broken config file is fatal because the pipeline cannot choose
// voices or endpoints without it.
type Config struct {
	StreamURL string `mapstructure:"stream_url" env:"CHATVOX_STREAM_URL"`
	DataDir   string `mapstructure:"data_dir" env:"CHATVOX_DATA_DIR"`
	LogLevel  string `mapstructure:"log_level" env:"CHATVOX_LOG_LEVEL"`

	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
}

// SynthesisConfig bounds the worker pool and the HTTP client behavior.
type SynthesisConfig struct {
	Endpoints         []Endpoint    `mapstructure:"endpoints"`
	MaxInFlightJobs   int           `mapstructure:"max_in_flight_jobs" env:"CHATVOX_MAX_IN_FLIGHT_JOBS"`
	MaxChunkRequests  int           `mapstructure:"max_chunk_requests" env:"CHATVOX_MAX_CHUNK_REQUESTS"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" env:"CHATVOX_REQUEST_TIMEOUT"`
	MaxRetries        int           `mapstructure:"max_retries" env:"CHATVOX_MAX_RETRIES"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" env:"CHATVOX_RETRY_DELAY"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" env:"CHATVOX_REQUESTS_PER_MINUTE"`
}

// PlaybackConfig holds the default playback parameters applied when a
// job carries no explicit override.
type PlaybackConfig struct {
	Speed  float64 `mapstructure:"speed" env:"CHATVOX_PLAYBACK_SPEED"`
	Volume float64 `mapstructure:"volume" env:"CHATVOX_PLAYBACK_VOLUME"`
}

// DefaultEndpoints returns the built-in endpoint sweep order used when
// the config file names none.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "weilnet", URL: "https://tiktok-tts.weilnet.workers.dev/api/generation", ResponseField: "data"},
		{Name: "gesserit", URL: "https://gesserit.co/api/tiktok-tts", ResponseField: "base64"},
		{Name: "weilnet_backup", URL: "https://tiktok-tts.weilnet.workers.dev/api/generation", ResponseField: "data"},
	}
}

// Load reads the app config from path (YAML), applies env overrides and
// validates the result. An unreadable or invalid file is an error; a
// missing file yields pure defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("stream_url", DefaultStreamURL)
	v.SetDefault("data_dir", "data")
	v.SetDefault("log_level", "info")
	v.SetDefault("synthesis.max_in_flight_jobs", DefaultMaxInFlightJobs)
	v.SetDefault("synthesis.max_chunk_requests", DefaultMaxChunkRequests)
	v.SetDefault("synthesis.request_timeout", DefaultRequestTimeout)
	v.SetDefault("synthesis.max_retries", DefaultMaxRetries)
	v.SetDefault("synthesis.retry_delay", DefaultRetryDelay)
	v.SetDefault("synthesis.requests_per_minute", DefaultRequestsPerMinute)
	v.SetDefault("playback.speed", DefaultPlaybackSpeed)
	v.SetDefault("playback.volume", DefaultPlaybackVolume)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if len(cfg.Synthesis.Endpoints) == 0 {
		cfg.Synthesis.Endpoints = DefaultEndpoints()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the rest of the pipeline depends on.
func (c *Config) Validate() error {
	if c.StreamURL == "" {
		return errors.New("config: stream_url must not be empty")
	}
	if c.DataDir == "" {
		return errors.New("config: data_dir must not be empty")
	}
	if c.Synthesis.MaxInFlightJobs < 1 {
		return fmt.Errorf("config: max_in_flight_jobs must be >= 1, got %d", c.Synthesis.MaxInFlightJobs)
	}
	if c.Synthesis.MaxChunkRequests < 1 {
		return fmt.Errorf("config: max_chunk_requests must be >= 1, got %d", c.Synthesis.MaxChunkRequests)
	}
	if c.Synthesis.RequestTimeout <= 0 {
		return errors.New("config: request_timeout must be positive")
	}
	if c.Synthesis.MaxRetries < 1 {
		return fmt.Errorf("config: max_retries must be >= 1, got %d", c.Synthesis.MaxRetries)
	}
	for i, ep := range c.Synthesis.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("config: endpoint %d has no url", i)
		}
		if ep.ResponseField == "" {
			return fmt.Errorf("config: endpoint %q has no response_field", ep.Name)
		}
	}
	if c.Playback.Speed <= 0 {
		return fmt.Errorf("config: playback speed must be positive, got %v", c.Playback.Speed)
	}
	if c.Playback.Volume < 0 {
		return fmt.Errorf("config: playback volume must be >= 0, got %v", c.Playback.Volume)
	}
	return nil
}
