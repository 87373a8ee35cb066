// Package config loads storyflow settings from a YAML file, an optional .env
// file and STORYFLOW_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v2"

	"github.com/dshills/storyflow-go/graph/model"
	"github.com/dshills/storyflow-go/story"
)

// Config is the complete runtime configuration of the bedtime story CLI.
type Config struct {
	Story story.Config `yaml:"story"`

	// Provider selects the LLM backend.
	Provider string `yaml:"provider" validate:"oneof=mock openai anthropic google"`

	// Keys are normally supplied through the environment.
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	GoogleAPIKey    string `yaml:"google_api_key"`

	Resilience Resilience `yaml:"resilience"`
	Store      Store      `yaml:"store"`
	Tracking   Tracking   `yaml:"tracking"`
	Log        Log        `yaml:"log"`

	// MetricsAddr, when set, serves /metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`

	// Tracing turns events into OpenTelemetry spans.
	Tracing bool `yaml:"tracing"`
}

// Resilience tunes the retry and rate limit wrapper around the provider.
type Resilience struct {
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gte=0"`
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gte=0"`

	// RequestsPerSecond of zero disables rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// RetryPolicy returns the provider retry policy. Zero delays keep the
// model package defaults.
func (r Resilience) RetryPolicy() model.RetryPolicy {
	policy := model.DefaultRetryPolicy()
	policy.MaxAttempts = r.MaxAttempts
	if r.BaseDelay > 0 {
		policy.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		policy.MaxDelay = r.MaxDelay
	}
	return policy
}

// retryBudget is how long one stage call may spend in the retry wrapper.
// Each stage deadline must cover it so retries are not cut short.
func (r Resilience) retryBudget() time.Duration {
	return r.RetryPolicy().WorstCase(r.CallTimeout)
}

// Store selects where engine steps are persisted.
type Store struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite mysql"`
	DSN    string `yaml:"dsn" validate:"required_unless=Driver memory"`
}

// Tracking selects the attempt tracking sink.
type Tracking struct {
	Driver string        `yaml:"driver" validate:"oneof=none memory sqlite mysql redis"`
	DSN    string        `yaml:"dsn" validate:"required_if=Driver sqlite,required_if=Driver mysql,required_if=Driver redis"`
	TTL    time.Duration `yaml:"ttl" validate:"gte=0"`
	Prefix string        `yaml:"prefix"`
}

// Log configures the event log written to stderr.
type Log struct {
	Format string `yaml:"format" validate:"oneof=text json"`
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Story:    story.DefaultConfig(),
		Provider: "mock",
		Resilience: Resilience{
			CallTimeout: 30 * time.Second,
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			Burst:       1,
		},
		Store:    Store{Driver: "memory"},
		Tracking: Tracking{Driver: "memory", TTL: 7 * 24 * time.Hour, Prefix: "storyflow"},
		Log:      Log{Format: "text", Level: "info"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), the .env files in envFiles and the process environment.
// Missing .env files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the file-level settings and the story tuning.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Story.Validate(); err != nil {
		return err
	}
	if stage, budget := c.Story.StageTimeout, c.Resilience.retryBudget(); stage > 0 && budget > stage {
		return fmt.Errorf("invalid config: story.stage_timeout %v is shorter than the resilience retry budget %v", stage, budget)
	}
	if key := c.APIKey(); key == "" && c.Provider != "mock" {
		return fmt.Errorf("invalid config: provider %s needs an API key", c.Provider)
	}
	return nil
}

// APIKey returns the key of the selected provider.
func (c Config) APIKey() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "google":
		return c.GoogleAPIKey
	}
	return ""
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	str("ANTHROPIC_API_KEY", &cfg.AnthropicAPIKey)
	str("GOOGLE_API_KEY", &cfg.GoogleAPIKey)

	str("STORYFLOW_PROVIDER", &cfg.Provider)
	str("STORYFLOW_GENERATION_MODEL", &cfg.Story.GenerationModel)
	str("STORYFLOW_SCORING_MODEL", &cfg.Story.ScoringModel)
	str("STORYFLOW_SAFETY_MODEL", &cfg.Story.SafetyModel)
	str("STORYFLOW_STORE_DRIVER", &cfg.Store.Driver)
	str("STORYFLOW_STORE_DSN", &cfg.Store.DSN)
	str("STORYFLOW_TRACKING_DRIVER", &cfg.Tracking.Driver)
	str("STORYFLOW_TRACKING_DSN", &cfg.Tracking.DSN)
	str("STORYFLOW_LOG_FORMAT", &cfg.Log.Format)
	str("STORYFLOW_LOG_LEVEL", &cfg.Log.Level)
	str("STORYFLOW_METRICS_ADDR", &cfg.MetricsAddr)

	if v, ok := lookup("STORYFLOW_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STORYFLOW_MAX_ATTEMPTS: %w", err)
		}
		cfg.Story.MaxAttempts = n
	}
	if v, ok := lookup("STORYFLOW_QUALITY_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STORYFLOW_QUALITY_THRESHOLD: %w", err)
		}
		cfg.Story.QualityThreshold = f
	}
	if v, ok := lookup("STORYFLOW_TEMPERATURES"); ok && v != "" {
		var schedule []float64
		for _, part := range strings.Split(v, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return fmt.Errorf("STORYFLOW_TEMPERATURES: %w", err)
			}
			schedule = append(schedule, f)
		}
		cfg.Story.TemperatureSchedule = schedule
	}
	if v, ok := lookup("STORYFLOW_STAGE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STORYFLOW_STAGE_TIMEOUT: %w", err)
		}
		cfg.Story.StageTimeout = d
	}
	if v, ok := lookup("STORYFLOW_TRACING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STORYFLOW_TRACING: %w", err)
		}
		cfg.Tracing = b
	}
	return nil
}
