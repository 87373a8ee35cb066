package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "mock" {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.Story.MaxAttempts != 3 || cfg.Story.QualityThreshold != 7 {
		t.Errorf("story defaults = %+v", cfg.Story)
	}
	if cfg.Store.Driver != "memory" || cfg.Tracking.Driver != "memory" {
		t.Errorf("drivers = %s/%s", cfg.Store.Driver, cfg.Tracking.Driver)
	}
	// One stage call, retries included, fits inside the stage deadline.
	if budget := cfg.Resilience.retryBudget(); budget <= 0 || budget > cfg.Story.StageTimeout {
		t.Errorf("retry budget %v vs stage timeout %v", budget, cfg.Story.StageTimeout)
	}
}

func TestResilienceRetryPolicy(t *testing.T) {
	r := Resilience{CallTimeout: time.Second, MaxAttempts: 2, MaxDelay: 3 * time.Second}
	p := r.RetryPolicy()
	if p.MaxAttempts != 2 || p.BaseDelay != 500*time.Millisecond || p.MaxDelay != 3*time.Second || p.Retryable == nil {
		t.Errorf("policy = %+v", p)
	}
	// Two 1s tries plus one 0.5s backoff with up to 0.5s jitter.
	if got := r.retryBudget(); got != 3*time.Second {
		t.Errorf("retryBudget = %v, want 3s", got)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "storyflow.yaml", `
provider: anthropic
anthropic_api_key: sk-test
story:
  max_attempts: 5
  quality_threshold: 8
  temperature_schedule: [0.7, 0.9]
  generation_model: claude-writer
  stage_timeout: 45s
resilience:
  call_timeout: 8s
  max_attempts: 4
  requests_per_second: 2.5
  burst: 2
store:
  driver: sqlite
  dsn: steps.db
tracking:
  driver: redis
  dsn: localhost:6379
  ttl: 24h
log:
  format: json
  level: debug
metrics_addr: ":9090"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "anthropic" || cfg.APIKey() != "sk-test" {
		t.Errorf("provider = %s key = %q", cfg.Provider, cfg.APIKey())
	}
	if cfg.Story.MaxAttempts != 5 || cfg.Story.QualityThreshold != 8 {
		t.Errorf("story = %+v", cfg.Story)
	}
	if got := cfg.Story.TemperatureSchedule; len(got) != 2 || got[0] != 0.7 || got[1] != 0.9 {
		t.Errorf("schedule = %v", got)
	}
	if cfg.Story.StageTimeout != 45*time.Second {
		t.Errorf("StageTimeout = %v", cfg.Story.StageTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.Story.ReadingSpeedWPM != 150 {
		t.Errorf("ReadingSpeedWPM = %d", cfg.Story.ReadingSpeedWPM)
	}
	if cfg.Resilience.RequestsPerSecond != 2.5 || cfg.Resilience.CallTimeout != 8*time.Second || cfg.Resilience.BaseDelay != 500*time.Millisecond {
		t.Errorf("resilience = %+v", cfg.Resilience)
	}
	if cfg.Tracking.TTL != 24*time.Hour || cfg.Tracking.Prefix != "storyflow" {
		t.Errorf("tracking = %+v", cfg.Tracking)
	}
	if cfg.Log.Format != "json" || cfg.MetricsAddr != ":9090" {
		t.Errorf("log = %+v metrics = %q", cfg.Log, cfg.MetricsAddr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "storyflow.yaml", "provider: openai\nstory:\n  max_attempts: 2\nresilience:\n  call_timeout: 5s\n")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("STORYFLOW_MAX_ATTEMPTS", "4")
	t.Setenv("STORYFLOW_TEMPERATURES", "0.5, 0.6,0.7")
	t.Setenv("STORYFLOW_STAGE_TIMEOUT", "30s")
	t.Setenv("STORYFLOW_TRACING", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey() != "sk-env" {
		t.Errorf("APIKey = %q", cfg.APIKey())
	}
	if cfg.Story.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d", cfg.Story.MaxAttempts)
	}
	if got := cfg.Story.TemperatureSchedule; len(got) != 3 || got[2] != 0.7 {
		t.Errorf("schedule = %v", got)
	}
	if cfg.Story.StageTimeout != 30*time.Second || !cfg.Tracing {
		t.Errorf("timeout = %v tracing = %v", cfg.Story.StageTimeout, cfg.Tracing)
	}
}

func TestLoadDotEnv(t *testing.T) {
	env := writeFile(t, ".env", "GOOGLE_API_KEY=g-dotenv\nSTORYFLOW_PROVIDER=google\n")
	// godotenv sets process variables; t.Setenv restores them afterwards.
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("STORYFLOW_PROVIDER", "")
	os.Unsetenv("GOOGLE_API_KEY")
	os.Unsetenv("STORYFLOW_PROVIDER")

	cfg, err := Load("", env, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "google" || cfg.APIKey() != "g-dotenv" {
		t.Errorf("provider = %s key = %q", cfg.Provider, cfg.APIKey())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown key", yaml: "provder: mock\n", wantErr: "parse YAML"},
		{name: "unknown provider", yaml: "provider: llama\n", wantErr: "Provider"},
		{name: "missing api key", yaml: "provider: openai\n", env: map[string]string{"OPENAI_API_KEY": ""}, wantErr: "needs an API key"},
		{name: "sqlite store without dsn", yaml: "store:\n  driver: sqlite\n", wantErr: "DSN"},
		{name: "redis tracking without dsn", yaml: "tracking:\n  driver: redis\n", wantErr: "DSN"},
		{name: "bad story tuning", yaml: "story:\n  quality_threshold: 11\n", wantErr: "QualityThreshold"},
		{name: "bad env int", env: map[string]string{"STORYFLOW_MAX_ATTEMPTS": "many"}, wantErr: "STORYFLOW_MAX_ATTEMPTS"},
		{name: "bad env duration", env: map[string]string{"STORYFLOW_STAGE_TIMEOUT": "soon"}, wantErr: "STORYFLOW_STAGE_TIMEOUT"},
		{name: "stage timeout below retry budget", yaml: "story:\n  stage_timeout: 1m\nresilience:\n  call_timeout: 30s\n", wantErr: "shorter than the resilience retry budget"},
		{name: "env stage timeout below retry budget", env: map[string]string{"STORYFLOW_STAGE_TIMEOUT": "30s"}, wantErr: "retry budget"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, "storyflow.yaml", tt.yaml)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
