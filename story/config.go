package story

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config tunes one orchestrator. It is passed explicitly at construction;
// nothing in this package reads process-wide settings.
type Config struct {
	// MaxAttempts bounds generation stages per workflow.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`

	// QualityThreshold is the weighted overall score that accepts a candidate.
	QualityThreshold float64 `yaml:"quality_threshold" validate:"gte=1,lte=10"`

	// TemperatureSchedule is indexed by attempt number; attempts past the end
	// reuse the last slot.
	TemperatureSchedule []float64 `yaml:"temperature_schedule" validate:"min=1,dive,gte=0,lte=2"`

	GenerationModel string `yaml:"generation_model"`
	ScoringModel    string `yaml:"scoring_model"`
	SafetyModel     string `yaml:"safety_model"`

	GenerationMaxTokens int `yaml:"generation_max_tokens" validate:"gte=0"`
	ScoringMaxTokens    int `yaml:"scoring_max_tokens" validate:"gte=0"`
	SafetyMaxTokens     int `yaml:"safety_max_tokens" validate:"gte=0"`

	ScoringTemperature float64 `yaml:"scoring_temperature" validate:"gte=0,lte=2"`
	SafetyTemperature  float64 `yaml:"safety_temperature" validate:"gte=0,lte=2"`

	// ReadingSpeedWPM converts story minutes into an expected word count.
	ReadingSpeedWPM int `yaml:"reading_speed_wpm" validate:"min=1"`

	// StageTimeout bounds each workflow stage. Zero disables it.
	StageTimeout time.Duration `yaml:"stage_timeout" validate:"gte=0"`
}

// DefaultConfig returns the standard tuning: three attempts, threshold 7 and
// the moderate/diverse/converge temperature schedule.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         3,
		QualityThreshold:    7,
		TemperatureSchedule: []float64{0.8, 0.95, 0.6},
		GenerationMaxTokens: 2500,
		ScoringMaxTokens:    800,
		SafetyMaxTokens:     500,
		ScoringTemperature:  0.2,
		SafetyTemperature:   0.1,
		ReadingSpeedWPM:     150,
		StageTimeout:        2 * time.Minute,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid story config: %s", describeValidation(err))
	}
	return nil
}

// describeValidation flattens validator errors into "Field: rule" pairs.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), rule))
	}
	return strings.Join(parts, "; ")
}
