package schema

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// platformPattern defines the valid format for platform tags.
// Platforms must be lowercase, start with a letter, and use underscores as
// separators. Examples: "crowdstrike", "qradar", "azure_sentinel"
var platformPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validator handles validation of alerts against the canonical schema.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    7 * 24 * time.Hour, // 7 days
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("platform_format", func(fl validator.FieldLevel) bool {
		return platformPattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates a normalized alert against the canonical schema.
// Returns an error if validation fails.
func (v *Validator) Validate(alert *SecurityAlert) error {
	if err := v.validate.Struct(alert); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if !alert.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %d", alert.Severity)
	}

	now := time.Now().UTC()

	if alert.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if alert.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", alert.Timestamp, v.maxAge)
	}

	if alert.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", alert.Timestamp, v.maxFuture)
	}

	return nil
}

// ValidatePlatform checks if a platform tag matches the required format.
func ValidatePlatform(platform string) bool {
	return platformPattern.MatchString(platform)
}
