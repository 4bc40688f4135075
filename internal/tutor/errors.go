package tutor

import (
	"fmt"

	"TutorChat/internal/backend"
	"TutorChat/internal/registry"
)

// ValidationError reports rejected input (empty key, unknown model, bad image).
type ValidationError = registry.ValidationError

// ConfigurationError means no API key is configured. The user can fix it.
type ConfigurationError struct{}

func (e *ConfigurationError) Error() string {
	return "API key is not configured; set one with /key or `tutorchat key set`"
}

// TransientAPIError is returned when every fallback candidate failed, or
// when the remote failure is not one that fallback can recover from.
type TransientAPIError struct {
	Model string
	Kind  backend.Kind
	Err   error
}

func (e *TransientAPIError) Error() string {
	return fmt.Sprintf("API error: %v", e.Err)
}

func (e *TransientAPIError) Unwrap() error { return e.Err }
