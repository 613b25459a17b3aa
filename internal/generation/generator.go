// Package generation defines the boundary between the task-processing core
// and external LLM services.
package generation

import (
	"context"
	"errors"
)

// Common errors returned by Generator implementations.
var (
	// ErrInvalidConfig is returned when a generator is constructed with
	// missing or invalid settings.
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrEmptyPrompt is returned when generation is requested for an empty
	// prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrContentBlocked is returned when the backend refuses to answer the
	// prompt. It is permanent: retrying the same prompt will not help.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrInvalidResponse is returned when the backend answers with something
	// unusable.
	ErrInvalidResponse = errors.New("invalid response from generator")
)

// Generator defines the interface for producing a completion for a prompt.
// This interface serves as a boundary between the application core and
// external AI/LLM services; the worker's processors depend on it, never on
// a concrete backend.
type Generator interface {
	// Generate produces a completion for the prompt. It returns the
	// completion text or an error if generation fails (see the package
	// errors for the specific kinds).
	Generate(ctx context.Context, prompt string) (string, error)
}
