// Package processor defines the task-processing strategy boundary: an
// explicit interface over whatever actually performs the work, and a
// registry routing task types to implementations.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/taskrelay/internal/domain"
)

// ErrUnknownTaskType is returned when no processor is registered for a
// task's type. It is a processing failure like any other: the record goes
// through the normal retry/dead-letter path.
var ErrUnknownTaskType = errors.New("no processor registered for task type")

// Processor executes the application-specific work a task describes and
// returns its output.
type Processor interface {
	Process(ctx context.Context, t *domain.Task) (string, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, t *domain.Task) (string, error)

// Process implements the Processor interface.
func (f ProcessorFunc) Process(ctx context.Context, t *domain.Task) (string, error) {
	return f(ctx, t)
}

// Registry routes task types to processors. It is populated once at startup
// and read-only afterwards, so it needs no lock.
type Registry struct {
	processors map[domain.TaskType]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[domain.TaskType]Processor),
	}
}

// Register binds a processor to a task type, replacing any previous binding.
func (r *Registry) Register(taskType domain.TaskType, p Processor) {
	r.processors[taskType] = p
}

// RegisterAll binds one processor to every known task type.
func (r *Registry) RegisterAll(p Processor) {
	for _, t := range []domain.TaskType{
		domain.TaskTypeGeneral,
		domain.TaskTypeCode,
		domain.TaskTypeAnalysis,
		domain.TaskTypeTest,
		domain.TaskTypeFix,
	} {
		r.Register(t, p)
	}
}

// Process dispatches the task to the processor registered for its type.
func (r *Registry) Process(ctx context.Context, t *domain.Task) (string, error) {
	p, ok := r.processors[t.Type]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskType, t.Type)
	}
	return p.Process(ctx, t)
}
