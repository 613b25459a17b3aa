package processor

import (
	"context"
	"fmt"

	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/generation"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
)

// Echo returns a processor that answers with the task's own prompt. It is
// the strategy used when no LLM backend is configured, and in tests.
func Echo() Processor {
	return ProcessorFunc(func(ctx context.Context, t *domain.Task) (string, error) {
		return fmt.Sprintf("echo[%s]: %s", t.Type, t.Prompt), nil
	})
}

// Generation returns a processor that hands the task's prompt to a
// generation backend. The task type is folded into the prompt so one
// backend serves all categories.
func Generation(gen generation.Generator) Processor {
	return ProcessorFunc(func(ctx context.Context, t *domain.Task) (string, error) {
		prompt := fmt.Sprintf("Task category: %s.\n\n%s", t.Type, t.Prompt)
		logger.FromContext(ctx).Debug("dispatching prompt to generation backend",
			"prompt_len", len(prompt))
		out, err := gen.Generate(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("generation failed for task %s: %w", t.ID, err)
		}
		return out, nil
	})
}
