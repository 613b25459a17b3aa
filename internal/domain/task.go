package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// TaskType is the enumerated category of work a task describes.
type TaskType string

// Known task types.
const (
	TaskTypeGeneral  TaskType = "general"
	TaskTypeCode     TaskType = "code"
	TaskTypeAnalysis TaskType = "analysis"
	TaskTypeTest     TaskType = "test"
	TaskTypeFix      TaskType = "fix"
)

var validTaskTypes = map[TaskType]bool{
	TaskTypeGeneral:  true,
	TaskTypeCode:     true,
	TaskTypeAnalysis: true,
	TaskTypeTest:     true,
	TaskTypeFix:      true,
}

// IsValid reports whether t is one of the known task types.
func (t TaskType) IsValid() bool {
	return validTaskTypes[t]
}

// Global validator instance for reuse.
var validate = validator.New()

// Task is the wire-format record describing a unit of work. It is carried
// between producer and worker as a UTF-8 JSON payload on a durable queue.
//
// Priority is carried for the application's benefit; no scheduling logic
// consumes it. Attempt counts deliveries of this record; MaxAttempts bounds
// them before the record is dead-lettered.
type Task struct {
	ID          uuid.UUID  `json:"task_id"     validate:"required"`
	Prompt      string     `json:"prompt"      validate:"required"`
	Type        TaskType   `json:"type"        validate:"required"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	Attempt     int        `json:"attempt"     validate:"gte=0"`
	MaxAttempts int        `json:"max_attempts" validate:"gte=0"`
	CreatedAt   time.Time  `json:"created_at"  validate:"required"`
}

// NewTask builds a task record ready for submission. The prompt is required;
// an empty task type defaults to general. This is the producer boundary:
// records that fail here are never published.
func NewTask(prompt string, taskType TaskType, priority int) (*Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrEmptyPrompt)
	}
	if taskType == "" {
		taskType = TaskTypeGeneral
	}
	if !taskType.IsValid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidTaskType, taskType)
	}

	return &Task{
		ID:        uuid.New(),
		Prompt:    prompt,
		Type:      taskType,
		Priority:  priority,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Validate checks the task record against the schema constraints. It is
// called by the publisher before a record goes on the wire and by the
// consumer after decoding.
func (t *Task) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidTaskType, t.Type)
	}
	return nil
}
