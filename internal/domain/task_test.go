package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	task, err := NewTask("add two numbers", TaskTypeCode, 5)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, "add two numbers", task.Prompt)
	assert.Equal(t, TaskTypeCode, task.Type)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, 0, task.Attempt)
	assert.WithinDuration(t, time.Now().UTC(), task.CreatedAt, time.Minute)
}

func TestNewTaskDefaultsType(t *testing.T) {
	task, err := NewTask("do something", "", 0)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeGeneral, task.Type)
}

func TestNewTaskRejectsEmptyPrompt(t *testing.T) {
	cases := []struct {
		name   string
		prompt string
	}{
		{"empty", ""},
		{"whitespace only", "   \t\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task, err := NewTask(tc.prompt, TaskTypeGeneral, 0)
			assert.Nil(t, task)
			assert.ErrorIs(t, err, ErrValidation)
			assert.ErrorIs(t, err, ErrEmptyPrompt)
		})
	}
}

func TestNewTaskRejectsUnknownType(t *testing.T) {
	task, err := NewTask("do something", "banana", 0)
	assert.Nil(t, task)
	assert.ErrorIs(t, err, ErrInvalidTaskType)
}

func TestTaskTypeIsValid(t *testing.T) {
	for _, valid := range []TaskType{TaskTypeGeneral, TaskTypeCode, TaskTypeAnalysis, TaskTypeTest, TaskTypeFix} {
		assert.True(t, valid.IsValid(), "expected %q to be valid", valid)
	}
	assert.False(t, TaskType("").IsValid())
	assert.False(t, TaskType("banana").IsValid())
}

func TestTaskValidate(t *testing.T) {
	task, err := NewTask("check the logs", TaskTypeAnalysis, 1)
	require.NoError(t, err)
	assert.NoError(t, task.Validate())

	missingPrompt := *task
	missingPrompt.Prompt = ""
	assert.ErrorIs(t, missingPrompt.Validate(), ErrValidation)

	badType := *task
	badType.Type = "banana"
	assert.ErrorIs(t, badType.Validate(), ErrInvalidTaskType)

	noID := *task
	noID.ID = uuid.Nil
	assert.ErrorIs(t, noID.Validate(), ErrValidation)
}

func TestTaskJSONWireFormat(t *testing.T) {
	task, err := NewTask("add two numbers", TaskTypeCode, 3)
	require.NoError(t, err)
	task.MaxAttempts = 2

	payload, err := json.Marshal(task)
	require.NoError(t, err)

	// The wire format uses the documented field names.
	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	for _, key := range []string{"task_id", "prompt", "type", "priority", "created_at", "status", "attempt", "max_attempts"} {
		assert.Contains(t, fields, key)
	}

	var decoded Task
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, task.ID, decoded.ID)
	assert.Equal(t, task.Prompt, decoded.Prompt)
	assert.Equal(t, task.Type, decoded.Type)
	assert.Equal(t, task.MaxAttempts, decoded.MaxAttempts)
	assert.True(t, task.CreatedAt.Equal(decoded.CreatedAt))
}
