package domain

import "fmt"

// TaskStatus represents the current state of a task record.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusSucceeded  TaskStatus = "succeeded"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusDead       TaskStatus = "dead"
)

var terminalStatuses = map[TaskStatus]bool{
	TaskStatusSucceeded: true,
	TaskStatusDead:      true,
}

// A negative acknowledgment settles a processing record in one step: back to
// pending (retry scheduled) or to dead (attempts exhausted), without pausing
// on failed. failed records come from the result stream and move on to
// pending or dead when replayed or exhausted. pending reaches dead directly
// only for poison payloads detected before dispatch.
var validTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending: {
		TaskStatusProcessing: true,
		TaskStatusDead:       true,
	},
	TaskStatusProcessing: {
		TaskStatusSucceeded: true,
		TaskStatusFailed:    true,
		TaskStatusPending:   true,
		TaskStatusDead:      true,
	},
	TaskStatusFailed: {
		TaskStatusPending: true,
		TaskStatusDead:    true,
	},
}

// IsTerminal reports whether a task in status s will never change status again.
func IsTerminal(s TaskStatus) bool {
	return terminalStatuses[s]
}

// ValidateTransition returns an error when moving a task from one status to
// another is not allowed by the status machine.
func ValidateTransition(from, to TaskStatus) error {
	if IsTerminal(from) {
		return fmt.Errorf("%w: cannot leave terminal status %q", ErrInvalidTransition, from)
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}
