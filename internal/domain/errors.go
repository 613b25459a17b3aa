// Package domain defines the core entities of the task queue: the task
// record that travels over the wire, the result record produced by workers,
// and the status machine both move through.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyPrompt is returned when a task is submitted without a prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrInvalidTaskType is returned when a task type is not one of the
	// known categories.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidTransition is returned when a status change is not allowed
	// by the task status machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMalformedRecord is returned when a queue payload cannot be decoded
	// into a task record.
	ErrMalformedRecord = errors.New("malformed task record")
)
