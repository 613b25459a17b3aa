package domain

import (
	"time"

	"github.com/google/uuid"
)

// Result is the record a worker publishes after a task reaches a final
// disposition for one delivery. It travels on the result queue and is
// archived when a database is configured.
type Result struct {
	TaskID     uuid.UUID  `json:"task_id"`
	Status     TaskStatus `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	WorkerID   string     `json:"worker_id"`
	Attempt    int        `json:"attempt"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Duration returns how long the delivery was being processed.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
