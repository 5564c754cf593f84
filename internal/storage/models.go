package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or, for
// sessions, has expired.
var ErrNotFound = errors.New("not found")

// Job is one unit of background work in the dispatch queue. Generation jobs
// run with max_attempts = 1: a failed dispatch is terminal, never retried.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
