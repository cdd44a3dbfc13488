package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// DefaultResultBuffer is the capacity of the result channel built by
// NewResultChannel.
const DefaultResultBuffer = 128

// Result is the terminal outcome of one firing.
type Result[T any] struct {
	// ID identifies the firing.
	ID      uuid.UUID
	Name    string
	Status  Status
	Payload *T
	// Err is the error text of the last attempt when Status is Failed.
	Err        string
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Result[T]) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func NewResultChannel[T any](size int) chan Result[T] {
	if size <= 0 {
		size = DefaultResultBuffer
	}

	return make(chan Result[T], size)
}
