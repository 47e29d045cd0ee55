package collab

import (
	"context"
	"errors"
)

var DefaultSemaphore = 100

var (
	ErrAcquireTimeout = errors.New("semaphore acquire reached time limit")
	ErrNotAcquired    = errors.New("semaphore release without acquire")
)

// SemaphoreControl bounds concurrent Kafka sends across dispatcher workers.
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(n int) *SemaphoreControl {
	if n <= 0 {
		n = DefaultSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, n)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrAcquireTimeout
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrNotAcquired
	}
}
