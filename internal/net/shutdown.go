package net

import (
	"context"
	"sync"
)

// Coordinator fans a single shutdown signal out to every connection task and
// tracks when the last one has exited. The accept loop calls Subscribe once
// per task before spawning it; each task calls Release when it ends.
type Coordinator struct {
	notify chan struct{}
	once   sync.Once
	tasks  sync.WaitGroup
}

func NewCoordinator() *Coordinator {
	return &Coordinator{notify: make(chan struct{})}
}

// Subscribe registers one live task and returns its handle.
// Must not be called once Wait has started.
func (c *Coordinator) Subscribe() *Shutdown {
	c.tasks.Add(1)
	return &Shutdown{c: c}
}

// Broadcast signals every handle. Idempotent.
func (c *Coordinator) Broadcast() {
	c.once.Do(func() { close(c.notify) })
}

// Wait blocks until every subscribed handle has been released, or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown is one task's view of the coordinator.
type Shutdown struct {
	c    *Coordinator
	once sync.Once
}

// Done is closed when shutdown has been broadcast.
func (s *Shutdown) Done() <-chan struct{} {
	return s.c.notify
}

// IsShutdown reports whether the signal has been received.
func (s *Shutdown) IsShutdown() bool {
	select {
	case <-s.c.notify:
		return true
	default:
		return false
	}
}

// Release marks the task as finished. Idempotent.
func (s *Shutdown) Release() {
	s.once.Do(s.c.tasks.Done)
}
