package party

import (
	"context"
	"sync"
)

type chainStep struct {
	done chan struct{}
	err  error
}

func (s *chainStep) wait(ctx context.Context) error {
	if s == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.err
	}
}

// taskChain serializes asynchronous operations: each enqueued func runs only
// after every previously enqueued one has finished. The matchmaker
// connect/disconnect sequence runs through one chain so rapid settings
// updates can never produce two concurrent matchmaker sessions.
type taskChain struct {
	mu   sync.Mutex
	tail *chainStep
}

func newTaskChain() *taskChain {
	return &taskChain{}
}

func (c *taskChain) Enqueue(ctx context.Context, fn func(context.Context) error) *chainStep {
	step := &chainStep{done: make(chan struct{})}

	c.mu.Lock()
	prev := c.tail
	c.tail = step
	c.mu.Unlock()

	go func() {
		if prev != nil {
			<-prev.done
		}

		if err := ctx.Err(); err != nil {
			step.err = err
		} else {
			step.err = fn(ctx)
		}

		close(step.done)
	}()

	return step
}

// Wait blocks until every operation enqueued so far has finished and returns
// the last one's error.
func (c *taskChain) Wait(ctx context.Context) error {
	c.mu.Lock()
	tail := c.tail
	c.mu.Unlock()

	return tail.wait(ctx)
}
