package worker

import (
	"context"
	"fmt"
)

// Completion is returned by every handler. The host must not consider the event handled
// until Done is closed.
type Completion struct {
	done chan struct{}
	err  error
}

// waitUntil runs fn in the background and returns its Completion.
func waitUntil(ctx context.Context, fn func(context.Context) error) *Completion {
	c := &Completion{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		c.err = fn(ctx)
	}()
	return c
}

func completed(err error) *Completion {
	c := &Completion{done: make(chan struct{}), err: err}
	close(c.done)
	return c
}

// Done is closed once the handler's asynchronous work has finished.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the outcome. It is only meaningful after Done is closed.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the work finishes or ctx ends. An abandoned wait leaves the work
// running; nothing needs cleaning up.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
