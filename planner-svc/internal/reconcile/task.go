package reconcile

import (
	"context"
	"sync"
)

// Task is a background remote write the caller may wait on.
type Task struct {
	done chan struct{}
	err  error
}

func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Tasks runs background writes detached from the caller's cancellation and
// lets shutdown wait for them.
type Tasks struct {
	wg sync.WaitGroup
}

func (g *Tasks) Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	t := &Task{done: make(chan struct{})}
	ctx = context.WithoutCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(t.done)
		t.err = fn(ctx)
	}()
	return t
}

func (g *Tasks) Wait() {
	g.wg.Wait()
}
