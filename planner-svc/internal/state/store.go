// Package state gives each piece of view-state a single owner goroutine.
// Every mutation is a command run by that goroutine, one at a time.
package state

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("state: store closed")

type command[S any] struct {
	fn   func(*S) error
	done chan error
}

type Store[S any] struct {
	cmds    chan command[S]
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func New[S any](initial S) *Store[S] {
	s := &Store[S]{
		cmds:    make(chan command[S]),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.loop(initial)
	return s
}

func (s *Store[S]) loop(current S) {
	defer close(s.stopped)
	for {
		select {
		case <-s.quit:
			return
		case cmd := <-s.cmds:
			cmd.done <- cmd.fn(&current)
		}
	}
}

// Update runs fn against the state on the owner goroutine and returns its
// error. Changes fn makes are kept even when it returns an error; fn should
// only assign once it has nothing left that can fail.
func (s *Store[S]) Update(ctx context.Context, fn func(*S) error) error {
	cmd := command[S]{fn: fn, done: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-cmd.done
}

// Close stops the owner goroutine after the command in flight, if any.
func (s *Store[S]) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.stopped
}

// View returns fn applied to the current state. fn must copy anything it
// hands out that the owner may later change in place.
func View[S, T any](ctx context.Context, s *Store[S], fn func(S) T) (T, error) {
	var out T
	err := s.Update(ctx, func(cur *S) error {
		out = fn(*cur)
		return nil
	})
	return out, err
}
