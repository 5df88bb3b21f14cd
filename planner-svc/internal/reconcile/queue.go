package reconcile

import (
	"context"
	"fmt"

	"whattoeat/planner-svc/internal/kv"
)

// Queue is a per-user list of records kept only locally until they can be
// written through the gateway. Newest items come first.
type Queue[T any] struct {
	kv     kv.Store
	prefix string
	id     func(T) string
}

func NewQueue[T any](store kv.Store, prefix string, id func(T) string) *Queue[T] {
	return &Queue[T]{kv: store, prefix: prefix, id: id}
}

func (q *Queue[T]) Key(userID string) string {
	return q.prefix + userID
}

func (q *Queue[T]) Items(ctx context.Context, userID string) ([]T, error) {
	var items []T
	if _, err := kv.GetJSON(ctx, q.kv, q.Key(userID), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (q *Queue[T]) Prepend(ctx context.Context, userID string, item T) error {
	items, err := q.Items(ctx, userID)
	if err != nil {
		return err
	}
	items = append([]T{item}, items...)
	if err := kv.SetJSON(ctx, q.kv, q.Key(userID), items); err != nil {
		return fmt.Errorf("queue %s: %w", q.Key(userID), err)
	}
	return nil
}

// Remove drops the item with id and reports whether it was queued.
func (q *Queue[T]) Remove(ctx context.Context, userID, id string) (bool, error) {
	items, err := q.Items(ctx, userID)
	if err != nil {
		return false, err
	}
	kept := items[:0]
	removed := false
	for _, item := range items {
		if q.id(item) == id {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	if !removed {
		return false, nil
	}
	return true, kv.SetJSON(ctx, q.kv, q.Key(userID), kept)
}

func (q *Queue[T]) Clear(ctx context.Context, userID string) error {
	return q.kv.Delete(ctx, q.Key(userID))
}
