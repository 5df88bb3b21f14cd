package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
)

const customDishPrefix = "user_dishes_"

type CustomDishes struct {
	gw     gateway.Gateway
	queue  *Queue[domain.CustomDish]
	status *Status
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewCustomDishes(d Deps) *CustomDishes {
	return &CustomDishes{
		gw:     d.Gateway,
		queue:  NewQueue(d.KV, customDishPrefix, func(c domain.CustomDish) string { return c.ID }),
		status: d.Status,
		logger: d.Logger,
		now:    d.clock(),
	}
}

// List returns the user's locally queued dishes followed by the remote ones.
func (c *CustomDishes) List(ctx context.Context, userID string) []domain.CustomDish {
	local, err := c.queue.Items(ctx, userID)
	if err != nil {
		c.logger.Warnw("discarding unreadable custom dish queue", "user_id", userID, "error", err)
		local = nil
	}

	remote, err := gateway.List[domain.CustomDish](ctx, c.gw, domain.TableUserDishes,
		gateway.Where(gateway.Eq("user_id", userID)).OrderBy("created_at", true))
	switch {
	case err != nil:
		c.logger.Warnw("loading custom dishes failed", "user_id", userID, "error", err)
		c.status.Set(KindCustomDishes, domain.SourceLocal)
		remote = nil
	case len(local) > 0:
		c.status.Set(KindCustomDishes, domain.SourceLocal)
	default:
		c.status.Set(KindCustomDishes, domain.SourceRemote)
	}

	return append(local, remote...)
}

// Create stores the dish, queueing it locally when the table is missing or
// the backend cannot be reached.
func (c *CustomDishes) Create(ctx context.Context, dish domain.CustomDish) (domain.CustomDish, error) {
	var stored []domain.CustomDish
	err := c.gw.Insert(ctx, domain.TableUserDishes, []domain.CustomDish{dish}, &stored)
	if err == nil {
		c.status.Set(KindCustomDishes, domain.SourceRemote)
		if len(stored) > 0 {
			return stored[0], nil
		}
		return dish, nil
	}
	if !fallsBackLocally(err) {
		return domain.CustomDish{}, fmt.Errorf("save custom dish: %w", err)
	}

	c.logger.Warnw("custom dish kept locally", "user_id", dish.UserID, "error", err)
	dish.ID = newLocalID()
	if dish.CreatedAt == "" {
		dish.CreatedAt = c.now().UTC().Format(time.RFC3339)
	}
	if err := c.queue.Prepend(ctx, dish.UserID, dish); err != nil {
		return domain.CustomDish{}, err
	}
	c.status.Set(KindCustomDishes, domain.SourceLocal)
	return dish, nil
}

func (c *CustomDishes) Delete(ctx context.Context, userID, id string) error {
	removed, err := c.queue.Remove(ctx, userID, id)
	if err != nil || removed || IsLocalID(id) {
		return err
	}
	if err := c.gw.Delete(ctx, domain.TableUserDishes, gateway.Eq("id", id), gateway.Eq("user_id", userID)); err != nil {
		return fmt.Errorf("delete custom dish %s: %w", id, err)
	}
	return nil
}

// Flush pushes queued dishes once the table accepts them.
func (c *CustomDishes) Flush(ctx context.Context, userID string) (int, error) {
	queued, err := c.queue.Items(ctx, userID)
	if err != nil || len(queued) == 0 {
		return 0, err
	}

	batch := make([]domain.CustomDish, len(queued))
	for i, d := range queued {
		d.ID = ""
		d.UserID = userID
		batch[i] = d
	}
	if err := c.gw.Insert(ctx, domain.TableUserDishes, batch, nil); err != nil {
		return 0, fmt.Errorf("flush custom dishes: %w", err)
	}
	if err := c.queue.Clear(ctx, userID); err != nil {
		return len(batch), err
	}
	c.status.Set(KindCustomDishes, domain.SourceRemote)
	c.logger.Infow("flushed local custom dishes", "user_id", userID, "count", len(batch))
	return len(batch), nil
}
