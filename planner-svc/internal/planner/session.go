package planner

import (
	"context"
	"fmt"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/state"
)

func (p *Planner) CurrentUser(ctx context.Context) (*domain.User, error) {
	return state.View(ctx, p.session, func(s session) *domain.User {
		if s.user == nil {
			return nil
		}
		u := *s.user
		return &u
	})
}

func (p *Planner) userID(ctx context.Context) (string, error) {
	u, err := p.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", nil
	}
	return u.ID, nil
}

func (p *Planner) requireUser(ctx context.Context) (string, error) {
	uid, err := p.userID(ctx)
	if err != nil {
		return "", err
	}
	if uid == "" {
		return "", ErrNotSignedIn
	}
	return uid, nil
}

func (p *Planner) setUser(ctx context.Context, u *domain.User) error {
	return p.session.Update(ctx, func(s *session) error {
		s.user = u
		return nil
	})
}

func (p *Planner) Login(ctx context.Context, email, password string) (domain.User, error) {
	u, err := p.gw.Auth().SignIn(ctx, email, password)
	if err != nil {
		return domain.User{}, fmt.Errorf("sign in: %w", err)
	}
	if err := p.setUser(ctx, &u); err != nil {
		return domain.User{}, err
	}
	p.logger.Infow("signed in", "user_id", u.ID)
	p.afterSignIn(ctx, u.ID)
	return u, nil
}

// Register creates the account and, best effort, empty selection and cart
// rows so that later upserts only ever update.
func (p *Planner) Register(ctx context.Context, email, password string) (domain.User, error) {
	u, err := p.gw.Auth().SignUp(ctx, email, password)
	if err != nil {
		return domain.User{}, fmt.Errorf("sign up: %w", err)
	}
	if err := p.selection.Initialise(ctx, u.ID); err != nil {
		p.logger.Warnw("initial selection row not created", "user_id", u.ID, "error", err)
	}
	if err := p.cart.Initialise(ctx, u.ID); err != nil {
		p.logger.Warnw("initial cart row not created", "user_id", u.ID, "error", err)
	}
	if err := p.setUser(ctx, &u); err != nil {
		return domain.User{}, err
	}
	p.logger.Infow("registered", "user_id", u.ID)
	p.afterSignIn(ctx, u.ID)
	return u, nil
}

func (p *Planner) Logout(ctx context.Context) error {
	if err := p.gw.Auth().SignOut(ctx); err != nil {
		p.logger.Warnw("sign out failed", "error", err)
	}
	if err := p.setUser(ctx, nil); err != nil {
		return err
	}
	if err := p.reset(ctx); err != nil {
		return err
	}
	p.status.Reset()
	return p.ReloadDishes(ctx)
}

// Restore resumes a stored session, if any, and loads the catalog.
func (p *Planner) Restore(ctx context.Context) error {
	u, err := p.gw.Auth().CurrentUser(ctx)
	if err != nil {
		p.logger.Warnw("stored session unreadable", "error", err)
	}
	if u == nil {
		return p.ReloadDishes(ctx)
	}
	if err := p.setUser(ctx, u); err != nil {
		return err
	}
	p.logger.Infow("session restored", "user_id", u.ID)
	p.afterSignIn(ctx, u.ID)
	return nil
}

func (p *Planner) reset(ctx context.Context) error {
	if err := p.selected.Update(ctx, func(ids *[]string) error {
		*ids = []string{}
		return nil
	}); err != nil {
		return err
	}
	if err := p.items.Update(ctx, func(items *[]domain.Ingredient) error {
		*items = []domain.Ingredient{}
		return nil
	}); err != nil {
		return err
	}
	return p.meals.Update(ctx, func(m *[]domain.MealHistoryRecord) error {
		*m = []domain.MealHistoryRecord{}
		return nil
	})
}

// afterSignIn restores the user's selection and cart, loads the meal log,
// pushes locally queued meals and custom dishes, and reloads the catalog.
// Every step logs its own failure and the sequence carries on.
func (p *Planner) afterSignIn(ctx context.Context, uid string) {
	ids, err := p.selection.Restore(ctx, uid)
	if err != nil {
		p.logger.Warnw("restoring selection failed", "user_id", uid, "error", err)
	}
	_ = p.selected.Update(ctx, func(cur *[]string) error {
		*cur = append([]string{}, ids...)
		return nil
	})

	items, err := p.cart.Restore(ctx, uid)
	if err != nil {
		p.logger.Warnw("restoring cart failed", "user_id", uid, "error", err)
	}
	_ = p.items.Update(ctx, func(cur *[]domain.Ingredient) error {
		*cur = append([]domain.Ingredient{}, items...)
		return nil
	})

	if err := p.LoadMeals(ctx); err != nil {
		p.logger.Warnw("loading meals failed", "user_id", uid, "error", err)
	}
	if stored, err := p.history.Flush(ctx, uid); err != nil {
		p.logger.Warnw("meal history not flushed", "user_id", uid, "error", err)
	} else if len(stored) > 0 {
		if err := p.LoadMeals(ctx); err != nil {
			p.logger.Warnw("reloading meals failed", "user_id", uid, "error", err)
		}
	}
	if _, err := p.custom.Flush(ctx, uid); err != nil {
		p.logger.Warnw("custom dishes not flushed", "user_id", uid, "error", err)
	}

	if err := p.ReloadDishes(ctx); err != nil {
		p.logger.Warnw("loading catalog failed", "user_id", uid, "error", err)
	}
}
