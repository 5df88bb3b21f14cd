package planner

import (
	"context"
	"fmt"
	"math"
	"slices"

	"whattoeat/planner-svc/internal/catalog"
	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/state"
)

// ReloadDishes rebuilds the catalog for the current user.
func (p *Planner) ReloadDishes(ctx context.Context) error {
	uid, err := p.userID(ctx)
	if err != nil {
		return err
	}
	dishes := p.catalog.Load(ctx, uid)
	return p.dishes.Update(ctx, func(cur *[]domain.Dish) error {
		*cur = dishes
		return nil
	})
}

func (p *Planner) Dishes(ctx context.Context) ([]domain.Dish, error) {
	return state.View(ctx, p.dishes, func(d []domain.Dish) []domain.Dish {
		return slices.Clone(d)
	})
}

func (p *Planner) Categories(ctx context.Context) ([]catalog.CategoryGroup, error) {
	dishes, err := p.Dishes(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.GroupByCategory(dishes), nil
}

func (p *Planner) dishByID(ctx context.Context) (map[string]domain.Dish, error) {
	return state.View(ctx, p.dishes, func(d []domain.Dish) map[string]domain.Dish {
		byID := make(map[string]domain.Dish, len(d))
		for _, dish := range d {
			byID[dish.ID] = dish
		}
		return byID
	})
}

// Selected returns the selected dish ids in the order they were picked.
func (p *Planner) Selected(ctx context.Context) ([]string, error) {
	return state.View(ctx, p.selected, func(ids []string) []string {
		return slices.Clone(ids)
	})
}

// SelectedDishes resolves the selection against the catalog, skipping ids the
// catalog no longer has.
func (p *Planner) SelectedDishes(ctx context.Context) ([]domain.Dish, error) {
	ids, err := p.Selected(ctx)
	if err != nil {
		return nil, err
	}
	byID, err := p.dishByID(ctx)
	if err != nil {
		return nil, err
	}
	dishes := make([]domain.Dish, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			dishes = append(dishes, d)
		}
	}
	return dishes, nil
}

func (p *Planner) SelectionTotals(ctx context.Context) (domain.Totals, error) {
	dishes, err := p.SelectedDishes(ctx)
	if err != nil {
		return domain.Totals{}, err
	}
	return domain.SumDishes(dishes), nil
}

// setSelection replaces the selection and, for a signed-in user, writes the
// mirror inside the same command so that local writes keep their order.
func (p *Planner) setSelection(ctx context.Context, next func([]string) ([]string, error)) ([]string, error) {
	uid, err := p.userID(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	err = p.selected.Update(ctx, func(cur *[]string) error {
		ids, err := next(slices.Clone(*cur))
		if err != nil {
			return err
		}
		if uid != "" {
			if _, err := p.selection.Save(ctx, uid, ids); err != nil {
				return fmt.Errorf("save selection: %w", err)
			}
		}
		*cur = ids
		out = slices.Clone(ids)
		return nil
	})
	return out, err
}

// Toggle adds the dish to the selection, or removes it when already picked.
func (p *Planner) Toggle(ctx context.Context, dishID string) ([]string, error) {
	byID, err := p.dishByID(ctx)
	if err != nil {
		return nil, err
	}
	return p.setSelection(ctx, func(ids []string) ([]string, error) {
		if i := slices.Index(ids, dishID); i >= 0 {
			return slices.Delete(ids, i, i+1), nil
		}
		if _, ok := byID[dishID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDish, dishID)
		}
		return append(ids, dishID), nil
	})
}

func (p *Planner) SetSelection(ctx context.Context, ids []string) ([]string, error) {
	return p.setSelection(ctx, func([]string) ([]string, error) {
		return append([]string{}, ids...), nil
	})
}

func (p *Planner) ClearSelection(ctx context.Context) error {
	_, err := p.SetSelection(ctx, []string{})
	return err
}

// RandomMenu picks n+1 dishes, 40% of them (rounded up) meat, and makes them
// the selection. A short pool yields a shorter menu.
func (p *Planner) RandomMenu(ctx context.Context, n int) ([]domain.Dish, error) {
	dishes, err := p.Dishes(ctx)
	if err != nil {
		return nil, err
	}

	size := n + 1
	meatCount := int(math.Ceil(float64(size) * 0.4))
	vegCount := size - meatCount

	var meat, veg []domain.Dish
	for _, d := range dishes {
		if d.IsMeat {
			meat = append(meat, d)
		} else {
			veg = append(veg, d)
		}
	}

	menu := append(p.draw(meat, meatCount), p.draw(veg, vegCount)...)
	ids := make([]string, len(menu))
	for i, d := range menu {
		ids[i] = d.ID
	}
	if _, err := p.SetSelection(ctx, ids); err != nil {
		return nil, err
	}
	return menu, nil
}

// draw takes up to k dishes from pool without replacement.
func (p *Planner) draw(pool []domain.Dish, k int) []domain.Dish {
	pool = slices.Clone(pool)
	p.rngMu.Lock()
	p.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	p.rngMu.Unlock()
	if k > len(pool) {
		k = len(pool)
	}
	if k < 0 {
		k = 0
	}
	return pool[:k]
}
