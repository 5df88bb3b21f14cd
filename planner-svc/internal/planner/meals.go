package planner

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/events"
	"whattoeat/planner-svc/internal/state"
)

type MonthStats struct {
	Month           string                     `json:"month"`
	Meals           []domain.MealHistoryRecord `json:"meals"`
	MealCount       int                        `json:"meal_count"`
	DishCount       int                        `json:"dish_count"`
	TotalCalories   int                        `json:"total_calories"`
	AverageCalories int                        `json:"average_calories"`
}

// LoadMeals replaces the meal log with queued and remote records.
func (p *Planner) LoadMeals(ctx context.Context) error {
	uid, err := p.requireUser(ctx)
	if err != nil {
		return err
	}
	records := p.history.Load(ctx, uid)
	return p.meals.Update(ctx, func(cur *[]domain.MealHistoryRecord) error {
		*cur = records
		return nil
	})
}

func (p *Planner) Meals(ctx context.Context) ([]domain.MealHistoryRecord, error) {
	return state.View(ctx, p.meals, func(m []domain.MealHistoryRecord) []domain.MealHistoryRecord {
		return slices.Clone(m)
	})
}

// SaveMeal records today's meal from the current selection. The dishes are
// copied into the record, so later catalog edits leave it unchanged.
func (p *Planner) SaveMeal(ctx context.Context) (domain.MealHistoryRecord, error) {
	uid, err := p.requireUser(ctx)
	if err != nil {
		return domain.MealHistoryRecord{}, err
	}
	dishes, err := p.SelectedDishes(ctx)
	if err != nil {
		return domain.MealHistoryRecord{}, err
	}
	if len(dishes) == 0 {
		return domain.MealHistoryRecord{}, ErrEmptySelection
	}

	stored, err := p.history.Add(ctx, domain.NewMealRecord(uid, p.today(), dishes))
	if err != nil {
		return domain.MealHistoryRecord{}, err
	}
	if err := p.meals.Update(ctx, func(cur *[]domain.MealHistoryRecord) error {
		*cur = append([]domain.MealHistoryRecord{stored}, *cur...)
		return nil
	}); err != nil {
		return stored, err
	}

	p.publish(ctx, events.Event{Type: events.MealSaved, UserID: uid, RefID: stored.ID})
	return stored, nil
}

func (p *Planner) DeleteMeal(ctx context.Context, id string) error {
	uid, err := p.requireUser(ctx)
	if err != nil {
		return err
	}
	if err := p.history.Delete(ctx, uid, id); err != nil {
		return err
	}
	if err := p.meals.Update(ctx, func(cur *[]domain.MealHistoryRecord) error {
		*cur = slices.DeleteFunc(slices.Clone(*cur), func(m domain.MealHistoryRecord) bool { return m.ID == id })
		return nil
	}); err != nil {
		return err
	}

	p.publish(ctx, events.Event{Type: events.MealDeleted, UserID: uid, RefID: id})
	return nil
}

// SyncMeals pushes queued meals and reloads the log. It returns how many
// meals were pushed.
func (p *Planner) SyncMeals(ctx context.Context) (int, error) {
	uid, err := p.requireUser(ctx)
	if err != nil {
		return 0, err
	}
	stored, err := p.history.Flush(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("sync meals: %w", err)
	}
	if err := p.LoadMeals(ctx); err != nil {
		return len(stored), err
	}
	return len(stored), nil
}

func (p *Planner) MealsOn(ctx context.Context, date string) ([]domain.MealHistoryRecord, error) {
	all, err := p.Meals(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(m domain.MealHistoryRecord) bool {
		return mealDay(m.MealDate) != date
	}), nil
}

// MealsIn summarises the meals of month, given as YYYY-MM.
func (p *Planner) MealsIn(ctx context.Context, month string) (MonthStats, error) {
	all, err := p.Meals(ctx)
	if err != nil {
		return MonthStats{}, err
	}
	meals := slices.DeleteFunc(all, func(m domain.MealHistoryRecord) bool {
		return !strings.HasPrefix(mealDay(m.MealDate), month+"-")
	})

	stats := MonthStats{Month: month, Meals: meals, MealCount: len(meals)}
	var calories int
	for _, m := range meals {
		stats.DishCount += len(m.Dishes)
		calories += m.TotalCalories
	}
	stats.TotalCalories = calories
	if len(meals) > 0 {
		stats.AverageCalories = int(math.Round(float64(calories) / float64(len(meals))))
	}
	return stats, nil
}

// mealDay trims a stored meal date to YYYY-MM-DD.
func mealDay(d string) string {
	if len(d) > len("2006-01-02") {
		return d[:len("2006-01-02")]
	}
	return d
}
