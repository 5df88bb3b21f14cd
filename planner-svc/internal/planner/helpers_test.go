package planner

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/catalog"
	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/events"
	"whattoeat/planner-svc/internal/kv"
	"whattoeat/planner-svc/internal/reconcile"
	"whattoeat/planner-svc/internal/storage"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.Local)

func dish(id, name, category, ingredients string, calories int, protein float64) domain.Dish {
	return domain.Dish{
		ID:          id,
		Name:        name,
		Category:    category,
		Ingredients: ingredients,
		Nutrition:   domain.Nutrition{Calories: domain.Int(calories), Protein: domain.Float(protein)},
		IsMeat:      domain.IsMeatCategory(category),
	}
}

func testCatalog() []domain.Dish {
	return []domain.Dish{
		dish("m1", "红烧肉", domain.CategoryMeat, "五花肉（500g），葱、姜", 500, 20),
		dish("m2", "宫保鸡丁", domain.CategoryMeat, "鸡胸肉,花生,葱", 400, 30),
		dish("m3", "番茄炒蛋", domain.CategoryHalfMeat, "番茄，鸡蛋，盐", 200, 12),
		dish("v1", "清炒时蔬", domain.CategoryVeg, "青菜;蒜末", 80, 2),
		dish("v2", "凉拌黄瓜", domain.CategoryVeg, "黄瓜、醋、香油", 60, 1),
		dish("v3", "紫菜蛋花汤", domain.CategorySoup, "紫菜,鸡蛋", 90, 5),
		dish("v4", "米饭", domain.CategoryStaple, "大米", 230, 4),
		dish("v5", "馒头", domain.CategoryStaple, "面粉或全麦粉,酵母", 220, 7),
	}
}

type testEnv struct {
	p      *Planner
	store  *storage.LocalStore
	local  *kv.Memory
	tasks  *reconcile.Tasks
	status *reconcile.Status
}

type envOption func(*Deps)

func withEvents(pub events.Publisher) envOption {
	return func(d *Deps) { d.Events = pub }
}

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	store, err := storage.NewLocalStore(ctx, kv.NewMemory(), logger)
	require.NoError(t, err)

	env := &testEnv{store: store, local: kv.NewMemory(), tasks: &reconcile.Tasks{}, status: reconcile.NewStatus()}
	rd := reconcile.Deps{
		Gateway: store,
		KV:      env.local,
		Status:  env.status,
		Tasks:   env.tasks,
		Logger:  logger,
		Now:     func() time.Time { return testNow },
	}
	custom := reconcile.NewCustomDishes(rd)
	deps := Deps{
		Gateway:      store,
		Catalog:      catalog.NewLoader(store, func() ([]domain.Dish, error) { return testCatalog(), nil }, custom, logger),
		Selection:    reconcile.NewSelection(rd),
		Cart:         reconcile.NewCart(rd),
		History:      reconcile.NewHistory(rd),
		CustomDishes: custom,
		Status:       env.status,
		Tasks:        env.tasks,
		Logger:       logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	env.p = New(deps, Config{
		Now:  func() time.Time { return testNow },
		Rand: rand.New(rand.NewPCG(1, 2)),
	})
	t.Cleanup(func() {
		env.tasks.Wait()
		env.p.Close()
	})
	require.NoError(t, env.p.Restore(ctx))
	return env
}

func (e *testEnv) login(t *testing.T) domain.User {
	t.Helper()
	u, err := e.p.Login(context.Background(), "cook@example.com", "secret")
	require.NoError(t, err)
	return u
}

func (e *testEnv) setMeals(t *testing.T, meals ...domain.MealHistoryRecord) {
	t.Helper()
	require.NoError(t, e.p.meals.Update(context.Background(), func(cur *[]domain.MealHistoryRecord) error {
		*cur = meals
		return nil
	}))
}

func ids(dishes []domain.Dish) []string {
	out := make([]string, len(dishes))
	for i, d := range dishes {
		out[i] = d.ID
	}
	return out
}
