package catalog

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
)

const syncColumns = "id,name,category,image_url,ingredients,cooking_steps,calories,protein,carbs,fat,is_meat"

type ImportResult struct {
	Inserted int
	Updated  int
}

// existingByName indexes the dish table by name, first row winning.
func existingByName(ctx context.Context, t gateway.Tables) (map[string]domain.Dish, error) {
	existing, err := gateway.List[domain.Dish](ctx, t, domain.TableDishes, gateway.Query{}.Project(syncColumns))
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.Dish, len(existing))
	for _, d := range existing {
		if _, ok := byName[d.Name]; !ok {
			byName[d.Name] = d
		}
	}
	return byName, nil
}

// missing returns the seed dishes whose name is not in byName, without
// duplicates and without their seed ids.
func missing(seed []domain.Dish, byName map[string]domain.Dish) []domain.Dish {
	seen := make(map[string]bool, len(seed))
	var out []domain.Dish
	for _, d := range seed {
		if _, ok := byName[d.Name]; ok || seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		d.ID = ""
		out = append(out, d)
	}
	return out
}

func differs(stored, seed domain.Dish) bool {
	return stored.Category != seed.Category ||
		stored.ImageURL != seed.ImageURL ||
		stored.Ingredients != seed.Ingredients ||
		stored.CookingSteps != seed.CookingSteps ||
		stored.CaloriesOrZero() != seed.CaloriesOrZero() ||
		stored.ProteinOrZero() != seed.ProteinOrZero() ||
		stored.CarbsOrZero() != seed.CarbsOrZero() ||
		stored.FatOrZero() != seed.FatOrZero() ||
		stored.IsMeat != seed.IsMeat
}

func syncPatch(seed domain.Dish) map[string]any {
	return map[string]any{
		"category":      seed.Category,
		"image_url":     seed.ImageURL,
		"ingredients":   seed.Ingredients,
		"cooking_steps": seed.CookingSteps,
		"calories":      seed.CaloriesOrZero(),
		"protein":       seed.ProteinOrZero(),
		"carbs":         seed.CarbsOrZero(),
		"fat":           seed.FatOrZero(),
		"is_meat":       seed.IsMeat,
	}
}

// Import brings the dish table in line with the seed: dishes missing by name
// are inserted, stored dishes whose fields drifted from their seed row are
// updated in place. Running it twice changes nothing the second time.
func Import(ctx context.Context, t gateway.Tables, seed []domain.Dish) (ImportResult, error) {
	var res ImportResult

	byName, err := existingByName(ctx, t)
	if err != nil {
		return res, fmt.Errorf("read dishes: %w", err)
	}

	if toInsert := missing(seed, byName); len(toInsert) > 0 {
		if err := t.Insert(ctx, domain.TableDishes, toInsert, nil); err != nil {
			return res, fmt.Errorf("insert seed dishes: %w", err)
		}
		res.Inserted = len(toInsert)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	updated := make(map[string]bool)
	for _, d := range seed {
		stored, ok := byName[d.Name]
		if !ok || updated[d.Name] || !differs(stored, d) {
			continue
		}
		updated[d.Name] = true
		patch := syncPatch(d)
		g.Go(func() error {
			return t.Update(gctx, domain.TableDishes, patch, gateway.Eq("id", stored.ID))
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("update seed dishes: %w", err)
	}
	res.Updated = len(updated)
	return res, nil
}

// SeedRemote inserts seed dishes whose name is not yet in the table, in
// batches. It never updates existing rows.
func SeedRemote(ctx context.Context, t gateway.Tables, seed []domain.Dish, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	byName, err := existingByName(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("read dishes: %w", err)
	}

	toInsert := missing(seed, byName)
	inserted := 0
	for start := 0; start < len(toInsert); start += batchSize {
		end := min(start+batchSize, len(toInsert))
		if err := t.Insert(ctx, domain.TableDishes, toInsert[start:end], nil); err != nil {
			return inserted, fmt.Errorf("insert batch at %d: %w", start, err)
		}
		inserted = end
	}
	return inserted, nil
}
