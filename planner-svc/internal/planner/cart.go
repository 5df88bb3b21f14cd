package planner

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/state"
)

const (
	defaultQuantity = "适量"
	defaultUnit     = "份"
	exportHeader    = "购物清单\n\n"
)

// seasonings are left out when a dish's ingredients go into the cart.
var seasonings = map[string]bool{
	"盐": true, "白糖": true, "糖": true, "生抽": true, "老抽": true, "料酒": true,
	"淀粉": true, "食用油": true, "油": true, "水": true, "醋": true, "香醋": true,
	"蒸鱼豉油": true, "黑胡椒": true, "白胡椒粉": true, "胡椒粉": true, "蚝油": true,
	"香油": true, "黄油": true, "橄榄油": true, "花椒": true, "八角": true, "桂皮": true,
	"香叶": true, "泡椒": true, "酱": true, "黄豆酱": true,
	"葱": true, "葱段": true, "葱白": true, "葱花": true, "姜": true, "姜片": true,
	"生姜": true, "蒜": true, "蒜末": true, "蒜泥": true, "大蒜": true,
}

var (
	ingredientSeparators = regexp.MustCompile(`[，,、;；]`)
	parenthesised        = regexp.MustCompile(`[（(].*?[)）]`)
	leadingInteger       = regexp.MustCompile(`^\s*([+-]?\d+)`)
)

// NormalizeIngredient drops bracketed notes and keeps the first of "A或B".
func NormalizeIngredient(name string) string {
	n := strings.TrimSpace(parenthesised.ReplaceAllString(name, ""))
	if before, _, found := strings.Cut(n, "或"); found {
		n = strings.TrimSpace(before)
	}
	return n
}

// IngredientsOf lists the main ingredients named in a dish, one cart entry
// each.
func IngredientsOf(d domain.Dish) []domain.Ingredient {
	var out []domain.Ingredient
	for _, raw := range ingredientSeparators.Split(d.Ingredients, -1) {
		name := NormalizeIngredient(strings.TrimSpace(raw))
		if name == "" || seasonings[name] {
			continue
		}
		out = append(out, domain.Ingredient{Name: name, Quantity: defaultQuantity, Unit: defaultUnit})
	}
	return out
}

// quantityValue reads the leading integer of q; anything else counts as one.
func quantityValue(q string) int {
	m := leadingInteger.FindStringSubmatch(q)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 1
	}
	return n
}

// Merge folds added into items. An entry with a name already present adds
// its quantity to the first such entry; others are appended.
func Merge(items, added []domain.Ingredient) []domain.Ingredient {
	out := slices.Clone(items)
	for _, ing := range added {
		i := slices.IndexFunc(out, func(e domain.Ingredient) bool { return e.Name == ing.Name })
		if i < 0 {
			out = append(out, ing)
			continue
		}
		out[i].Quantity = strconv.Itoa(quantityValue(out[i].Quantity) + quantityValue(ing.Quantity))
		if out[i].Unit == "" {
			out[i].Unit = defaultUnit
		}
	}
	return out
}

func (p *Planner) CartItems(ctx context.Context) ([]domain.Ingredient, error) {
	return state.View(ctx, p.items, func(items []domain.Ingredient) []domain.Ingredient {
		return slices.Clone(items)
	})
}

func (p *Planner) updateCart(ctx context.Context, next func([]domain.Ingredient) ([]domain.Ingredient, error)) ([]domain.Ingredient, error) {
	uid, err := p.userID(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Ingredient
	err = p.items.Update(ctx, func(cur *[]domain.Ingredient) error {
		items, err := next(slices.Clone(*cur))
		if err != nil {
			return err
		}
		if uid != "" {
			if _, err := p.cart.Save(ctx, uid, items); err != nil {
				return fmt.Errorf("save cart: %w", err)
			}
		}
		*cur = items
		out = slices.Clone(items)
		return nil
	})
	return out, err
}

func checkIndex(items []domain.Ingredient, index int) error {
	if index < 0 || index >= len(items) {
		return fmt.Errorf("%w: %d of %d", ErrIndexRange, index, len(items))
	}
	return nil
}

func (p *Planner) AddIngredient(ctx context.Context, ing domain.Ingredient) ([]domain.Ingredient, error) {
	return p.updateCart(ctx, func(items []domain.Ingredient) ([]domain.Ingredient, error) {
		return append(items, ing), nil
	})
}

func (p *Planner) RemoveIngredient(ctx context.Context, index int) ([]domain.Ingredient, error) {
	return p.updateCart(ctx, func(items []domain.Ingredient) ([]domain.Ingredient, error) {
		if err := checkIndex(items, index); err != nil {
			return nil, err
		}
		return slices.Delete(items, index, index+1), nil
	})
}

func (p *Planner) UpdateIngredient(ctx context.Context, index int, ing domain.Ingredient) ([]domain.Ingredient, error) {
	return p.updateCart(ctx, func(items []domain.Ingredient) ([]domain.Ingredient, error) {
		if err := checkIndex(items, index); err != nil {
			return nil, err
		}
		items[index] = ing
		return items, nil
	})
}

// AddFromDishes puts the main ingredients of dishes into the cart.
func (p *Planner) AddFromDishes(ctx context.Context, dishes []domain.Dish) ([]domain.Ingredient, error) {
	var added []domain.Ingredient
	for _, d := range dishes {
		added = append(added, IngredientsOf(d)...)
	}
	return p.updateCart(ctx, func(items []domain.Ingredient) ([]domain.Ingredient, error) {
		return Merge(items, added), nil
	})
}

// AddSelectionToCart adds the ingredients of every selected dish.
func (p *Planner) AddSelectionToCart(ctx context.Context) ([]domain.Ingredient, error) {
	dishes, err := p.SelectedDishes(ctx)
	if err != nil {
		return nil, err
	}
	return p.AddFromDishes(ctx, dishes)
}

// ClearCart empties the cart at once; the remote row is deleted in the
// background.
func (p *Planner) ClearCart(ctx context.Context) error {
	uid, err := p.userID(ctx)
	if err != nil {
		return err
	}
	return p.items.Update(ctx, func(cur *[]domain.Ingredient) error {
		*cur = []domain.Ingredient{}
		if uid == "" {
			return nil
		}
		_, err := p.cart.Clear(ctx, uid)
		return err
	})
}

// SaveCart writes the cart remotely and reports the failure, if any.
func (p *Planner) SaveCart(ctx context.Context) error {
	uid, err := p.requireUser(ctx)
	if err != nil {
		return err
	}
	items, err := p.CartItems(ctx)
	if err != nil {
		return err
	}
	return p.cart.Sync(ctx, uid, items)
}

// ExportText renders the cart as a plain-text shopping list.
func ExportText(items []domain.Ingredient) string {
	lines := make([]string, len(items))
	for i, ing := range items {
		lines[i] = ing.Name + " - " + ing.Quantity + ing.Unit
	}
	return exportHeader + strings.Join(lines, "\n")
}
