package reconcile

import (
	"encoding/json"
	"fmt"

	"whattoeat/planner-svc/internal/domain"
)

const cartPrefix = "shopping_cart_"

type Cart = Mirror[[]domain.Ingredient, domain.CartRow]

func NewCart(d Deps) *Cart {
	return &Cart{
		kind:   KindCart,
		table:  domain.TableCart,
		prefix: cartPrefix,
		gw:     d.Gateway,
		kv:     d.KV,
		status: d.Status,
		tasks:  d.Tasks,
		logger: d.Logger,
		now:    d.clock(),
		toRow: func(userID string, items []domain.Ingredient, updatedAt string) domain.CartRow {
			if items == nil {
				items = []domain.Ingredient{}
			}
			raw, _ := json.Marshal(items)
			return domain.CartRow{UserID: userID, IngredientsJSON: string(raw), UpdatedAt: updatedAt}
		},
		fromRow: func(row domain.CartRow) ([]domain.Ingredient, error) {
			if row.IngredientsJSON == "" {
				return []domain.Ingredient{}, nil
			}
			var items []domain.Ingredient
			if err := json.Unmarshal([]byte(row.IngredientsJSON), &items); err != nil {
				return nil, fmt.Errorf("decode ingredients_json: %w", err)
			}
			return items, nil
		},
		empty: func(items []domain.Ingredient) bool { return len(items) == 0 },
		zero:  func() []domain.Ingredient { return []domain.Ingredient{} },
	}
}
