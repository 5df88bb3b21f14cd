package reconcile

import (
	"whattoeat/planner-svc/internal/domain"
)

const selectionPrefix = "selected_dishes_"

type Selection = Mirror[[]string, domain.Selection]

func NewSelection(d Deps) *Selection {
	return &Selection{
		kind:   KindSelection,
		table:  domain.TableSelections,
		prefix: selectionPrefix,
		gw:     d.Gateway,
		kv:     d.KV,
		status: d.Status,
		tasks:  d.Tasks,
		logger: d.Logger,
		now:    d.clock(),
		toRow: func(userID string, ids []string, updatedAt string) domain.Selection {
			return domain.Selection{UserID: userID, DishIDs: ids, UpdatedAt: updatedAt}
		},
		fromRow: func(s domain.Selection) ([]string, error) { return s.DishIDs, nil },
		empty:   func(ids []string) bool { return len(ids) == 0 },
		zero:    func() []string { return []string{} },
	}
}
