package catalog

import "whattoeat/planner-svc/internal/domain"

type CategoryGroup struct {
	Category string        `json:"category"`
	Dishes   []domain.Dish `json:"dishes"`
}

// GroupByCategory groups dishes in the fixed category order, then any other
// categories in first-seen order. A blank category counts as 其他.
func GroupByCategory(dishes []domain.Dish) []CategoryGroup {
	byCategory := make(map[string][]domain.Dish)
	var extra []string
	for _, d := range dishes {
		category := d.Category
		if category == "" {
			category = domain.CategoryOther
		}
		if _, ok := byCategory[category]; !ok && !domain.IsKnownCategory(category) {
			extra = append(extra, category)
		}
		byCategory[category] = append(byCategory[category], d)
	}

	var groups []CategoryGroup
	for _, category := range append(append([]string{}, domain.CategoryOrder...), extra...) {
		if list, ok := byCategory[category]; ok {
			groups = append(groups, CategoryGroup{Category: category, Dishes: list})
		}
	}
	return groups
}
