package domain

import (
	"math"
	"regexp"
	"strings"
)

const (
	CategoryMeat     = "荤菜"
	CategoryHalfMeat = "半荤"
	CategoryVeg      = "素菜"
	CategorySoup     = "汤品"
	CategoryStaple   = "主食"
	CategoryWestern  = "西餐"
	CategoryPastry   = "糕点"
	CategoryOther    = "其他"
)

// CategoryOrder is the display order of the known categories.
var CategoryOrder = []string{
	CategoryMeat,
	CategoryHalfMeat,
	CategoryVeg,
	CategorySoup,
	CategoryStaple,
	CategoryWestern,
	CategoryPastry,
}

func IsMeatCategory(category string) bool {
	return category == CategoryMeat || category == CategoryHalfMeat
}

func IsKnownCategory(category string) bool {
	for _, c := range CategoryOrder {
		if c == category {
			return true
		}
	}
	return false
}

func Int(v int) *int { return &v }

func Float(v float64) *float64 { return &v }

func (n Nutrition) CaloriesOrZero() int {
	if n.Calories == nil {
		return 0
	}
	return *n.Calories
}

func (n Nutrition) ProteinOrZero() float64 { return orZero(n.Protein) }

func (n Nutrition) CarbsOrZero() float64 { return orZero(n.Carbs) }

func (n Nutrition) FatOrZero() float64 { return orZero(n.Fat) }

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func (d Dish) Summary() DishSummary {
	return DishSummary{
		ID:        d.ID,
		Name:      d.Name,
		Category:  d.Category,
		Nutrition: d.Nutrition,
	}
}

type Totals struct {
	Calories int     `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

func (t *Totals) Add(n Nutrition) {
	t.Calories += n.CaloriesOrZero()
	t.Protein += n.ProteinOrZero()
	t.Carbs += n.CarbsOrZero()
	t.Fat += n.FatOrZero()
}

// Rounded rounds every field to the nearest integer value.
func (t Totals) Rounded() Totals {
	return Totals{
		Calories: t.Calories,
		Protein:  math.Round(t.Protein),
		Carbs:    math.Round(t.Carbs),
		Fat:      math.Round(t.Fat),
	}
}

func SumDishes(dishes []Dish) Totals {
	var t Totals
	for _, d := range dishes {
		t.Add(d.Nutrition)
	}
	return t
}

// NewMealRecord snapshots dishes and fixes the totals at save time.
func NewMealRecord(userID, mealDate string, dishes []Dish) MealHistoryRecord {
	ids := make([]string, 0, len(dishes))
	summaries := make([]DishSummary, 0, len(dishes))
	var totals Totals
	for _, d := range dishes {
		ids = append(ids, d.ID)
		summaries = append(summaries, d.Summary())
		totals.Add(d.Nutrition)
	}
	return MealHistoryRecord{
		UserID:        userID,
		DishIDs:       ids,
		MealDate:      mealDate,
		Dishes:        summaries,
		TotalCalories: totals.Calories,
		TotalProtein:  totals.Protein,
		TotalCarbs:    totals.Carbs,
		TotalFat:      totals.Fat,
	}
}

func (m MealHistoryRecord) Totals() Totals {
	return Totals{
		Calories: m.TotalCalories,
		Protein:  m.TotalProtein,
		Carbs:    m.TotalCarbs,
		Fat:      m.TotalFat,
	}
}

var numberedStep = regexp.MustCompile(`\d+\s*[、.．。]`)

// SplitSteps breaks free-text cooking steps into display lines: before each
// step number when numbered, else on newlines, else on semicolons.
func SplitSteps(raw string) []string {
	var parts []string
	switch {
	case numberedStep.MatchString(raw):
		idx := numberedStep.FindAllStringIndex(raw, -1)
		prev := 0
		for _, loc := range idx {
			parts = append(parts, raw[prev:loc[0]])
			prev = loc[0]
		}
		parts = append(parts, raw[prev:])
	case strings.Contains(raw, "\n"):
		parts = strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	default:
		parts = strings.FieldsFunc(raw, func(r rune) bool { return r == '；' || r == ';' })
	}

	steps := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			steps = append(steps, p)
		}
	}
	return steps
}
