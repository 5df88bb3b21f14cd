package planner

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"whattoeat/planner-svc/internal/domain"
)

// ReportRanges are the day counts a nutrition report can cover. 1 is today.
var ReportRanges = []int{1, 7, 30, 90}

type DailyNutrition struct {
	Date string `json:"date"`
	domain.Totals
}

type MacroShare struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type Report struct {
	Range         int              `json:"range"`
	Daily         []DailyNutrition `json:"daily"`
	Total         domain.Totals    `json:"total"`
	Average       domain.Totals    `json:"average"`
	Macros        []MacroShare     `json:"macros"`
	TodayCalories int              `json:"today_calories"`
}

// Report summarises the meal log over the last days. For today the average
// is the day's rounded total; otherwise totals are divided by days, however
// many of them have meals.
func (p *Planner) Report(ctx context.Context, days int) (Report, error) {
	if !slices.Contains(ReportRanges, days) {
		return Report{}, fmt.Errorf("%w: %d", ErrInvalidRange, days)
	}
	meals, err := p.Meals(ctx)
	if err != nil {
		return Report{}, err
	}

	now := p.now()
	today := now.Format(time.DateOnly)
	cutoff := now.AddDate(0, 0, -days).Format(time.DateOnly)

	byDate := make(map[string]*DailyNutrition)
	var todayCalories int
	for _, m := range meals {
		day := mealDay(m.MealDate)
		if day == today {
			todayCalories += m.TotalCalories
		}
		if (days == 1 && day != today) || (days > 1 && day < cutoff) {
			continue
		}
		d, ok := byDate[day]
		if !ok {
			d = &DailyNutrition{Date: day}
			byDate[day] = d
		}
		d.Calories += m.TotalCalories
		d.Protein += m.TotalProtein
		d.Carbs += m.TotalCarbs
		d.Fat += m.TotalFat
	}

	r := Report{Range: days, Daily: make([]DailyNutrition, 0, len(byDate)), TodayCalories: todayCalories}
	for _, d := range byDate {
		r.Daily = append(r.Daily, *d)
		r.Total.Calories += d.Calories
		r.Total.Protein += d.Protein
		r.Total.Carbs += d.Carbs
		r.Total.Fat += d.Fat
	}
	slices.SortFunc(r.Daily, func(a, b DailyNutrition) int { return strings.Compare(a.Date, b.Date) })

	if len(r.Daily) > 0 {
		r.Average = average(r.Total, days)
	}
	r.Macros = macros(r.Average)
	return r, nil
}

func average(t domain.Totals, days int) domain.Totals {
	n := float64(days)
	return domain.Totals{
		Calories: int(math.Round(float64(t.Calories) / n)),
		Protein:  math.Round(t.Protein / n),
		Carbs:    math.Round(t.Carbs / n),
		Fat:      math.Round(t.Fat / n),
	}
}

func macros(avg domain.Totals) []MacroShare {
	if avg.Protein+avg.Carbs+avg.Fat == 0 {
		return []MacroShare{}
	}
	return []MacroShare{
		{Name: "蛋白质", Value: avg.Protein},
		{Name: "碳水化合物", Value: avg.Carbs},
		{Name: "脂肪", Value: avg.Fat},
	}
}
