package planner

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/events"
)

const (
	maxImageBytes      = 2 << 20
	maxNameRunes       = 50
	maxIngredientRunes = 200
	maxStepRunes       = 300
)

var imageTypes = []string{"image/jpeg", "image/png"}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

type CustomDishInput struct {
	Name        string
	Category    string
	Ingredients []string
	Steps       []string
	Calories    string
	Protein     string
	Carbs       string
	Fat         string
	Image       *Image
}

func (in CustomDishInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return &ValidationError{Field: "name", Message: "请填写菜品名称"}
	case in.Image == nil || len(in.Image.Data) == 0:
		return &ValidationError{Field: "image", Message: "请上传菜品图片"}
	case !slices.Contains(imageTypes, in.Image.ContentType):
		return &ValidationError{Field: "image", Message: "仅支持JPG/PNG图片"}
	case len(in.Image.Data) > maxImageBytes:
		return &ValidationError{Field: "image", Message: "图片大小不能超过2MB"}
	case !domain.IsKnownCategory(in.Category):
		return &ValidationError{Field: "category", Message: "请选择有效的菜品种类"}
	}
	return nil
}

// sanitize keeps the first limit runes of s without angle brackets.
func sanitize(s string, limit int) string {
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit])
	}
	return strings.NewReplacer("<", "", ">", "").Replace(s)
}

func joinIngredients(list []string) string {
	parts := make([]string, 0, len(list))
	for _, item := range list {
		if item = strings.TrimSpace(strings.ReplaceAll(item, "，", ",")); item != "" {
			parts = append(parts, item)
		}
	}
	return strings.Join(parts, ",")
}

// nonNegative parses a macro field; blank or unparsable input is unknown.
func nonNegative(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return domain.Float(max(0, v))
}

func caloriesOf(s string) *int {
	v := nonNegative(s)
	if v == nil {
		return nil
	}
	return domain.Int(int(math.Round(*v)))
}

// SubmitCustomDish validates in, uploads the image and stores the dish for
// the current user. Validation runs before any remote call.
func (p *Planner) SubmitCustomDish(ctx context.Context, in CustomDishInput) (domain.CustomDish, error) {
	uid, err := p.userID(ctx)
	if err != nil {
		return domain.CustomDish{}, err
	}
	if uid == "" {
		return domain.CustomDish{}, &ValidationError{Field: "user", Message: "请先登录"}
	}
	if err := in.validate(); err != nil {
		return domain.CustomDish{}, err
	}

	path := fmt.Sprintf("%s/%d-%s", uid, p.now().UnixMilli(), url.PathEscape(in.Image.Filename))
	imageURL, err := p.gw.Upload(ctx, p.bucket, path, in.Image.Data, in.Image.ContentType)
	if err != nil {
		return domain.CustomDish{}, fmt.Errorf("upload dish image: %w", err)
	}

	steps := make([]string, len(in.Steps))
	for i, s := range in.Steps {
		steps[i] = sanitize(s, maxStepRunes)
	}
	dish := domain.CustomDish{
		Dish: domain.Dish{
			Name:         sanitize(in.Name, maxNameRunes),
			Category:     in.Category,
			ImageURL:     imageURL,
			Ingredients:  sanitize(joinIngredients(in.Ingredients), maxIngredientRunes),
			CookingSteps: strings.Join(steps, "\n"),
			Nutrition: domain.Nutrition{
				Calories: caloriesOf(in.Calories),
				Protein:  nonNegative(in.Protein),
				Carbs:    nonNegative(in.Carbs),
				Fat:      nonNegative(in.Fat),
			},
			IsMeat: domain.IsMeatCategory(in.Category),
		},
		UserID: uid,
	}

	stored, err := p.custom.Create(ctx, dish)
	if err != nil {
		return domain.CustomDish{}, err
	}
	p.publish(ctx, events.Event{Type: events.CustomDishCreated, UserID: uid, RefID: stored.ID})

	if err := p.ReloadDishes(ctx); err != nil {
		p.logger.Warnw("catalog not reloaded", "user_id", uid, "error", err)
	}
	return stored, nil
}

func (p *Planner) DeleteCustomDish(ctx context.Context, id string) error {
	uid, err := p.requireUser(ctx)
	if err != nil {
		return err
	}
	if err := p.custom.Delete(ctx, uid, id); err != nil {
		return err
	}
	return p.ReloadDishes(ctx)
}
