// Package catalog builds the dish list: the bundled seed file, the system
// dish table and the user's own dishes merged by name.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"whattoeat/planner-svc/internal/domain"
)

const (
	colName = iota
	colCategory
	colImage
	colSteps
	colIngredients
	colCalories
	colProtein
	colCarbs
	colFat
	numColumns
)

// columnHeaders lists the accepted header names per column.
var columnHeaders = [numColumns][]string{
	colName:        {"菜名", "name"},
	colCategory:    {"分类", "category"},
	colImage:       {"图片路径", "image_path", "image_url"},
	colSteps:       {"烹饪方法", "cooking_steps", "cooking_method"},
	colIngredients: {"食材", "ingredients"},
	colCalories:    {"卡路里/100g", "calories"},
	colProtein:     {"蛋白质/100g", "protein"},
	colCarbs:       {"碳水化合物/100g", "carbs"},
	colFat:         {"脂肪/100g", "fat"},
}

var errNoNameColumn = errors.New("seed file has no dish name column")

// SeedID is the stable id of a seed dish that never went through a table.
func SeedID(name string) string {
	return "seed-" + url.PathEscape(name)
}

func LoadSeedFile(path string) ([]domain.Dish, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// ParseSeed reads seed rows by header name. Rows without a name are
// skipped; malformed numbers become 0.
func ParseSeed(r io.Reader) ([]domain.Dish, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read seed header: %w", err)
	}

	index := make([]int, numColumns)
	for i := range index {
		index[i] = -1
	}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for col, names := range columnHeaders {
			if index[col] < 0 && slices.Contains(names, h) {
				index[col] = i
			}
		}
	}
	if index[colName] < 0 {
		return nil, errNoNameColumn
	}

	var dishes []domain.Dish
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dishes, fmt.Errorf("read seed row: %w", err)
		}

		field := func(col int) string {
			if i := index[col]; i >= 0 && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		name := field(colName)
		if name == "" {
			continue
		}
		category := field(colCategory)
		image := field(colImage)
		if image != "" {
			image = "/" + strings.TrimLeft(image, "/")
		}

		dishes = append(dishes, domain.Dish{
			ID:           SeedID(name),
			Name:         name,
			Category:     category,
			ImageURL:     image,
			Ingredients:  field(colIngredients),
			CookingSteps: field(colSteps),
			Nutrition: domain.Nutrition{
				Calories: domain.Int(leadingInt(field(colCalories))),
				Protein:  domain.Float(leadingFloat(field(colProtein))),
				Carbs:    domain.Float(leadingFloat(field(colCarbs))),
				Fat:      domain.Float(leadingFloat(field(colFat))),
			},
			IsMeat: domain.IsMeatCategory(category),
		})
	}
	return dishes, nil
}

var (
	intPrefix   = regexp.MustCompile(`^[+-]?\d+`)
	floatPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// leadingInt parses the integer a value starts with, as in "320kcal".
func leadingInt(s string) int {
	n, err := strconv.Atoi(intPrefix.FindString(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func leadingFloat(s string) float64 {
	f, err := strconv.ParseFloat(floatPrefix.FindString(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
