package domain

const (
	TableDishes      = "dishes"
	TableUserDishes  = "user_dishes"
	TableMealHistory = "meal_history"
	TableSelections  = "user_selections"
	TableCart        = "shopping_cart"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Nutrition struct {
	Calories *int     `json:"calories"`
	Protein  *float64 `json:"protein"`
	Carbs    *float64 `json:"carbs"`
	Fat      *float64 `json:"fat"`
}

type Dish struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	ImageURL     string `json:"image_url"`
	Ingredients  string `json:"ingredients"`
	CookingSteps string `json:"cooking_steps"`
	Nutrition
	IsMeat    bool   `json:"is_meat"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CustomDish is a Dish submitted by a user.
type CustomDish struct {
	Dish
	UserID string `json:"user_id"`
}

type DishSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Nutrition
}

type Selection struct {
	ID        string   `json:"id,omitempty"`
	UserID    string   `json:"user_id"`
	DishIDs   []string `json:"dish_ids"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
}

// CartRow is the stored form of a cart: the ingredient list as one JSON blob.
type CartRow struct {
	ID              string `json:"id,omitempty"`
	UserID          string `json:"user_id"`
	IngredientsJSON string `json:"ingredients_json"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

type MealHistoryRecord struct {
	ID            string        `json:"id,omitempty"`
	UserID        string        `json:"user_id"`
	DishIDs       []string      `json:"dish_ids"`
	MealDate      string        `json:"meal_date"`
	Dishes        []DishSummary `json:"dishes"`
	TotalCalories int           `json:"total_calories"`
	TotalProtein  float64       `json:"total_protein"`
	TotalCarbs    float64       `json:"total_carbs"`
	TotalFat      float64       `json:"total_fat"`
	CreatedAt     string        `json:"created_at,omitempty"`
}

// SyncSource tells where the data currently shown for a record kind came from.
type SyncSource string

const (
	SourceUnknown SyncSource = ""
	SourceRemote  SyncSource = "remote"
	SourceLocal   SyncSource = "local"
)
