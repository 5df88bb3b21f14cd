package domain

// Column methods expose stored fields by column name so that local tables can
// filter and order typed rows. Unknown columns yield nil.

func (n Nutrition) column(name string) (any, bool) {
	switch name {
	case "calories":
		if n.Calories == nil {
			return nil, true
		}
		return *n.Calories, true
	case "protein":
		return derefFloat(n.Protein), true
	case "carbs":
		return derefFloat(n.Carbs), true
	case "fat":
		return derefFloat(n.Fat), true
	}
	return nil, false
}

func derefFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (d Dish) Column(name string) any {
	switch name {
	case "id":
		return d.ID
	case "name":
		return d.Name
	case "category":
		return d.Category
	case "image_url":
		return d.ImageURL
	case "ingredients":
		return d.Ingredients
	case "cooking_steps":
		return d.CookingSteps
	case "is_meat":
		return d.IsMeat
	case "created_at":
		return d.CreatedAt
	}
	v, _ := d.Nutrition.column(name)
	return v
}

func (d CustomDish) Column(name string) any {
	if name == "user_id" {
		return d.UserID
	}
	return d.Dish.Column(name)
}

func (s Selection) Column(name string) any {
	switch name {
	case "id":
		return s.ID
	case "user_id":
		return s.UserID
	case "updated_at":
		return s.UpdatedAt
	}
	return nil
}

func (c CartRow) Column(name string) any {
	switch name {
	case "id":
		return c.ID
	case "user_id":
		return c.UserID
	case "ingredients_json":
		return c.IngredientsJSON
	case "updated_at":
		return c.UpdatedAt
	}
	return nil
}

func (m MealHistoryRecord) Column(name string) any {
	switch name {
	case "id":
		return m.ID
	case "user_id":
		return m.UserID
	case "meal_date":
		return m.MealDate
	case "total_calories":
		return m.TotalCalories
	case "total_protein":
		return m.TotalProtein
	case "total_carbs":
		return m.TotalCarbs
	case "total_fat":
		return m.TotalFat
	case "created_at":
		return m.CreatedAt
	}
	return nil
}
