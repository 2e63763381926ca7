package models

// Nutrients holds per-100g values; nil means the database did not report it.
type Nutrients struct {
	EnergyKcal    *float64 `json:"energy_kcal,omitempty"`
	Fat           *float64 `json:"fat,omitempty"`
	SaturatedFat  *float64 `json:"saturated_fat,omitempty"`
	Carbohydrates *float64 `json:"carbohydrates,omitempty"`
	Sugars        *float64 `json:"sugars,omitempty"`
	Fiber         *float64 `json:"fiber,omitempty"`
	Proteins      *float64 `json:"proteins,omitempty"`
	Salt          *float64 `json:"salt,omitempty"`
	Sodium        *float64 `json:"sodium,omitempty"`
}

// Ingredient is one entry of a product's ordered ingredient list.
type Ingredient struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
	Rank *int   `json:"rank,omitempty"`
}

// ProductRecord is the structured catalog data for a barcode.
type ProductRecord struct {
	Barcode        string       `json:"barcode"`
	Name           string       `json:"name,omitempty"`
	Brand          string       `json:"brand,omitempty"`
	ImageURL       string       `json:"image_url,omitempty"`
	NutritionGrade string       `json:"nutrition_grade,omitempty"`
	Nutrients      Nutrients    `json:"nutrients"`
	Ingredients    []Ingredient `json:"ingredients,omitempty"`
}
