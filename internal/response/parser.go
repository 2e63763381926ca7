// Package response turns free-text model output into validated results.
package response

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/franckalain/foodwise/internal/errors"
	"github.com/franckalain/foodwise/internal/models"
)

// wireResult mirrors the model's JSON. Pointers tell missing from empty.
type wireResult struct {
	NutriScore     *string   `json:"nutriScore"`
	AnalysisPoints *[]string `json:"analysisPoints"`
	Citations      *[]string `json:"citations"`
	ProductName    *string   `json:"productName"`
	Confidence     *float64  `json:"confidence"`
	Ingredients    []string  `json:"ingredients"`
}

// Parse extracts the JSON object from model text, validates it and sanitizes
// every free-text field. It has no side effects.
func Parse(text string) (*models.AnalysisResult, error) {
	body := stripFences(text)

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < 0 || end < start {
		return nil, errors.NewParseNoJSON()
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(body[start:end+1]), &wire); err != nil {
		return nil, errors.NewParseSchema("model response is not a valid result object", err)
	}

	switch {
	case wire.NutriScore == nil:
		return nil, errors.NewParseSchema("missing required field nutriScore", nil)
	case wire.AnalysisPoints == nil:
		return nil, errors.NewParseSchema("missing required field analysisPoints", nil)
	case wire.Citations == nil:
		return nil, errors.NewParseSchema("missing required field citations", nil)
	}

	score, err := canonicalScore(*wire.NutriScore)
	if err != nil {
		return nil, err
	}

	if c := wire.Confidence; c != nil && (*c < 0 || *c > 1) {
		return nil, errors.NewParseSchema(fmt.Sprintf("confidence %v outside [0, 1]", *c), nil)
	}

	result := &models.AnalysisResult{
		NutriScore:             score,
		AnalysisPoints:         sanitizeList(*wire.AnalysisPoints),
		Citations:              sanitizeList(*wire.Citations),
		IngredientExplanations: sanitizeList(wire.Ingredients),
		Confidence:             wire.Confidence,
	}
	if wire.ProductName != nil {
		result.ProductName = Sanitize(*wire.ProductName)
	}
	if len(result.AnalysisPoints) == 0 {
		return nil, errors.NewParseSchema("analysisPoints has no non-empty entries", nil)
	}
	if result.Citations == nil {
		result.Citations = []string{}
	}

	return result, nil
}

func canonicalScore(raw string) (string, error) {
	score := strings.ToUpper(strings.TrimSpace(raw))
	for _, s := range models.NutriScores {
		if score == s {
			return score, nil
		}
	}
	return "", errors.NewParseInvalidScore(raw)
}

// stripFences removes a leading ``` fence (with optional language tag) and a
// trailing ``` fence.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func sanitizeList(items []string) []string {
	var out []string
	for _, item := range items {
		if clean := Sanitize(item); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}
