package chat

import (
	"strings"
	"unicode"

	"github.com/franckalain/foodwise/internal/models"
)

type rule struct {
	turnType models.TurnType
	prefixes []string // matched against word starts
	words    []string // matched against whole words
}

// First matching rule wins.
var rules = []rule{
	{turnType: models.TurnHealthTip, prefixes: []string{"tip", "advice"}},
	{turnType: models.TurnScanSummary, prefixes: []string{"scan", "nutriscore", "nutri-score"}},
	{turnType: models.TurnNutritionAdvice, prefixes: []string{"nutrition", "vitamin", "mineral"}},
	{turnType: models.TurnGreeting, words: []string{"hello", "hi", "welcome"}},
}

// Classify picks a display type for an assistant reply by keyword.
func Classify(reply string) models.TurnType {
	words := strings.FieldsFunc(strings.ToLower(reply), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})

	for _, rl := range rules {
		for _, w := range words {
			for _, p := range rl.prefixes {
				if strings.HasPrefix(w, p) {
					return rl.turnType
				}
			}
			for _, exact := range rl.words {
				if w == exact {
					return rl.turnType
				}
			}
		}
	}
	return models.TurnText
}
