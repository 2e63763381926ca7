package response

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/foodwise/internal/errors"
)

const plainJSON = `{"nutriScore":"E","analysisPoints":["High sugar content"],"citations":["WHO sugar guidance"]}`

func TestParse_Plain(t *testing.T) {
	res, err := Parse(plainJSON)

	require.NoError(t, err)
	assert.Equal(t, "E", res.NutriScore)
	assert.Equal(t, []string{"High sugar content"}, res.AnalysisPoints)
	assert.Equal(t, []string{"WHO sugar guidance"}, res.Citations)
	assert.Empty(t, res.ProductName)
	assert.Nil(t, res.Confidence)
	assert.Nil(t, res.IngredientExplanations)
}

func TestParse_FencedEqualsUnwrapped(t *testing.T) {
	want, err := Parse(plainJSON)
	require.NoError(t, err)

	for _, wrapped := range []string{
		"```json\n" + plainJSON + "\n```",
		"```JSON\n" + plainJSON + "\n```\n",
		"```\n" + plainJSON + "\n```",
		"  ```json\n" + plainJSON + "```  ",
	} {
		got, err := Parse(wrapped)
		require.NoError(t, err, wrapped)
		assert.Equal(t, want, got)
	}
}

func TestParse_SurroundingProse(t *testing.T) {
	res, err := Parse("Sure! Here is the analysis:\n" + plainJSON + "\nLet me know if you need more.")

	require.NoError(t, err)
	assert.Equal(t, "E", res.NutriScore)
}

func TestParse_AllFields(t *testing.T) {
	text := `{
	  "nutriScore": " b ",
	  "analysisPoints": ["**Good** fiber source", "  ", "Low in _saturated_ fat"],
	  "citations": [],
	  "productName": "Whole ~~Grain~~ Oats",
	  "confidence": 0.85,
	  "ingredients": ["` + "`oat flakes`" + ` are whole grains"],
	  "unknownKey": {"nested": true}
	}`

	res, err := Parse(text)

	require.NoError(t, err)
	assert.Equal(t, "B", res.NutriScore)
	assert.Equal(t, []string{"Good fiber source", "Low in saturated fat"}, res.AnalysisPoints)
	assert.Equal(t, []string{}, res.Citations)
	assert.Equal(t, "Whole Grain Oats", res.ProductName)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 0.85, *res.Confidence)
	assert.Equal(t, []string{"oat flakes are whole grains"}, res.IngredientExplanations)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		code errors.ErrorCode
	}{
		{name: "no braces", text: "I cannot analyze this product.", code: errors.ErrParseNoJSON},
		{name: "empty", text: "", code: errors.ErrParseNoJSON},
		{name: "only opening brace", text: "{ oops", code: errors.ErrParseNoJSON},
		{name: "reversed braces", text: "} nothing {", code: errors.ErrParseNoJSON},
		{name: "invalid score", text: `{"nutriScore":"Z", "analysisPoints":["x"], "citations":[]}`, code: errors.ErrParseInvalidScore},
		{name: "two letter score", text: `{"nutriScore":"AB", "analysisPoints":["x"], "citations":[]}`, code: errors.ErrParseInvalidScore},
		{name: "missing score", text: `{"analysisPoints":["x"], "citations":[]}`, code: errors.ErrParseSchema},
		{name: "missing points", text: `{"nutriScore":"A", "citations":[]}`, code: errors.ErrParseSchema},
		{name: "missing citations", text: `{"nutriScore":"A", "analysisPoints":["x"]}`, code: errors.ErrParseSchema},
		{name: "wrong type", text: `{"nutriScore":"A", "analysisPoints":"x", "citations":[]}`, code: errors.ErrParseSchema},
		{name: "malformed", text: `{"nutriScore":"A",}`, code: errors.ErrParseSchema},
		{name: "blank points", text: `{"nutriScore":"A", "analysisPoints":["**", " "], "citations":[]}`, code: errors.ErrParseSchema},
		{name: "confidence above one", text: `{"nutriScore":"A", "analysisPoints":["x"], "citations":[], "confidence": 1.5}`, code: errors.ErrParseSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				res any
				err error
			)
			assert.NotPanics(t, func() { res, err = Parse(tt.text) })

			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
			assert.Nil(t, res)
		})
	}
}

func TestParse_Idempotent(t *testing.T) {
	text := "```json\n{\"nutriScore\":\"c\",\"analysisPoints\":[\"*Moderate* salt\"],\"citations\":[\"EFSA\"],\"confidence\":0.4}\n```"

	first, err := Parse(text)
	require.NoError(t, err)
	second, err := Parse(text)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "**bold** words", want: "bold words"},
		{in: "an _italic_ word", want: "an italic word"},
		{in: "some `code` here", want: "some code here"},
		{in: "__strong__ and ~~gone~~", want: "strong and gone"},
		{in: "*one* and *two*", want: "one and two"},
		{in: "_a_ _b_", want: "a b"},
		{in: "***both***", want: "both"},
		{in: "sugar  **  ", want: "sugar"},
		{in: "high_fructose corn syrup", want: "high_fructose corn syrup"},
		{in: "5 * 3 = 15, isn't it? (yes) - 20% [ref]", want: "5 * 3 = 15, isn't it? (yes) - 20% [ref]"},
		{in: "  spaced   out  ", want: "spaced out"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_RemovesMarkersKeepsWords(t *testing.T) {
	words := []string{"sugar", "Sodium-rich", "E150d", "whole grain"}

	for _, w := range words {
		in := "**" + w + "** _" + w + "_ `" + w + "`"
		out := Sanitize(in)

		for _, marker := range []string{"**", "_" + w + "_", "`"} {
			assert.NotContains(t, out, marker)
		}
		assert.Equal(t, 3, strings.Count(out, w))
	}
}

func TestPlainText(t *testing.T) {
	in := "## Tips for you\n\nTry **less sugar** and more [fiber](https://example.test/fiber).\n\n" +
		"1. Drink water\n2. Eat *oats*\n\n- Walk daily\n- Sleep well\n\n```\nkcal = 42\n```\n"

	out := PlainText(in)

	assert.Equal(t, "Tips for you\n\n"+
		"Try less sugar and more fiber.\n\n"+
		"1. Drink water\n2. Eat oats\n\n"+
		"- Walk daily\n- Sleep well\n\n"+
		"kcal = 42", out)
}

func TestPlainText_PlainInputUnchanged(t *testing.T) {
	assert.Equal(t, "Oat milk is a fine choice for you.", PlainText("Oat milk is a fine choice for you."))
}
