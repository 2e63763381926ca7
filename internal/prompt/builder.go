// Package prompt renders the instruction documents sent to the inference service.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/franckalain/foodwise/internal/models"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	// MaxChatScans bounds the scan summaries embedded in a chat prompt.
	MaxChatScans = 5
	// MaxChatTurns bounds the conversation turns embedded in a chat prompt.
	MaxChatTurns = 10

	noConditions = "no specific conditions"
	notAvailable = "not available"
)

// AnalysisInput is everything an analysis prompt depends on.
type AnalysisInput struct {
	Profile models.HealthProfile
	Product *models.ProductRecord // nil when the lookup was skipped or missed
	Barcode string
	Mode    models.AnalysisMode
}

// Builder renders prompts. It holds only parsed templates and is safe for
// concurrent use.
type Builder struct {
	tmpl *template.Template
}

// NewBuilder parses the embedded templates.
func NewBuilder() (*Builder, error) {
	tmpl, err := template.New("prompt").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

type profileView struct {
	Age        int
	Height     string
	Weight     string
	Conditions string
	Goals      string
}

type nutrientRow struct {
	Label string
	Value string
}

type analysisView struct {
	Profile     profileView
	Barcode     string
	HasProduct  bool
	Name        string
	Brand       string
	Nutrients   []nutrientRow
	Ingredients []string
}

type turnView struct {
	Speaker string
	Content string
}

type chatView struct {
	HasProfile bool
	Profile    profileView
	Scans      []models.ScanSummary
	History    []turnView
	Message    string
}

// BuildAnalysis renders the catalog or vision prompt. Identical input gives
// byte-identical output.
func (b *Builder) BuildAnalysis(in AnalysisInput) (string, error) {
	view := analysisView{
		Profile: newProfileView(in.Profile),
		Barcode: strings.TrimSpace(in.Barcode),
	}

	var name string
	switch in.Mode {
	case models.ModeCatalog:
		name = "catalog.tmpl"
		if in.Product != nil {
			view.HasProduct = true
			view.Name = orDefault(in.Product.Name, "Unknown")
			view.Brand = orDefault(in.Product.Brand, "Unknown")
			view.Nutrients = nutrientRows(in.Product.Nutrients)
			view.Ingredients = ingredientTexts(in.Product.Ingredients)
			if view.Barcode == "" {
				view.Barcode = in.Product.Barcode
			}
		}
		if view.Barcode == "" && !view.HasProduct {
			return "", fmt.Errorf("catalog prompt needs a barcode or product record")
		}
	case models.ModeVision:
		name = "vision.tmpl"
	default:
		return "", fmt.Errorf("unknown analysis mode: %q", in.Mode)
	}

	return b.render(name, view)
}

// BuildChat renders the assistant prompt from the profile, the most recent
// scans (newest first) and the conversation tail. The last user turn in the
// tail is the message being answered.
func (b *Builder) BuildChat(profile *models.HealthProfile, scans []models.ScanSummary, tail []models.ChatTurn) (string, error) {
	view := chatView{}
	if profile != nil {
		view.HasProfile = true
		view.Profile = newProfileView(*profile)
	}

	if len(scans) > MaxChatScans {
		scans = scans[:MaxChatScans]
	}
	view.Scans = scans

	if len(tail) > MaxChatTurns {
		tail = tail[len(tail)-MaxChatTurns:]
	}
	if n := len(tail); n > 0 && tail[n-1].IsUser {
		view.Message = tail[n-1].Content
		tail = tail[:n-1]
	}
	if view.Message == "" {
		return "", fmt.Errorf("chat prompt needs a trailing user message")
	}

	for _, turn := range tail {
		speaker := "Assistant"
		if turn.IsUser {
			speaker = "User"
		}
		view.History = append(view.History, turnView{Speaker: speaker, Content: turn.Content})
	}

	return b.render("chat.tmpl", view)
}

func (b *Builder) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

func newProfileView(p models.HealthProfile) profileView {
	return profileView{
		Age:        p.Age,
		Height:     formatNumber(p.HeightCM),
		Weight:     formatNumber(p.WeightKG),
		Conditions: ConditionsClause(p),
		Goals:      orDefault(strings.TrimSpace(p.HealthGoals), "general health"),
	}
}

// ConditionsClause merges medical and custom conditions, deduplicated
// case-insensitively in order, plus any additional concerns.
func ConditionsClause(p models.HealthProfile) string {
	seen := make(map[string]bool)
	var merged []string
	for _, c := range append(append([]string{}, p.MedicalConditions...), p.CustomConditions...) {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, c)
	}

	clause := strings.Join(merged, ", ")
	if concerns := strings.TrimSpace(p.AdditionalConcerns); concerns != "" {
		if clause == "" {
			clause = "additional concerns: " + concerns
		} else {
			clause += "; additional concerns: " + concerns
		}
	}
	if clause == "" {
		return noConditions
	}
	return clause
}

func nutrientRows(n models.Nutrients) []nutrientRow {
	return []nutrientRow{
		{"Energy (kcal)", formatOptional(n.EnergyKcal)},
		{"Fat (g)", formatOptional(n.Fat)},
		{"Saturated fat (g)", formatOptional(n.SaturatedFat)},
		{"Carbohydrates (g)", formatOptional(n.Carbohydrates)},
		{"Sugars (g)", formatOptional(n.Sugars)},
		{"Fiber (g)", formatOptional(n.Fiber)},
		{"Proteins (g)", formatOptional(n.Proteins)},
		{"Salt (g)", formatOptional(n.Salt)},
		{"Sodium (g)", formatOptional(n.Sodium)},
	}
}

func ingredientTexts(ings []models.Ingredient) []string {
	var out []string
	for _, ing := range ings {
		if t := strings.TrimSpace(ing.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func formatOptional(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return formatNumber(*v)
}

// formatNumber uses the shortest decimal that round-trips, so 40 renders as "40".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
