package analysis_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/foodwise/internal/analysis"
	"github.com/franckalain/foodwise/internal/barcode"
	"github.com/franckalain/foodwise/internal/common"
	"github.com/franckalain/foodwise/internal/database"
	"github.com/franckalain/foodwise/internal/ml"
	"github.com/franckalain/foodwise/internal/models"
	"github.com/franckalain/foodwise/internal/nutritiondb"
	"github.com/franckalain/foodwise/internal/prompt"
)

type recordingModel struct {
	mu     sync.Mutex
	prompt string
	reply  string
}

func (m *recordingModel) Load(context.Context) error { return nil }
func (m *recordingModel) Close() error               { return nil }

func (m *recordingModel) Generate(_ context.Context, req ml.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt = req.Prompt
	return m.reply, nil
}

func ean13PNG(t *testing.T, code string) []byte {
	t.Helper()
	matrix, err := oned.NewEAN13Writer().Encode(code, gozxing.BarcodeFormat_EAN_13, 400, 150, nil)
	require.NoError(t, err)

	b := matrix.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(matrix.At(x, y)))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gray))
	return buf.Bytes()
}

// Barcode in the photo, product in the catalog, fenced model reply, sqlite record.
func TestPipeline_CocaColaEndToEnd(t *testing.T) {
	var requested string
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write([]byte(`{"status":1,"product":{"product_name":"Coca-Cola","brands":"Coca-Cola",
			"nutriments":{"sugars_100g":10.6,"energy-kcal_100g":42},
			"ingredients":[{"text":"Carbonated water"},{"text":"Sugar"}]}}`))
	}))
	defer catalog.Close()

	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "foodwise.db"))
	require.NoError(t, err)
	defer db.Close()

	builder, err := prompt.NewBuilder()
	require.NoError(t, err)

	model := &recordingModel{
		reply: "```json\n{\"nutriScore\":\"E\",\"analysisPoints\":[\"High sugar content\"],\"citations\":[\"WHO sugar guidance\"]}\n```",
	}

	orch := analysis.NewOrchestrator(analysis.Deps{
		Detector: barcode.NewDetector(),
		Products: nutritiondb.NewClient(nutritiondb.Config{BaseURL: catalog.URL, Timeout: 2 * time.Second}),
		Prompts:  builder,
		Model:    model,
		Scans:    db,
	}, analysis.Options{Retry: common.RetryOptions{MaxAttempts: 1}})

	var display analysis.Display
	rec, err := orch.Analyze(context.Background(), analysis.Request{
		UserID:  "user-1",
		Profile: models.HealthProfile{Age: 29, HeightCM: 180, WeightKG: 75},
		Image:   ean13PNG(t, "5000112637922"),
	})
	display.Update(rec, err)
	require.NoError(t, err)

	assert.Equal(t, "/product/5000112637922.json", requested)
	assert.Contains(t, model.prompt, "Coca-Cola")
	assert.Contains(t, model.prompt, "Sugars (g): 10.6")
	assert.True(t, strings.Contains(model.prompt, "no specific conditions"))

	assert.Equal(t, "E", rec.NutriScore)
	assert.Equal(t, "Coca-Cola", rec.ProductName)
	assert.Equal(t, "5000112637922", rec.Barcode)
	assert.Equal(t, models.ModeCatalog, rec.Mode)

	stored, err := db.ListScans(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, rec.ID, stored[0].ID)
	assert.Equal(t, "E", stored[0].NutriScore)
	assert.Equal(t, []string{"High sugar content"}, stored[0].AnalysisPoints)

	shown, shownErr := display.Current()
	assert.NoError(t, shownErr)
	assert.Equal(t, rec, shown)
}

// The catalog's own 40g sugar value reaches the prompt verbatim.
func TestPipeline_CatalogValueInPrompt(t *testing.T) {
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":1,"product":{"product_name":"Candy","nutriments":{"sugars_100g":40}}}`))
	}))
	defer catalog.Close()

	builder, err := prompt.NewBuilder()
	require.NoError(t, err)
	model := &recordingModel{reply: `{"nutriScore":"E","analysisPoints":["Very sweet"],"citations":[]}`}

	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "foodwise.db"))
	require.NoError(t, err)
	defer db.Close()

	orch := analysis.NewOrchestrator(analysis.Deps{
		Detector: barcode.NewDetector(),
		Products: nutritiondb.NewClient(nutritiondb.Config{BaseURL: catalog.URL}),
		Prompts:  builder,
		Model:    model,
		Scans:    db,
	}, analysis.Options{})

	_, err = orch.Analyze(context.Background(), analysis.Request{
		UserID:  "user-1",
		Profile: models.HealthProfile{Age: 29, HeightCM: 180, WeightKG: 75},
		Barcode: "1234567890128",
	})
	require.NoError(t, err)

	assert.Contains(t, model.prompt, "Sugars (g): 40\n")
}
