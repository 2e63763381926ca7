// Package nutritiondb fetches product data from the Open Food Facts catalog.
package nutritiondb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/franckalain/foodwise/internal/errors"
	"github.com/franckalain/foodwise/internal/models"
)

const (
	DefaultBaseURL   = "https://world.openfoodfacts.org/api/v0"
	DefaultUserAgent = "FoodWise/1.0 (scan-to-insight)"
	serviceName      = "nutrition database"

	productFields = "product_name,brands,nutriments,image_url,ingredients,nutrition_grades"
)

// Config holds the client settings.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client looks products up by barcode.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewClient creates a client, filling defaults for empty fields.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
	}
}

type productResponse struct {
	Status  int             `json:"status"`
	Product *productPayload `json:"product"`
}

type productPayload struct {
	ProductName     string              `json:"product_name"`
	Brands          string              `json:"brands"`
	ImageURL        string              `json:"image_url"`
	NutritionGrades string              `json:"nutrition_grades"`
	Nutriments      nutrimentsPayload   `json:"nutriments"`
	Ingredients     []ingredientPayload `json:"ingredients"`
}

type nutrimentsPayload struct {
	EnergyKcal    flexFloat `json:"energy-kcal_100g"`
	Fat           flexFloat `json:"fat_100g"`
	SaturatedFat  flexFloat `json:"saturated-fat_100g"`
	Carbohydrates flexFloat `json:"carbohydrates_100g"`
	Sugars        flexFloat `json:"sugars_100g"`
	Fiber         flexFloat `json:"fiber_100g"`
	Proteins      flexFloat `json:"proteins_100g"`
	Salt          flexFloat `json:"salt_100g"`
	Sodium        flexFloat `json:"sodium_100g"`
}

type ingredientPayload struct {
	ID   string  `json:"id"`
	Text string  `json:"text"`
	Rank flexInt `json:"rank"`
}

// Fetch returns the product for barcode, (nil, nil) when the catalog has no
// such product, or a TRANSPORT error.
func (c *Client) Fetch(ctx context.Context, barcode string) (*models.ProductRecord, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, errors.NewInvalidRequest("barcode is required")
	}

	u := fmt.Sprintf("%s/product/%s.json?fields=%s", c.baseURL, url.PathEscape(barcode), productFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransport(serviceName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransport(serviceName, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewTransportStatus(serviceName, resp.StatusCode, string(body))
	}

	var pr productResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, errors.NewTransport(serviceName, fmt.Errorf("malformed response: %w", err))
	}

	if pr.Status != 1 || pr.Product == nil {
		slog.Info("Product not found in nutrition database", "barcode", barcode, "status", pr.Status)
		return nil, nil
	}

	product := toRecord(barcode, pr.Product)
	slog.Debug("Product fetched",
		"barcode", barcode,
		"name", product.Name,
		"ingredients", len(product.Ingredients))
	return product, nil
}

func toRecord(barcode string, p *productPayload) *models.ProductRecord {
	rec := &models.ProductRecord{
		Barcode:        barcode,
		Name:           strings.TrimSpace(p.ProductName),
		Brand:          strings.TrimSpace(p.Brands),
		ImageURL:       p.ImageURL,
		NutritionGrade: strings.ToUpper(p.NutritionGrades),
		Nutrients: models.Nutrients{
			EnergyKcal:    p.Nutriments.EnergyKcal.ptr(),
			Fat:           p.Nutriments.Fat.ptr(),
			SaturatedFat:  p.Nutriments.SaturatedFat.ptr(),
			Carbohydrates: p.Nutriments.Carbohydrates.ptr(),
			Sugars:        p.Nutriments.Sugars.ptr(),
			Fiber:         p.Nutriments.Fiber.ptr(),
			Proteins:      p.Nutriments.Proteins.ptr(),
			Salt:          p.Nutriments.Salt.ptr(),
			Sodium:        p.Nutriments.Sodium.ptr(),
		},
	}

	for _, ing := range p.Ingredients {
		text := strings.TrimSpace(ing.Text)
		if text == "" {
			continue
		}
		rec.Ingredients = append(rec.Ingredients, models.Ingredient{
			ID:   ing.ID,
			Text: text,
			Rank: ing.Rank.ptr(),
		})
	}
	return rec
}

// flexFloat accepts a JSON number or a numeric string; the catalog emits both.
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// Non-numeric strings are treated as missing values
			return nil
		}
		f.value, f.set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.value, f.set = v, true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}

type flexInt struct {
	flexFloat
}

func (i flexInt) ptr() *int {
	if !i.set {
		return nil
	}
	v := int(i.value)
	return &v
}
