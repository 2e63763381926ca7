package ml

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/franckalain/foodwise/internal/errors"
)

const (
	DefaultGeminiModel    = "gemini-1.5-flash"
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
	geminiService         = "inference service"
)

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int32   `json:"maxOutputTokens,omitempty"`
	TopP            float32 `json:"topP,omitempty"`
	TopK            int32   `json:"topK,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// GeminiModel calls the Gemini generateContent REST endpoint
type GeminiModel struct {
	config     Config
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// GeminiModelFactory implements ModelFactory for Gemini REST models
type GeminiModelFactory struct {
	config Config
}

// NewGeminiModelFactory creates a new Gemini model factory
func NewGeminiModelFactory(config Config) *GeminiModelFactory {
	return &GeminiModelFactory{config: config}
}

// CreateModel creates a new Gemini model instance
func (f *GeminiModelFactory) CreateModel() (Model, error) {
	if f.config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	return &GeminiModel{config: f.config}, nil
}

// Load prepares the HTTP client and rate limiter
func (m *GeminiModel) Load(ctx context.Context) error {
	modelName := m.config.ModelName
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	m.endpoint = m.config.Endpoint
	if m.endpoint == "" {
		m.endpoint = fmt.Sprintf(defaultGeminiEndpoint, modelName)
	}

	timeout := m.config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	m.httpClient = &http.Client{Timeout: timeout}

	rpm := m.config.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	m.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)

	slog.Info("Gemini model ready", "model", modelName, "requests_per_minute", rpm)
	return nil
}

// Generate sends one generateContent request
func (m *GeminiModel) Generate(ctx context.Context, req Request) (string, error) {
	if m.httpClient == nil {
		return "", errors.NewInternal(fmt.Errorf("model not loaded"))
	}

	if err := m.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", errors.NewCanceled(ctx.Err())
		}
		return "", errors.NewTransport(geminiService, fmt.Errorf("rate limiter: %w", err))
	}

	parts := []geminiPart{{Text: req.Prompt}}
	if len(req.Image) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}})
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
			TopP:            req.TopP,
			TopK:            req.TopK,
		},
	})
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to marshal request: %w", err))
	}

	u := m.endpoint + "?key=" + url.QueryEscape(m.config.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Calling inference service", "prompt_chars", len(req.Prompt), "image_bytes", len(req.Image))
	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.NewCanceled(ctx.Err())
		}
		return "", errors.NewTransport(geminiService, redactKey(err, m.config.APIKey))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewTransport(geminiService, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.NewTransportStatus(geminiService, resp.StatusCode, string(respBody))
	}

	var out geminiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", errors.NewTransport(geminiService, fmt.Errorf("malformed response: %w", err))
	}

	if len(out.Candidates) == 0 {
		return "", errors.NewModelResponse("no candidates in model response")
	}
	candidate := out.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return "", errors.NewModelResponse(fmt.Sprintf("candidate has no content parts (finish reason %q)", candidate.FinishReason))
	}

	var sb strings.Builder
	for _, p := range candidate.Content.Parts {
		sb.WriteString(p.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", errors.NewModelResponse("model response text is empty")
	}
	return sb.String(), nil
}

// Close is a no-op for the REST client
func (m *GeminiModel) Close() error {
	return nil
}

// url.Error embeds the full request URL, key included.
func redactKey(err error, key string) error {
	if key == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED"))
}
