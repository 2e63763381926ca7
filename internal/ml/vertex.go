package ml

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/franckalain/foodwise/internal/errors"
)

const vertexService = "vertex ai"

// VertexModel implements the Model interface for Google's Vertex AI
type VertexModel struct {
	config    Config
	modelName string
	client    *genai.Client
}

// VertexModelFactory implements ModelFactory for Vertex AI models
type VertexModelFactory struct {
	config Config
}

// NewVertexModelFactory creates a new Vertex AI model factory
func NewVertexModelFactory(config Config) *VertexModelFactory {
	return &VertexModelFactory{config: config}
}

// CreateModel creates a new Vertex AI model instance
func (f *VertexModelFactory) CreateModel() (Model, error) {
	if f.config.ProjectID == "" {
		return nil, fmt.Errorf("vertex project id is required")
	}
	return &VertexModel{config: f.config}, nil
}

// Load initializes the Vertex AI client
func (m *VertexModel) Load(ctx context.Context) error {
	opts := []option.ClientOption{}

	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	location := m.config.Location
	if location == "" {
		location = "us-central1"
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.modelName = m.config.ModelName
	if m.modelName == "" {
		m.modelName = DefaultGeminiModel
	}
	slog.Info("Vertex AI model ready", "model", m.modelName, "project", m.config.ProjectID, "location", location)
	return nil
}

// Generate calls GenerateContent with the prompt and optional image
func (m *VertexModel) Generate(ctx context.Context, req Request) (string, error) {
	if m.client == nil {
		return "", errors.NewInternal(fmt.Errorf("model not loaded"))
	}

	// Set* mutates the model value, so each call gets its own
	model := m.client.GenerativeModel(m.modelName)
	model.SetTemperature(req.Temperature)
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.MaxOutputTokens)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.TopK > 0 {
		model.SetTopK(req.TopK)
	}

	parts := []genai.Part{genai.Text(req.Prompt)}
	if len(req.Image) > 0 {
		parts = append(parts, genai.ImageData("jpeg", req.Image))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.NewCanceled(ctx.Err())
		}
		return "", errors.NewTransport(vertexService, err)
	}

	if len(resp.Candidates) == 0 {
		return "", errors.NewModelResponse("no candidates in model response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.NewModelResponse("no content in response")
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", errors.NewModelResponse("model response text is empty")
	}
	return sb.String(), nil
}

// Close releases the Vertex AI client
func (m *VertexModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}
