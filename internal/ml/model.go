package ml

import (
	"context"
	"fmt"
	"time"
)

// Model is a generative inference service
type Model interface {
	// Load initializes the model with its configuration
	Load(ctx context.Context) error
	// Generate sends a prompt, with an optional JPEG image, and returns the reply text
	Generate(ctx context.Context, req Request) (string, error)
	// Close releases the underlying client
	Close() error
}

// Request is one inference call
type Request struct {
	Prompt          string
	Image           []byte // JPEG, nil for text-only prompts
	Temperature     float32
	MaxOutputTokens int32
	TopP            float32 // zero means service default
	TopK            int32   // zero means service default
}

// Config selects and configures a model backend
type Config struct {
	Type string // "gemini" or "vertex"

	// gemini
	APIKey            string
	Endpoint          string
	RequestsPerMinute int
	Timeout           time.Duration

	// vertex
	ProjectID       string
	Location        string
	CredentialsFile string

	ModelName string
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// NewModel creates a new, not yet loaded, model instance based on the model type
func NewModel(cfg Config) (Model, error) {
	var factory ModelFactory

	switch cfg.Type {
	case "", "gemini":
		factory = NewGeminiModelFactory(cfg)
	case "vertex":
		factory = NewVertexModelFactory(cfg)
	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Type)
	}
	return factory.CreateModel()
}
