// Package chat is the conversational nutrition assistant built on the same
// profile, scan history and inference client as the analysis pipeline.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/franckalain/foodwise/internal/common"
	"github.com/franckalain/foodwise/internal/errors"
	"github.com/franckalain/foodwise/internal/ml"
	"github.com/franckalain/foodwise/internal/models"
	"github.com/franckalain/foodwise/internal/prompt"
	"github.com/franckalain/foodwise/internal/response"
)

const (
	WelcomeTitle   = "Welcome to FoodWise AI"
	welcomeMessage = "Hi there! I'm your personal FoodWise AI assistant. I'm here to help you make healthier food choices, " +
		"understand nutrition labels, and answer any questions about your diet and health.\n\n" +
		"You can ask me about:\n- Nutrition advice\n- Your scan history\n- Healthy recipe suggestions\n" +
		"- Ingredient information\n\nHow can I help you today?"
)

// Store is the persistence the assistant needs.
type Store interface {
	ListScans(ctx context.Context, userID string, limit int) ([]*models.ScanRecord, error)
	SaveConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	DeleteConversation(ctx context.Context, userID, id string) error
}

// Options tune the assistant's generation settings.
type Options struct {
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	Retry           common.RetryOptions
	Now             func() time.Time
}

// DefaultOptions returns the conversational sampling settings.
func DefaultOptions() Options {
	return Options{
		Temperature:     0.7,
		TopP:            0.9,
		TopK:            40,
		MaxOutputTokens: 1024,
		Retry:           common.DefaultRetryOptions(),
		Now:             time.Now,
	}
}

// SendRequest is one user message.
type SendRequest struct {
	UserID         string
	ConversationID string // empty starts a new conversation
	Message        string
	Profile        *models.HealthProfile // optional
}

// Assistant answers chat messages with profile and scan context.
type Assistant struct {
	store   Store
	prompts *prompt.Builder
	model   ml.Model
	opts    Options

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewAssistant creates an assistant. Zero options take DefaultOptions values.
func NewAssistant(store Store, prompts *prompt.Builder, model ml.Model, opts Options) *Assistant {
	def := DefaultOptions()
	if opts.Temperature == 0 {
		opts.Temperature = def.Temperature
	}
	if opts.TopP == 0 {
		opts.TopP = def.TopP
	}
	if opts.TopK == 0 {
		opts.TopK = def.TopK
	}
	if opts.MaxOutputTokens == 0 {
		opts.MaxOutputTokens = def.MaxOutputTokens
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = def.Retry
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Assistant{
		store:    store,
		prompts:  prompts,
		model:    model,
		opts:     opts,
		inflight: make(map[string]struct{}),
	}
}

// StartConversation creates and persists an empty conversation.
func (a *Assistant) StartConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.NewInvalidRequest("user id is required")
	}
	now := a.opts.Now().UTC()
	conv := &models.Conversation{
		ID:          ulid.Make().String(),
		UserID:      userID,
		Title:       models.DefaultConversationTitle,
		Turns:       []models.ChatTurn{},
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := a.store.SaveConversation(ctx, conv); err != nil {
		return nil, errors.NewPersistence(err)
	}
	return conv, nil
}

// EnsureWelcome returns the user's most recent conversation, creating the
// greeting conversation when the user has none.
func (a *Assistant) EnsureWelcome(ctx context.Context, userID string) (*models.Conversation, error) {
	convs, err := a.Conversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(convs) > 0 {
		return convs[0], nil
	}

	now := a.opts.Now().UTC()
	conv := &models.Conversation{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Title:     WelcomeTitle,
		CreatedAt: now,
	}
	conv.Append(models.ChatTurn{
		ID:        ulid.Make().String(),
		Content:   welcomeMessage,
		Timestamp: now,
		Type:      models.TurnGreeting,
	})
	if err := a.store.SaveConversation(ctx, conv); err != nil {
		return nil, errors.NewPersistence(err)
	}
	slog.Info("Created welcome conversation", "user_id", userID, "conversation_id", conv.ID)
	return conv, nil
}

// Conversations lists the user's conversations, most recent first.
func (a *Assistant) Conversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.NewInvalidRequest("user id is required")
	}
	convs, err := a.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, errors.NewPersistence(err)
	}
	return convs, nil
}

// DeleteConversation removes one of the user's conversations.
func (a *Assistant) DeleteConversation(ctx context.Context, userID, id string) error {
	err := a.store.DeleteConversation(ctx, userID, id)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return errors.NewPersistence(err)
	}
	return err
}

// SendMessage appends the user's message, asks the model and appends the
// plain-text reply. The returned conversation ends with the reply. When the
// model call fails the user turn stays persisted and the error is returned.
func (a *Assistant) SendMessage(ctx context.Context, req SendRequest) (*models.Conversation, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, errors.NewInvalidRequest("message is empty")
	}

	conv, err := a.openConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	if !a.acquire(conv.ID) {
		return nil, errors.NewInFlight(conv.ID)
	}
	defer a.release(conv.ID)

	conv.Append(models.ChatTurn{
		ID:        ulid.Make().String(),
		Content:   message,
		IsUser:    true,
		Timestamp: a.opts.Now().UTC(),
		Type:      models.TurnText,
	})
	if err := a.store.SaveConversation(ctx, conv); err != nil {
		return nil, errors.NewPersistence(err)
	}

	scans, err := a.store.ListScans(ctx, req.UserID, prompt.MaxChatScans)
	if err != nil {
		return nil, errors.NewPersistence(err)
	}
	summaries := make([]models.ScanSummary, 0, len(scans))
	for _, s := range scans {
		summaries = append(summaries, s.Summary())
	}

	text, err := a.prompts.BuildChat(req.Profile, summaries, conv.Tail(prompt.MaxChatTurns))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to build chat prompt: %w", err))
	}

	var reply string
	err = common.WithRetry(ctx, "generate chat reply", a.opts.Retry, func(ctx context.Context) error {
		out, err := a.model.Generate(ctx, ml.Request{
			Prompt:          text,
			Temperature:     a.opts.Temperature,
			TopP:            a.opts.TopP,
			TopK:            a.opts.TopK,
			MaxOutputTokens: a.opts.MaxOutputTokens,
		})
		reply = out
		return err
	})
	if err != nil {
		slog.Error("Chat reply failed", "conversation_id", conv.ID, "error", err)
		return nil, err
	}

	reply = response.PlainText(reply)
	if reply == "" {
		return nil, errors.NewModelResponse("chat reply is empty after cleanup")
	}

	conv.Append(models.ChatTurn{
		ID:        ulid.Make().String(),
		Content:   reply,
		Timestamp: a.opts.Now().UTC(),
		Type:      Classify(reply),
	})
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCanceled(err)
	}
	if err := a.store.SaveConversation(ctx, conv); err != nil {
		return nil, errors.NewPersistence(err)
	}
	return conv, nil
}

func (a *Assistant) openConversation(ctx context.Context, req SendRequest) (*models.Conversation, error) {
	if req.ConversationID == "" {
		return a.StartConversation(ctx, req.UserID)
	}
	conv, err := a.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		return nil, errors.NewPersistence(err)
	}
	if conv.UserID != req.UserID {
		return nil, errors.NewNotFound("conversation", req.ConversationID)
	}
	return conv, nil
}

func (a *Assistant) acquire(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inflight[id]; busy {
		return false
	}
	a.inflight[id] = struct{}{}
	return true
}

func (a *Assistant) release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inflight, id)
}
