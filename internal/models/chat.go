package models

import (
	"time"
	"unicode/utf8"
)

// DefaultConversationTitle is replaced by the first user turn.
const DefaultConversationTitle = "New Conversation"

const titleMaxRunes = 30

// TurnType classifies an assistant reply for display.
type TurnType string

const (
	TurnText            TurnType = "text"
	TurnHealthTip       TurnType = "health_tip"
	TurnScanSummary     TurnType = "scan_summary"
	TurnNutritionAdvice TurnType = "nutrition_advice"
	TurnGreeting        TurnType = "greeting"
)

// ChatTurn is a single message in a conversation.
type ChatTurn struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
	Type      TurnType  `json:"type"`
}

// Conversation is an append-only list of turns, persisted as a unit.
type Conversation struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Turns       []ChatTurn `json:"turns"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Append adds a turn and derives the title from the first user turn.
func (c *Conversation) Append(turn ChatTurn) {
	c.Turns = append(c.Turns, turn)
	c.LastUpdated = turn.Timestamp

	if c.Title == "" || c.Title == DefaultConversationTitle {
		if turn.IsUser && turn.Content != "" {
			c.Title = deriveTitle(turn.Content)
		}
	}
}

// Tail returns at most the last n turns.
func (c *Conversation) Tail(n int) []ChatTurn {
	if n <= 0 || len(c.Turns) <= n {
		return c.Turns
	}
	return c.Turns[len(c.Turns)-n:]
}

func deriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleMaxRunes]) + "..."
}
