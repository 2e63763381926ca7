package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/franckalain/foodwise/internal/errors"
	"github.com/franckalain/foodwise/internal/models"
)

// SaveConversation upserts the conversation header and inserts turns not yet
// stored. Turns already present are left untouched.
func (s *SQLiteDB) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.LastUpdated.IsZero() {
		conv.LastUpdated = conv.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			last_updated = excluded.last_updated
	`, conv.ID, conv.UserID, conv.Title, conv.CreatedAt.UnixNano(), conv.LastUpdated.UnixNano())
	if err != nil {
		return fmt.Errorf("error saving conversation: %w", err)
	}

	for i := range conv.Turns {
		turn := &conv.Turns[i]
		if turn.ID == "" {
			turn.ID = ulid.Make().String()
		}
		if turn.Type == "" {
			turn.Type = models.TurnText
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_turns (id, conversation_id, seq, content, is_user, type, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, turn.ID, conv.ID, i, turn.Content, turn.IsUser, string(turn.Type), turn.Timestamp.UnixNano())
		if err != nil {
			return fmt.Errorf("error saving turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation with all its turns
func (s *SQLiteDB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, last_updated
		FROM conversations WHERE id = ?
	`, id)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("conversation", id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadTurns(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns a user's conversations, most recently updated first
func (s *SQLiteDB) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, created_at, last_updated
		FROM conversations
		WHERE user_id = ?
		ORDER BY last_updated DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing conversations: %w", err)
	}

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, conv := range convs {
		if err := s.loadTurns(ctx, conv); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// DeleteConversation removes one of the user's conversations and its turns
func (s *SQLiteDB) DeleteConversation(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("error deleting conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("conversation", id)
	}
	return nil
}

func (s *SQLiteDB) loadTurns(ctx context.Context, conv *models.Conversation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, is_user, type, timestamp
		FROM chat_turns
		WHERE conversation_id = ?
		ORDER BY seq
	`, conv.ID)
	if err != nil {
		return fmt.Errorf("error loading turns: %w", err)
	}
	defer rows.Close()

	conv.Turns = []models.ChatTurn{}
	for rows.Next() {
		var (
			turn     models.ChatTurn
			turnType string
			ts       int64
		)
		if err := rows.Scan(&turn.ID, &turn.Content, &turn.IsUser, &turnType, &ts); err != nil {
			return fmt.Errorf("error scanning turn: %w", err)
		}
		turn.Type = models.TurnType(turnType)
		turn.Timestamp = time.Unix(0, ts).UTC()
		conv.Turns = append(conv.Turns, turn)
	}
	return rows.Err()
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv                 models.Conversation
		createdAt, updatedAt int64
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.Unix(0, createdAt).UTC()
	conv.LastUpdated = time.Unix(0, updatedAt).UTC()
	return &conv, nil
}
