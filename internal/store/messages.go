package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/oklog/ulid/v2"
)

// CreateMessage appends a chat message to the project conversation.
func (s *Store) CreateMessage(ctx context.Context, projectID, userID string, role MessageRole, content string) (*ChatMessage, error) {
	m := &ChatMessage{
		ID:        ulid.Make().String(),
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, project_id, user_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ProjectID, m.UserID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// MessagesByProject returns the conversation oldest first.
func (s *Store) MessagesByProject(ctx context.Context, projectID string) ([]*ChatMessage, error) {
	q, args, err := psql.Select("id", "project_id", "user_id", "role", "content", "created_at").
		From("chat_messages").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build messages query: %w", err)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []*ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = MessageRole(role)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
