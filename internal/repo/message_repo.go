package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/boring-game/voice-chat/internal/model"
)

// MessageRepo defines the persistence contract for messages. The three
// flag mutations are monotonic by construction: the WHERE clauses only
// ever flip false to true and a repeated call is a no-op, not an error.
type MessageRepo interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (model.Message, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkRead(ctx context.Context, id uuid.UUID) error
	Revoke(ctx context.Context, id uuid.UUID) error
	ListUndelivered(ctx context.Context, userID uuid.UUID, groupIDs []uuid.UUID) ([]model.Message, error)
}

type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo instance
func NewMessageRepo(db *sql.DB) MessageRepo {
	return &messageRepo{db: db}
}

// Create persists a message and fills in its id and timestamp.
func (r *messageRepo) Create(ctx context.Context, m *model.Message) error {
	query := `
		INSERT INTO messages (sender_id, receiver_id, group_id, content, file_url, file_name, file_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, timestamp
	`
	var idStr string
	err := r.db.QueryRowContext(ctx, query,
		m.SenderID, m.ReceiverID, m.GroupID, m.Content, m.FileURL, m.FileName, m.FileSize,
	).Scan(&idStr, &m.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	m.ID, err = uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("failed to parse message ID: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *messageRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, group_id, content, file_url, file_name, file_size,
		       timestamp, delivered, read, revoked
		FROM messages
		WHERE id = $1
	`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return model.Message{}, fmt.Errorf("failed to query message: %w", err)
	}
	return m, nil
}

// MarkDelivered flips delivered to true. No-op when already delivered.
func (r *messageRepo) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE messages
		SET delivered = TRUE
		WHERE id = $1 AND delivered = FALSE
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark message delivered: %w", err)
	}
	return nil
}

// MarkRead flips read to true. The delivered guard enforces the
// read-after-delivered invariant at the write path.
func (r *messageRepo) MarkRead(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE messages
		SET read = TRUE
		WHERE id = $1 AND delivered = TRUE AND read = FALSE
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

// Revoke soft-deletes the message. Content is not scrubbed.
func (r *messageRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE messages
		SET revoked = TRUE
		WHERE id = $1 AND revoked = FALSE
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to revoke message: %w", err)
	}
	return nil
}

// ListUndelivered returns the replay set for a reconnecting user in
// persistence order: undelivered direct messages addressed to the user
// plus every non-revoked message of the user's groups (group delivery
// is fanned out per connection, not tracked per member).
func (r *messageRepo) ListUndelivered(ctx context.Context, userID uuid.UUID, groupIDs []uuid.UUID) ([]model.Message, error) {
	ids := make([]string, len(groupIDs))
	for i, g := range groupIDs {
		ids[i] = g.String()
	}

	query := `
		SELECT id, sender_id, receiver_id, group_id, content, file_url, file_name, file_size,
		       timestamp, delivered, read, revoked
		FROM messages
		WHERE revoked = FALSE
		  AND ((receiver_id = $1 AND delivered = FALSE) OR group_id = ANY($2::uuid[]))
		ORDER BY timestamp ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query undelivered messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var m model.Message
	var idStr, senderStr string
	var receiverStr, groupStr sql.NullString
	var fileURL, fileName sql.NullString
	var fileSize sql.NullInt64

	err := row.Scan(
		&idStr, &senderStr, &receiverStr, &groupStr,
		&m.Content, &fileURL, &fileName, &fileSize,
		&m.Timestamp, &m.Delivered, &m.Read, &m.Revoked,
	)
	if err != nil {
		return model.Message{}, err
	}

	if m.ID, err = uuid.Parse(idStr); err != nil {
		return model.Message{}, fmt.Errorf("failed to parse message ID: %w", err)
	}
	if m.SenderID, err = uuid.Parse(senderStr); err != nil {
		return model.Message{}, fmt.Errorf("failed to parse sender ID: %w", err)
	}
	if receiverStr.Valid {
		id, err := uuid.Parse(receiverStr.String)
		if err != nil {
			return model.Message{}, fmt.Errorf("failed to parse receiver ID: %w", err)
		}
		m.ReceiverID = &id
	}
	if groupStr.Valid {
		id, err := uuid.Parse(groupStr.String)
		if err != nil {
			return model.Message{}, fmt.Errorf("failed to parse group ID: %w", err)
		}
		m.GroupID = &id
	}
	m.FileURL = fileURL.String
	m.FileName = fileName.String
	m.FileSize = fileSize.Int64
	return m, nil
}
