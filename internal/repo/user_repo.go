package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/boring-game/voice-chat/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	Create(ctx context.Context, username, avatar string) (model.User, error)
	UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `
		SELECT id, username, avatar, status, created_at
		FROM users
		WHERE id = $1
	`
	var user model.User
	var idStr string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&idStr,
		&user.Username,
		&user.Avatar,
		&user.Status,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to parse user ID: %w", err)
	}
	return user, nil
}

// Create inserts a new user. Registration itself belongs to the auth
// collaborator; this exists for provisioning and tests.
func (r *userRepo) Create(ctx context.Context, username, avatar string) (model.User, error) {
	query := `
		INSERT INTO users (username, avatar)
		VALUES ($1, $2)
		RETURNING id, username, avatar, status, created_at
	`
	var user model.User
	var idStr string
	err := r.db.QueryRowContext(ctx, query, username, avatar).Scan(
		&idStr,
		&user.Username,
		&user.Avatar,
		&user.Status,
		&user.CreatedAt,
	)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to parse user ID: %w", err)
	}
	return user, nil
}

// UpdateStatus persists the user's presence status.
func (r *userRepo) UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error {
	query := `
		UPDATE users
		SET status = $2
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID, status)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}
