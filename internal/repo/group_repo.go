package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/boring-game/voice-chat/internal/model"
)

// GroupRepo is the group-membership collaborator. Membership reads are
// authoritative at call time; the fanout layer never caches them.
type GroupRepo interface {
	Create(ctx context.Context, name, description string, creatorID uuid.UUID) (model.Group, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Group, error)
	Members(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	GroupsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsAdmin(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	AddMember(ctx context.Context, groupID, userID uuid.UUID) error
	AddInvite(ctx context.Context, groupID, issuerID uuid.UUID, code string) error
	GroupByInviteCode(ctx context.Context, code string) (uuid.UUID, error)
}

type groupRepo struct {
	db *sql.DB
}

// NewGroupRepo creates a new GroupRepo instance
func NewGroupRepo(db *sql.DB) GroupRepo {
	return &groupRepo{db: db}
}

// Create inserts a group and makes the creator its first member and admin.
func (r *groupRepo) Create(ctx context.Context, name, description string, creatorID uuid.UUID) (model.Group, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Group{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var group model.Group
	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (name, description)
		VALUES ($1, $2)
		RETURNING id, name, description, created_at
	`, name, description).Scan(&idStr, &group.Name, &group.Description, &group.CreatedAt)
	if err != nil {
		return model.Group{}, fmt.Errorf("failed to insert group: %w", err)
	}
	if group.ID, err = uuid.Parse(idStr); err != nil {
		return model.Group{}, fmt.Errorf("failed to parse group ID: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, is_admin)
		VALUES ($1, $2, TRUE)
	`, group.ID, creatorID)
	if err != nil {
		return model.Group{}, fmt.Errorf("failed to insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Group{}, fmt.Errorf("failed to commit group creation: %w", err)
	}
	return group, nil
}

// GetByID retrieves a group by ID
func (r *groupRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Group, error) {
	query := `
		SELECT id, name, description, created_at
		FROM groups
		WHERE id = $1
	`
	var group model.Group
	var idStr string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&idStr, &group.Name, &group.Description, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Group{}, fmt.Errorf("group %s: %w", id, ErrNotFound)
		}
		return model.Group{}, fmt.Errorf("failed to query group: %w", err)
	}
	if group.ID, err = uuid.Parse(idStr); err != nil {
		return model.Group{}, fmt.Errorf("failed to parse group ID: %w", err)
	}
	return group, nil
}

// Members returns the current member set of a group.
func (r *groupRepo) Members(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `
		SELECT user_id FROM group_members WHERE group_id = $1
	`, groupID)
}

// GroupsFor returns the ids of every group the user belongs to.
func (r *groupRepo) GroupsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `
		SELECT group_id FROM group_members WHERE user_id = $1
	`, userID)
}

// IsAdmin reports whether the user is in the group's admin subset.
func (r *groupRepo) IsAdmin(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT is_admin FROM group_members
		WHERE group_id = $1 AND user_id = $2
	`
	var isAdmin bool
	err := r.db.QueryRowContext(ctx, query, groupID, userID).Scan(&isAdmin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	return isAdmin, nil
}

// AddMember adds the user to the group. Re-adding an existing member
// is a no-op, which makes invite redemption idempotent.
func (r *groupRepo) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	query := `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, groupID, userID); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// AddInvite records an invite code for a group.
func (r *groupRepo) AddInvite(ctx context.Context, groupID, issuerID uuid.UUID, code string) error {
	query := `
		INSERT INTO group_invites (code, group_id, issuer_id)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, code, groupID, issuerID); err != nil {
		return fmt.Errorf("failed to insert invite: %w", err)
	}
	return nil
}

// GroupByInviteCode resolves an invite code to its group.
func (r *groupRepo) GroupByInviteCode(ctx context.Context, code string) (uuid.UUID, error) {
	query := `
		SELECT group_id FROM group_invites WHERE code = $1
	`
	var idStr string
	err := r.db.QueryRowContext(ctx, query, code).Scan(&idStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("invite code: %w", ErrNotFound)
		}
		return uuid.Nil, fmt.Errorf("failed to query invite: %w", err)
	}
	groupID, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse group ID: %w", err)
	}
	return groupID, nil
}

func (r *groupRepo) queryIDs(ctx context.Context, query string, arg interface{}) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}
