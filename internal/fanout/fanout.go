// Package fanout resolves group identities to member sets and manages
// group invitations. Membership is read from the group collaborator at
// every fanout. There is no caching: membership can change between
// sends and staleness would mis-route messages.
package fanout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/boring-game/voice-chat/internal/model"
)

// ErrNotAdmin is returned when a non-admin tries to issue an invite.
var ErrNotAdmin = errors.New("fanout: issuer is not a group admin")

// inviteCodeBytes of entropy per invite code (hex-encoded on the wire).
const inviteCodeBytes = 8

// Directory is the external group-membership collaborator.
type Directory interface {
	Create(ctx context.Context, name, description string, creatorID uuid.UUID) (model.Group, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Group, error)
	Members(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	GroupsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsAdmin(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	AddMember(ctx context.Context, groupID, userID uuid.UUID) error
	AddInvite(ctx context.Context, groupID, issuerID uuid.UUID, code string) error
	GroupByInviteCode(ctx context.Context, code string) (uuid.UUID, error)
}

// Service multiplies message delivery across group members and guards
// the invite flow.
type Service struct {
	dir Directory
}

// New creates a fanout service over the given directory.
func New(dir Directory) *Service {
	return &Service{dir: dir}
}

// MembersOf resolves the authoritative member set at fanout time.
func (s *Service) MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return s.dir.Members(ctx, groupID)
}

// GroupsFor returns every group the user belongs to (used by replay).
func (s *Service) GroupsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.dir.GroupsFor(ctx, userID)
}

// CreateGroup creates a group with the creator as member and admin.
func (s *Service) CreateGroup(ctx context.Context, name, description string, creatorID uuid.UUID) (model.Group, error) {
	return s.dir.Create(ctx, name, description, creatorID)
}

// GenerateInvite issues a random, unguessable invite code. Only group
// admins may issue invites; the attempt mutates nothing on rejection.
func (s *Service) GenerateInvite(ctx context.Context, groupID, issuerID uuid.UUID) (string, error) {
	if _, err := s.dir.GetByID(ctx, groupID); err != nil {
		return "", err
	}
	isAdmin, err := s.dir.IsAdmin(ctx, groupID, issuerID)
	if err != nil {
		return "", err
	}
	if !isAdmin {
		return "", ErrNotAdmin
	}

	buf := make([]byte, inviteCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating invite code: %w", err)
	}
	code := hex.EncodeToString(buf)

	if err := s.dir.AddInvite(ctx, groupID, issuerID, code); err != nil {
		return "", err
	}
	return code, nil
}

// JoinByInvite redeems an invite code. Joining a group the user already
// belongs to succeeds without changing the member set.
func (s *Service) JoinByInvite(ctx context.Context, code string, userID uuid.UUID) (model.Group, error) {
	groupID, err := s.dir.GroupByInviteCode(ctx, code)
	if err != nil {
		return model.Group{}, err
	}
	if err := s.dir.AddMember(ctx, groupID, userID); err != nil {
		return model.Group{}, err
	}
	return s.dir.GetByID(ctx, groupID)
}
