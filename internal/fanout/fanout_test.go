package fanout

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boring-game/voice-chat/internal/model"
	"github.com/boring-game/voice-chat/internal/repo"
)

// memDirectory is an in-memory Directory for tests.
type memDirectory struct {
	groups  map[uuid.UUID]model.Group
	members map[uuid.UUID]map[uuid.UUID]bool // groupID -> userID -> isAdmin
	invites map[string]uuid.UUID
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		groups:  make(map[uuid.UUID]model.Group),
		members: make(map[uuid.UUID]map[uuid.UUID]bool),
		invites: make(map[string]uuid.UUID),
	}
}

func (d *memDirectory) Create(_ context.Context, name, description string, creatorID uuid.UUID) (model.Group, error) {
	g := model.Group{ID: uuid.New(), Name: name, Description: description}
	d.groups[g.ID] = g
	d.members[g.ID] = map[uuid.UUID]bool{creatorID: true}
	return g, nil
}

func (d *memDirectory) GetByID(_ context.Context, id uuid.UUID) (model.Group, error) {
	g, ok := d.groups[id]
	if !ok {
		return model.Group{}, fmt.Errorf("group %s: %w", id, repo.ErrNotFound)
	}
	return g, nil
}

func (d *memDirectory) Members(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id := range d.members[groupID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *memDirectory) GroupsFor(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for groupID, members := range d.members {
		if _, ok := members[userID]; ok {
			ids = append(ids, groupID)
		}
	}
	return ids, nil
}

func (d *memDirectory) IsAdmin(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	return d.members[groupID][userID], nil
}

func (d *memDirectory) AddMember(_ context.Context, groupID, userID uuid.UUID) error {
	if _, ok := d.members[groupID][userID]; !ok {
		d.members[groupID][userID] = false
	}
	return nil
}

func (d *memDirectory) AddInvite(_ context.Context, groupID, _ uuid.UUID, code string) error {
	d.invites[code] = groupID
	return nil
}

func (d *memDirectory) GroupByInviteCode(_ context.Context, code string) (uuid.UUID, error) {
	groupID, ok := d.invites[code]
	if !ok {
		return uuid.Nil, fmt.Errorf("invite code: %w", repo.ErrNotFound)
	}
	return groupID, nil
}

func TestGenerateInviteRequiresAdmin(t *testing.T) {
	dir := newMemDirectory()
	svc := New(dir)
	admin, member := uuid.New(), uuid.New()

	group, err := svc.CreateGroup(context.Background(), "ops", "", admin)
	require.NoError(t, err)
	require.NoError(t, dir.AddMember(context.Background(), group.ID, member))

	_, err = svc.GenerateInvite(context.Background(), group.ID, member)
	assert.ErrorIs(t, err, ErrNotAdmin)
	assert.Empty(t, dir.invites, "rejected attempt mutates nothing")

	code, err := svc.GenerateInvite(context.Background(), group.ID, admin)
	require.NoError(t, err)
	assert.Len(t, code, inviteCodeBytes*2, "hex-encoded high-entropy code")
}

func TestGenerateInviteUnknownGroup(t *testing.T) {
	svc := New(newMemDirectory())
	_, err := svc.GenerateInvite(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestJoinByInviteIdempotent(t *testing.T) {
	dir := newMemDirectory()
	svc := New(dir)
	admin, joiner := uuid.New(), uuid.New()

	group, err := svc.CreateGroup(context.Background(), "ops", "", admin)
	require.NoError(t, err)
	code, err := svc.GenerateInvite(context.Background(), group.ID, admin)
	require.NoError(t, err)

	joined, err := svc.JoinByInvite(context.Background(), code, joiner)
	require.NoError(t, err)
	assert.Equal(t, group.ID, joined.ID)

	before, err := svc.MembersOf(context.Background(), group.ID)
	require.NoError(t, err)

	// Redeeming the same code twice leaves the member set unchanged.
	_, err = svc.JoinByInvite(context.Background(), code, joiner)
	require.NoError(t, err)
	after, err := svc.MembersOf(context.Background(), group.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestJoinByInvalidCode(t *testing.T) {
	svc := New(newMemDirectory())
	_, err := svc.JoinByInvite(context.Background(), "nope", uuid.New())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestInviteCodesAreUnique(t *testing.T) {
	dir := newMemDirectory()
	svc := New(dir)
	admin := uuid.New()
	group, err := svc.CreateGroup(context.Background(), "ops", "", admin)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		code, err := svc.GenerateInvite(context.Background(), group.ID, admin)
		require.NoError(t, err)
		assert.False(t, seen[code])
		seen[code] = true
	}
}
