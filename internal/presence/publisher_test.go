package presence

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boring-game/voice-chat/internal/model"
)

type recordedBroadcast struct {
	event string
	data  interface{}
}

type fakeBroadcaster struct {
	broadcasts []recordedBroadcast
}

func (f *fakeBroadcaster) Broadcast(event string, data interface{}) {
	f.broadcasts = append(f.broadcasts, recordedBroadcast{event, data})
}

type fakeStatusStore struct {
	statuses map[uuid.UUID]string
	err      error
}

func (f *fakeStatusStore) UpdateStatus(_ context.Context, userID uuid.UUID, status string) error {
	if f.err != nil {
		return f.err
	}
	if f.statuses == nil {
		f.statuses = make(map[uuid.UUID]string)
	}
	f.statuses[userID] = status
	return nil
}

func TestPublishOnlineAndOffline(t *testing.T) {
	b := &fakeBroadcaster{}
	store := &fakeStatusStore{}
	p := NewPublisher(b, store)

	user := uuid.New()
	p.UserOnline(user)
	p.UserOffline(user)

	require.Len(t, b.broadcasts, 2)

	online := b.broadcasts[0]
	assert.Equal(t, model.EventUserStatusChange, online.event)
	assert.Equal(t, model.StatusChangePayload{UserID: user, Status: model.StatusOnline}, online.data)

	offline := b.broadcasts[1]
	assert.Equal(t, model.StatusChangePayload{UserID: user, Status: model.StatusOffline}, offline.data)

	assert.Equal(t, model.StatusOffline, store.statuses[user])
}

func TestStoreFailureStillBroadcasts(t *testing.T) {
	b := &fakeBroadcaster{}
	p := NewPublisher(b, &fakeStatusStore{err: errors.New("db down")})

	p.UserOnline(uuid.New())
	assert.Len(t, b.broadcasts, 1)
}

func TestNilStoreIsAllowed(t *testing.T) {
	b := &fakeBroadcaster{}
	p := NewPublisher(b, nil)
	p.UserOnline(uuid.New())
	assert.Len(t, b.broadcasts, 1)
}
