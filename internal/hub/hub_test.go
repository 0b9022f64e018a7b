package hub

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boring-game/voice-chat/internal/auth"
	"github.com/boring-game/voice-chat/internal/model"
	"github.com/boring-game/voice-chat/internal/registry"
)

// The full event protocol is exercised end to end over real websockets
// in internal/tests; these cover the gateway error paths that never
// surface there.

func newTestHub() *Hub {
	return New(auth.NewJWTService("secret"), registry.New())
}

func TestSendToUnknownConnection(t *testing.T) {
	h := newTestHub()

	err := h.SendTo(uuid.New(), model.EventNewMessage, model.MessagePayload{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestSendToRejectsUnencodablePayload(t *testing.T) {
	h := newTestHub()
	c := newConn(nil, uuid.New(), uuid.New())
	h.conns[c.id] = c

	err := h.SendTo(c.id, "bad", func() {})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrConnClosed)
}

func TestSendToClosedConnection(t *testing.T) {
	h := newTestHub()
	c := newConn(nil, uuid.New(), uuid.New())
	close(c.done) // closed without touching the nil socket
	h.conns[c.id] = c

	// Fill the buffer so the non-blocking send falls through to the
	// done check.
	for i := 0; i < sendBufferSize; i++ {
		c.send <- model.Envelope{Event: "filler"}
	}

	err := h.SendTo(c.id, model.EventNewMessage, model.MessagePayload{})
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	h := newTestHub()

	alice := uuid.New()
	bob := uuid.New()
	aliceConn := newConn(nil, alice, uuid.New())
	bobConn := newConn(nil, bob, uuid.New())
	h.conns[aliceConn.id] = aliceConn
	h.conns[bobConn.id] = bobConn

	h.Broadcast(model.EventUserStatusChange, model.StatusChangePayload{UserID: alice, Status: model.StatusOnline})

	// The user's own devices see their edge too.
	for _, c := range []*Conn{aliceConn, bobConn} {
		require.Len(t, c.send, 1)
		env := <-c.send
		assert.Equal(t, model.EventUserStatusChange, env.Event)
	}
}

func TestBroadcastWithNoConnections(t *testing.T) {
	h := newTestHub()
	h.Broadcast(model.EventUserStatusChange, model.StatusChangePayload{})
}
