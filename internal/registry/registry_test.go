package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type edgeRecorder struct {
	online  []uuid.UUID
	offline []uuid.UUID
}

func (e *edgeRecorder) UserOnline(userID uuid.UUID)  { e.online = append(e.online, userID) }
func (e *edgeRecorder) UserOffline(userID uuid.UUID) { e.offline = append(e.offline, userID) }

func TestRegisterUnregisterPresenceEdges(t *testing.T) {
	r := New()
	edges := &edgeRecorder{}
	r.SetNotifier(edges)

	user := uuid.New()
	conn1, conn2 := uuid.New(), uuid.New()
	device := uuid.New()

	assert.False(t, r.IsOnline(user))

	r.Register(user, conn1, device, "laptop")
	assert.True(t, r.IsOnline(user))
	require.Len(t, edges.online, 1, "0->1 edge fires once")

	// Second device: no duplicate online event.
	r.Register(user, conn2, uuid.New(), "phone")
	assert.Len(t, edges.online, 1)
	assert.Len(t, r.ConnectionsFor(user), 2)

	r.Unregister(conn1)
	assert.True(t, r.IsOnline(user))
	assert.Empty(t, edges.offline)

	r.Unregister(conn2)
	assert.False(t, r.IsOnline(user))
	require.Len(t, edges.offline, 1, "1->0 edge fires once")
	assert.Empty(t, r.ConnectionsFor(user))
}

func TestRegisterIdempotent(t *testing.T) {
	r := New()
	edges := &edgeRecorder{}
	r.SetNotifier(edges)

	user, conn, device := uuid.New(), uuid.New(), uuid.New()
	r.Register(user, conn, device, "laptop")
	r.Register(user, conn, device, "laptop")

	assert.Len(t, r.ConnectionsFor(user), 1)
	assert.Len(t, edges.online, 1)

	// One unregister fully empties the set; no double-counting.
	r.Unregister(conn)
	assert.False(t, r.IsOnline(user))
	assert.Len(t, edges.offline, 1)
}

func TestUnregisterUnknownConnection(t *testing.T) {
	r := New()
	r.SetNotifier(&edgeRecorder{})
	r.Unregister(uuid.New()) // must not panic or emit
}

func TestOwnerReverseIndex(t *testing.T) {
	r := New()
	user, conn := uuid.New(), uuid.New()
	r.Register(user, conn, uuid.New(), "laptop")

	owner, ok := r.Owner(conn)
	require.True(t, ok)
	assert.Equal(t, user, owner)

	r.Unregister(conn)
	_, ok = r.Owner(conn)
	assert.False(t, ok)
}

func TestPublicKeyLifetimeBoundToSession(t *testing.T) {
	r := New()
	user, conn := uuid.New(), uuid.New()

	// No session: key is dropped on the floor.
	r.SetPublicKey(user, "orphan")
	_, ok := r.PublicKey(user)
	assert.False(t, ok)

	r.Register(user, conn, uuid.New(), "laptop")
	r.SetPublicKey(user, "pk-material")
	key, ok := r.PublicKey(user)
	require.True(t, ok)
	assert.Equal(t, "pk-material", key)

	r.Unregister(conn)
	_, ok = r.PublicKey(user)
	assert.False(t, ok, "key deleted with the last connection")
}

func TestDevices(t *testing.T) {
	r := New()
	user := uuid.New()
	d1, d2 := uuid.New(), uuid.New()
	r.Register(user, uuid.New(), d1, "laptop")
	r.Register(user, uuid.New(), d2, "phone")

	devices := r.Devices(user)
	assert.Len(t, devices, 2)
}
