package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PresenceNotifier receives connection-count edges. UserOnline fires on
// the 0->1 edge, UserOffline on the 1->0 edge, and nothing in between.
type PresenceNotifier interface {
	UserOnline(userID uuid.UUID)
	UserOffline(userID uuid.UUID)
}

// DeviceRecord is the in-memory per-device entry kept while a user has
// at least one live connection.
type DeviceRecord struct {
	DeviceID     uuid.UUID
	Name         string
	LastActiveAt time.Time
}

type userEntry struct {
	conns     map[uuid.UUID]struct{}
	devices   map[uuid.UUID]DeviceRecord
	publicKey string
}

// Registry maps logical user identities to their live connections. A
// user entry exists iff the user has at least one live connection; the
// reverse index makes Unregister O(1) on socket close. All methods are
// safe for concurrent use and none of them block.
type Registry struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*userEntry
	owners   map[uuid.UUID]uuid.UUID // connID -> userID
	notifier PresenceNotifier
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		users:  make(map[uuid.UUID]*userEntry),
		owners: make(map[uuid.UUID]uuid.UUID),
	}
}

// SetNotifier installs the presence notifier. Must be called before the
// first Register; edges occurring with no notifier are dropped.
func (r *Registry) SetNotifier(n PresenceNotifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

// Register adds a connection to the user's set and upserts the device's
// last-active timestamp. Idempotent for a repeated (userID, connID)
// pair: the connection count does not double.
func (r *Registry) Register(userID, connID, deviceID uuid.UUID, deviceName string) {
	r.mu.Lock()
	entry, ok := r.users[userID]
	if !ok {
		entry = &userEntry{
			conns:   make(map[uuid.UUID]struct{}),
			devices: make(map[uuid.UUID]DeviceRecord),
		}
		r.users[userID] = entry
	}
	wasEmpty := len(entry.conns) == 0
	entry.conns[connID] = struct{}{}
	entry.devices[deviceID] = DeviceRecord{
		DeviceID:     deviceID,
		Name:         deviceName,
		LastActiveAt: time.Now(),
	}
	r.owners[connID] = userID
	notifier := r.notifier
	r.mu.Unlock()

	// Notify outside the lock: the notifier fans out to live sockets
	// and may block. Edge detection is exact (one event per 0->1 and
	// 1->0 transition), but delivery order between a concurrent online
	// and offline edge for the same user is not serialized. Listeners
	// needing the authoritative state must ask IsOnline, not replay
	// edges.
	if wasEmpty && notifier != nil {
		notifier.UserOnline(userID)
	}
}

// Unregister removes a connection from whichever user owns it. When the
// user's set becomes empty the entry (devices and public key included)
// is deleted and the offline edge fires.
func (r *Registry) Unregister(connID uuid.UUID) {
	r.mu.Lock()
	userID, ok := r.owners[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.owners, connID)

	entry := r.users[userID]
	delete(entry.conns, connID)
	nowEmpty := len(entry.conns) == 0
	if nowEmpty {
		delete(r.users, userID)
	}
	notifier := r.notifier
	r.mu.Unlock()

	// Same ordering caveat as Register: the edge is exact, delivery
	// order against a concurrent opposite edge is not.
	if nowEmpty && notifier != nil {
		notifier.UserOffline(userID)
	}
}

// ConnectionsFor returns the live connection ids for a user.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.users[userID]
	if !ok {
		return nil
	}
	conns := make([]uuid.UUID, 0, len(entry.conns))
	for id := range entry.conns {
		conns = append(conns, id)
	}
	return conns
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Owner resolves the user owning a connection.
func (r *Registry) Owner(connID uuid.UUID) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owners[connID]
	return userID, ok
}

// SetPublicKey records the user's last-known public key. Ignored when
// the user has no live connection: key material lives exactly as long
// as the session does.
func (r *Registry) SetPublicKey(userID uuid.UUID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.users[userID]; ok {
		entry.publicKey = key
	}
}

// PublicKey returns the user's last-known public key, if any.
func (r *Registry) PublicKey(userID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.users[userID]
	if !ok || entry.publicKey == "" {
		return "", false
	}
	return entry.publicKey, true
}

// Devices returns the per-device records for a user's live session.
func (r *Registry) Devices(userID uuid.UUID) []DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.users[userID]
	if !ok {
		return nil
	}
	devices := make([]DeviceRecord, 0, len(entry.devices))
	for _, d := range entry.devices {
		devices = append(devices, d)
	}
	return devices
}
