// Package relay manages ephemeral call rooms and forwards session
// negotiation payloads between participants. It is a dumb pipe: offers,
// answers and ICE candidates are routed by room membership and never
// inspected. Rooms live only in memory; a restart drops all call state
// and calls must be re-established.
package relay

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/boring-game/voice-chat/internal/model"
)

// Gateway pushes one event to one live connection.
type Gateway interface {
	SendTo(connID uuid.UUID, event string, data interface{}) error
}

type room struct {
	members map[uuid.UUID]uuid.UUID // connID -> userID
}

// Relay tracks call rooms and routes signaling between their members.
// A room is created implicitly on first join and deleted when the last
// participant leaves.
type Relay struct {
	gw Gateway

	mu    sync.Mutex
	rooms map[string]*room
	// joined indexes the rooms each connection is in, so a socket close
	// resolves its implicit leaves without scanning every room.
	joined map[uuid.UUID]map[string]struct{}
}

// New creates an empty relay.
func New(gw Gateway) *Relay {
	return &Relay{
		gw:     gw,
		rooms:  make(map[string]*room),
		joined: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Join adds the connection to the room and announces user-joined to the
// other members.
func (r *Relay) Join(roomID string, userID, connID uuid.UUID) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[uuid.UUID]uuid.UUID)}
		r.rooms[roomID] = rm
	}
	rm.members[connID] = userID
	if r.joined[connID] == nil {
		r.joined[connID] = make(map[string]struct{})
	}
	r.joined[connID][roomID] = struct{}{}
	others := r.otherConnsLocked(rm, connID)
	r.mu.Unlock()

	r.emit(others, model.EventUserJoined, model.RoomPayload{RoomID: roomID, UserID: userID})
}

// Leave removes the connection from the room, announces user-left, and
// deletes the room record when it becomes empty.
func (r *Relay) Leave(roomID string, userID, connID uuid.UUID) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, member := rm.members[connID]; !member {
		// A leave for a room this connection never joined announces
		// nothing.
		r.mu.Unlock()
		return
	}
	delete(rm.members, connID)
	if set, ok := r.joined[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(r.joined, connID)
		}
	}
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
	others := r.otherConnsLocked(rm, connID)
	r.mu.Unlock()

	r.emit(others, model.EventUserLeft, model.RoomPayload{RoomID: roomID, UserID: userID})
}

// DropConnection handles a closed socket: an implicit leave from every
// room the connection had joined.
func (r *Relay) DropConnection(connID uuid.UUID) {
	r.mu.Lock()
	roomIDs := make([]string, 0, len(r.joined[connID]))
	for roomID := range r.joined[connID] {
		roomIDs = append(roomIDs, roomID)
	}
	var userID uuid.UUID
	if len(roomIDs) > 0 {
		userID = r.rooms[roomIDs[0]].members[connID]
	}
	r.mu.Unlock()

	for _, roomID := range roomIDs {
		r.Leave(roomID, userID, connID)
	}
}

// Relay forwards an event to every other connection currently in the
// room, never back to the sender. The payload is passed through
// verbatim.
func (r *Relay) Relay(roomID, event string, data interface{}, fromConn uuid.UUID) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	others := r.otherConnsLocked(rm, fromConn)
	r.mu.Unlock()

	r.emit(others, event, data)
}

// Participants returns the user ids currently joined to a room.
func (r *Relay) Participants(roomID string) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	seen := make(map[uuid.UUID]struct{})
	var users []uuid.UUID
	for _, userID := range rm.members {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		users = append(users, userID)
	}
	return users
}

func (r *Relay) otherConnsLocked(rm *room, except uuid.UUID) []uuid.UUID {
	conns := make([]uuid.UUID, 0, len(rm.members))
	for connID := range rm.members {
		if connID == except {
			continue
		}
		conns = append(conns, connID)
	}
	return conns
}

func (r *Relay) emit(conns []uuid.UUID, event string, data interface{}) {
	for _, connID := range conns {
		if err := r.gw.SendTo(connID, event, data); err != nil {
			log.Printf("relay: delivering %s to connection %s: %v", event, connID, err)
		}
	}
}
