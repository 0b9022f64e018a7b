package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user in the system. Authentication and profile
// management live outside this core; the hub only reads users and
// updates their presence status.
type User struct {
	ID        uuid.UUID
	Username  string
	Avatar    string
	Status    string
	CreatedAt time.Time
}

// Presence status values persisted on connection edges.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Device represents a device belonging to a user.
type Device struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Name         string
	CreatedAt    time.Time
	LastActiveAt *time.Time
}

// Message is one chat message, direct or group. Exactly one of
// ReceiverID/GroupID is set (or neither). Content is an opaque blob;
// the hub never inspects it. The three flags are monotonic: once true
// they never flip back, enforced by the repository write path.
type Message struct {
	ID         uuid.UUID
	SenderID   uuid.UUID
	ReceiverID *uuid.UUID
	GroupID    *uuid.UUID
	Content    string
	FileURL    string
	FileName   string
	FileSize   int64
	Timestamp  time.Time
	Delivered  bool
	Read       bool
	Revoked    bool
}

// Direct reports whether the message is addressed to a single user.
func (m Message) Direct() bool { return m.ReceiverID != nil }

// Group represents a chat group. Membership and the admin subset live
// in group_members; invite codes in group_invites.
type Group struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
}

// InviteCode is a standing invitation into a group. Codes never expire;
// redeeming one for an existing member is an idempotent no-op.
type InviteCode struct {
	Code     string
	GroupID  uuid.UUID
	IssuerID uuid.UUID
	IssuedAt time.Time
}
