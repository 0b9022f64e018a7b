package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Wire event names. Names match what clients already speak; both
// client->server and server->client events share this namespace.
const (
	// Client -> server.
	EventAuthenticate  = "authenticate"
	EventPublicKey     = "publicKey"
	EventSendMessage   = "send-message"
	EventRevokeMessage = "revoke-message"
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventStartCall     = "start-call"
	EventAcceptCall    = "accept-call"

	// Bidirectional: client reports a read, server notifies the sender;
	// offer/answer/candidate are relayed verbatim between call peers.
	EventMessageRead  = "message-read"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"

	// Server -> client.
	EventUserStatusChange = "user_status_change"
	EventNewMessage       = "new-message"
	EventSyncMessage      = "sync-message"
	EventMessageRevoked   = "message-revoked"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventIncomingCall     = "incoming-call"
	EventCallAccepted     = "call-accepted"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthenticatePayload carries the device display name; identity comes
// from the verified token on the connection, never from the payload.
type AuthenticatePayload struct {
	DeviceName string `json:"deviceName,omitempty"`
}

// PublicKeyPayload publishes the sender's public key to the registry.
type PublicKeyPayload struct {
	Key string `json:"key"`
}

// SendMessagePayload is the client request to send a message.
type SendMessagePayload struct {
	ReceiverID *uuid.UUID `json:"receiverId,omitempty"`
	GroupID    *uuid.UUID `json:"groupId,omitempty"`
	Content    string     `json:"content"`
	FileURL    string     `json:"fileUrl,omitempty"`
	FileName   string     `json:"fileName,omitempty"`
	FileSize   int64      `json:"fileSize,omitempty"`
}

// MessagePayload is the server-side rendering of a stored message,
// used for new-message and sync-message events.
type MessagePayload struct {
	ID        uuid.UUID  `json:"id"`
	Sender    uuid.UUID  `json:"sender"`
	Receiver  *uuid.UUID `json:"receiver,omitempty"`
	Group     *uuid.UUID `json:"group,omitempty"`
	Content   string     `json:"content"`
	Timestamp int64      `json:"timestamp"`
	FileURL   string     `json:"fileUrl,omitempty"`
	FileName  string     `json:"fileName,omitempty"`
	FileSize  int64      `json:"fileSize,omitempty"`
}

// NewMessagePayload renders a stored message for the wire.
func NewMessagePayload(m Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		Sender:    m.SenderID,
		Receiver:  m.ReceiverID,
		Group:     m.GroupID,
		Content:   m.Content,
		Timestamp: m.Timestamp.UnixMilli(),
		FileURL:   m.FileURL,
		FileName:  m.FileName,
		FileSize:  m.FileSize,
	}
}

// MessageRefPayload identifies a message in revoke/read events.
type MessageRefPayload struct {
	MessageID uuid.UUID  `json:"messageId"`
	GroupID   *uuid.UUID `json:"groupId,omitempty"`
}

// StatusChangePayload announces a presence edge.
type StatusChangePayload struct {
	UserID uuid.UUID `json:"userId"`
	Status string    `json:"status"`
}

// RoomPayload scopes a call event to a room.
type RoomPayload struct {
	RoomID string    `json:"roomId"`
	UserID uuid.UUID `json:"userId"`
}

// CallPayload carries caller identity for incoming-call/call-accepted.
type CallPayload struct {
	RoomID   string    `json:"roomId"`
	CallerID uuid.UUID `json:"callerId"`
}

// SignalPayload is an opaque negotiation payload (offer, answer or ICE
// candidate) plus the originating user. The relay never interprets it.
type SignalPayload struct {
	RoomID    string          `json:"roomId"`
	UserID    uuid.UUID       `json:"userId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}
