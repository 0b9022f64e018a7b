// Package pipeline persists messages, decides delivery targets, tracks
// delivered/read/revoked state and replays missed history on reconnect.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/boring-game/voice-chat/internal/model"
	"github.com/boring-game/voice-chat/internal/repo"
)

// Errors rejected synchronously, with no state mutated and no event
// emitted.
var (
	ErrNotSender  = errors.New("pipeline: requester is not the message sender")
	ErrBadAddress = errors.New("pipeline: message addresses both a receiver and a group")
)

// Gateway pushes one event to one live connection. An error means that
// single delivery failed; it is logged and never rolls anything back.
type Gateway interface {
	SendTo(connID uuid.UUID, event string, data interface{}) error
}

// Sessions is the live-connection view the pipeline needs from the
// session registry.
type Sessions interface {
	ConnectionsFor(userID uuid.UUID) []uuid.UUID
	IsOnline(userID uuid.UUID) bool
}

// Members resolves group membership at fanout time.
type Members interface {
	MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	GroupsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Pipeline wires the message store, the group fanout and the session
// registry together. All methods are safe for concurrent use.
type Pipeline struct {
	store    repo.MessageRepo
	members  Members
	sessions Sessions
	gw       Gateway
}

// New creates a message pipeline.
func New(store repo.MessageRepo, members Members, sessions Sessions, gw Gateway) *Pipeline {
	return &Pipeline{store: store, members: members, sessions: sessions, gw: gw}
}

// SendInput describes one outbound message. OriginConn is excluded
// from delivery so the sending device never loops its own message back.
type SendInput struct {
	SenderID   uuid.UUID
	OriginConn uuid.UUID
	ReceiverID *uuid.UUID
	GroupID    *uuid.UUID
	Content    string
	FileURL    string
	FileName   string
	FileSize   int64
}

// Send persists the message first (durability before delivery), then
// fans it out to every live connection of every recipient and echoes a
// sync-message copy to the sender's other devices. A persistence
// failure aborts the whole send; delivery failures are logged and do
// not roll back persisted state.
func (p *Pipeline) Send(ctx context.Context, in SendInput) (model.Message, error) {
	if in.ReceiverID != nil && in.GroupID != nil {
		return model.Message{}, ErrBadAddress
	}

	m := model.Message{
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		GroupID:    in.GroupID,
		Content:    in.Content,
		FileURL:    in.FileURL,
		FileName:   in.FileName,
		FileSize:   in.FileSize,
	}
	if err := p.store.Create(ctx, &m); err != nil {
		return model.Message{}, fmt.Errorf("persisting message: %w", err)
	}

	switch {
	case in.GroupID != nil:
		if err := p.fanOutGroup(ctx, &m, in.OriginConn); err != nil {
			return model.Message{}, err
		}
	case in.ReceiverID != nil:
		p.deliverDirect(ctx, &m)
	}

	p.syncToSenderDevices(model.EventSyncMessage, model.NewMessagePayload(m), in.SenderID, in.OriginConn)
	return m, nil
}

// fanOutGroup emits the message to every live connection of every
// group member, except the originating connection.
func (p *Pipeline) fanOutGroup(ctx context.Context, m *model.Message, originConn uuid.UUID) error {
	memberIDs, err := p.members.MembersOf(ctx, *m.GroupID)
	if err != nil {
		return fmt.Errorf("resolving group %s: %w", *m.GroupID, err)
	}

	payload := model.NewMessagePayload(*m)
	for _, memberID := range memberIDs {
		if memberID == m.SenderID {
			continue // the sender's devices get sync-message instead
		}
		for _, connID := range p.sessions.ConnectionsFor(memberID) {
			p.emit(connID, model.EventNewMessage, payload)
		}
	}
	return nil
}

// deliverDirect emits to the receiver's live connections and marks the
// message delivered when at least one exists. With no live connection
// the message stays pending until the receiver's next authenticate.
func (p *Pipeline) deliverDirect(ctx context.Context, m *model.Message) {
	conns := p.sessions.ConnectionsFor(*m.ReceiverID)
	if len(conns) == 0 {
		return
	}

	payload := model.NewMessagePayload(*m)
	for _, connID := range conns {
		p.emit(connID, model.EventNewMessage, payload)
	}

	if err := p.store.MarkDelivered(ctx, m.ID); err != nil {
		log.Printf("pipeline: marking message %s delivered: %v", m.ID, err)
		return
	}
	m.Delivered = true
}

// Replay re-delivers what the user missed while offline: undelivered
// direct messages and every non-revoked message of the user's groups,
// in persistence order, to the newly authenticated connection only.
// Direct messages flip to delivered as they replay.
func (p *Pipeline) Replay(ctx context.Context, userID, connID uuid.UUID) error {
	groupIDs, err := p.members.GroupsFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving groups for %s: %w", userID, err)
	}

	messages, err := p.store.ListUndelivered(ctx, userID, groupIDs)
	if err != nil {
		return fmt.Errorf("listing undelivered for %s: %w", userID, err)
	}

	for _, m := range messages {
		p.emit(connID, model.EventNewMessage, model.NewMessagePayload(m))
		if m.Direct() && *m.ReceiverID == userID && !m.Delivered {
			if err := p.store.MarkDelivered(ctx, m.ID); err != nil {
				log.Printf("pipeline: marking replayed message %s delivered: %v", m.ID, err)
			}
		}
	}
	return nil
}

// Revoke soft-deletes a message. Only the original sender may revoke;
// repeated revocation is idempotent. Recipients and the sender's other
// devices are notified; content is never scrubbed from storage.
func (p *Pipeline) Revoke(ctx context.Context, messageID, requesterID, originConn uuid.UUID) error {
	m, err := p.store.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != requesterID {
		return ErrNotSender
	}

	if err := p.store.Revoke(ctx, messageID); err != nil {
		return fmt.Errorf("revoking message %s: %w", messageID, err)
	}

	payload := model.MessageRefPayload{MessageID: m.ID, GroupID: m.GroupID}
	for _, connID := range p.recipientConns(ctx, m) {
		if connID == originConn {
			continue
		}
		p.emit(connID, model.EventMessageRevoked, payload)
	}
	p.syncToSenderDevices(model.EventMessageRevoked, payload, m.SenderID, originConn)
	return nil
}

// MarkRead flips the read flag and notifies the sender's devices. The
// flag only transitions after delivered; a premature read report is a
// silent no-op. Repeated reads are idempotent.
func (p *Pipeline) MarkRead(ctx context.Context, messageID uuid.UUID) error {
	m, err := p.store.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if !m.Delivered {
		return nil
	}

	if err := p.store.MarkRead(ctx, messageID); err != nil {
		return fmt.Errorf("marking message %s read: %w", messageID, err)
	}

	payload := model.MessageRefPayload{MessageID: m.ID, GroupID: m.GroupID}
	for _, connID := range p.sessions.ConnectionsFor(m.SenderID) {
		p.emit(connID, model.EventMessageRead, payload)
	}
	return nil
}

// recipientConns gathers the live connections of the message's
// recipients, deduplicated.
func (p *Pipeline) recipientConns(ctx context.Context, m model.Message) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var conns []uuid.UUID
	add := func(userID uuid.UUID) {
		for _, connID := range p.sessions.ConnectionsFor(userID) {
			if _, ok := seen[connID]; ok {
				continue
			}
			seen[connID] = struct{}{}
			conns = append(conns, connID)
		}
	}

	switch {
	case m.GroupID != nil:
		memberIDs, err := p.members.MembersOf(ctx, *m.GroupID)
		if err != nil {
			log.Printf("pipeline: resolving group %s recipients: %v", *m.GroupID, err)
			return nil
		}
		for _, memberID := range memberIDs {
			if memberID == m.SenderID {
				continue
			}
			add(memberID)
		}
	case m.ReceiverID != nil:
		add(*m.ReceiverID)
	}
	return conns
}

// syncToSenderDevices is the best-effort multi-device echo: every other
// live connection of the sender sees what one device did.
func (p *Pipeline) syncToSenderDevices(event string, data interface{}, senderID, originConn uuid.UUID) {
	for _, connID := range p.sessions.ConnectionsFor(senderID) {
		if connID == originConn {
			continue
		}
		p.emit(connID, event, data)
	}
}

// emit logs and swallows per-connection delivery errors: a failing
// recipient never aborts delivery to the rest, and a closed connection
// will pick the message up through replay.
func (p *Pipeline) emit(connID uuid.UUID, event string, data interface{}) {
	if err := p.gw.SendTo(connID, event, data); err != nil {
		log.Printf("pipeline: delivering %s to connection %s: %v", event, connID, err)
	}
}
