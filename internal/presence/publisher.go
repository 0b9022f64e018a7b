package presence

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/boring-game/voice-chat/internal/model"
)

// Broadcaster pushes an event to every live connection. The hub
// implements it.
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

// StatusStore persists the user's presence status. Best-effort: a
// failed write never blocks or suppresses the broadcast.
type StatusStore interface {
	UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error
}

const statusWriteTimeout = 5 * time.Second

// Publisher turns registry connection-count edges into user_status_change
// broadcasts. Presence goes to every connected session, the user's own
// devices included, not only the user's contacts; scoping to the social
// graph would need a friends collaborator that is out of scope here.
//
// The publisher is deliberately stateless: edge de-duplication is the
// registry's job (it reports only 0->1 and 1->0 transitions).
type Publisher struct {
	broadcaster Broadcaster
	store       StatusStore
}

// NewPublisher creates a presence publisher.
func NewPublisher(b Broadcaster, store StatusStore) *Publisher {
	return &Publisher{broadcaster: b, store: store}
}

// UserOnline implements registry.PresenceNotifier.
func (p *Publisher) UserOnline(userID uuid.UUID) {
	p.publish(userID, model.StatusOnline)
}

// UserOffline implements registry.PresenceNotifier.
func (p *Publisher) UserOffline(userID uuid.UUID) {
	p.publish(userID, model.StatusOffline)
}

func (p *Publisher) publish(userID uuid.UUID, status string) {
	if p.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
		if err := p.store.UpdateStatus(ctx, userID, status); err != nil {
			log.Printf("presence: persisting status %s for %s: %v", status, userID, err)
		}
		cancel()
	}

	p.broadcaster.Broadcast(model.EventUserStatusChange, model.StatusChangePayload{
		UserID: userID,
		Status: status,
	})
}
