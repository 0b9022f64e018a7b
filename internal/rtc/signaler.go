package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/boring-game/voice-chat/internal/model"
)

// WSSignaler sends negotiation payloads through the hub websocket.
// The hub relays each event to every other participant in the room
// and stamps the sender's identity onto the payload, so the peer id
// here is only used for error context.
type WSSignaler struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// NewWSSignaler wraps an established hub connection.
func NewWSSignaler(ws *websocket.Conn) *WSSignaler {
	return &WSSignaler{ws: ws}
}

func (s *WSSignaler) SendOffer(ctx context.Context, roomID string, peerID uuid.UUID, sdp webrtc.SessionDescription) error {
	return s.send(model.EventOffer, roomID, peerID, sdp)
}

func (s *WSSignaler) SendAnswer(ctx context.Context, roomID string, peerID uuid.UUID, sdp webrtc.SessionDescription) error {
	return s.send(model.EventAnswer, roomID, peerID, sdp)
}

func (s *WSSignaler) SendCandidate(ctx context.Context, roomID string, peerID uuid.UUID, candidate webrtc.ICECandidateInit) error {
	return s.send(model.EventICECandidate, roomID, peerID, candidate)
}

func (s *WSSignaler) send(event, roomID string, peerID uuid.UUID, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}

	payload := model.SignalPayload{RoomID: roomID}
	switch event {
	case model.EventOffer:
		payload.Offer = raw
	case model.EventAnswer:
		payload.Answer = raw
	case model.EventICECandidate:
		payload.Candidate = raw
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ws.WriteJSON(model.Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("writing %s for peer %s: %w", event, peerID, err)
	}
	return nil
}
