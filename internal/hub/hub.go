// Package hub is the transport boundary of the communication core: it
// upgrades websocket connections, frames events, and dispatches them to
// the registry, pipeline and relay. It also implements the Gateway
// interfaces those components deliver through.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/boring-game/voice-chat/internal/auth"
	"github.com/boring-game/voice-chat/internal/model"
	"github.com/boring-game/voice-chat/internal/pipeline"
	"github.com/boring-game/voice-chat/internal/registry"
	"github.com/boring-game/voice-chat/internal/relay"
	"github.com/boring-game/voice-chat/internal/repo"
)

// ErrConnClosed is returned by SendTo when the target connection is
// gone or its send buffer is full. Callers treat it as a delivery
// error: logged, never retried against this connection.
var ErrConnClosed = errors.New("hub: connection closed")

// Hub owns every live connection in the process.
type Hub struct {
	jwt     *auth.JWTService
	reg     *registry.Registry
	pipe    *pipeline.Pipeline
	relay   *relay.Relay
	devices repo.DeviceRepo

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[uuid.UUID]*Conn
}

// New creates a hub. Bind must be called before ServeWS.
func New(jwtService *auth.JWTService, reg *registry.Registry) *Hub {
	return &Hub{
		jwt:   jwtService,
		reg:   reg,
		conns: make(map[uuid.UUID]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Bind attaches the components the hub dispatches into. Split from New
// because the pipeline and relay deliver back through the hub.
func (h *Hub) Bind(pipe *pipeline.Pipeline, rly *relay.Relay, devices repo.DeviceRepo) {
	h.pipe = pipe
	h.relay = rly
	h.devices = devices
}

// ServeWS upgrades an authenticated websocket connection and runs its
// read loop until the socket closes. The bearer token rides in the
// token query parameter since browsers cannot set headers on upgrade.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	claims, err := h.jwt.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: websocket upgrade: %v", err)
		return
	}

	c := newConn(ws, claims.UserID, claims.DeviceID)
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	go c.writePump()
	h.readLoop(r.Context(), c)
	h.cleanup(c)
}

func (h *Hub) readLoop(ctx context.Context, c *Conn) {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env model.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("hub: reading from connection %s: %v", c.id, err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		h.dispatch(ctx, c, env)
	}
}

// cleanup runs when a connection's read loop ends. The close is an
// implicit cancellation of everything addressed to this connection:
// it leaves all call rooms, drops out of the registry (firing the
// offline edge when it was the user's last connection), and nothing is
// ever retried against it; replay on reconnect is the recovery path.
func (h *Hub) cleanup(c *Conn) {
	c.close()
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	h.relay.DropConnection(c.id)
	if c.authenticated {
		h.reg.Unregister(c.id)
	}
}

// dispatch routes one inbound event. Unknown events are ignored;
// malformed payloads are logged and skipped. Handler errors never tear
// the connection down.
func (h *Hub) dispatch(ctx context.Context, c *Conn, env model.Envelope) {
	if env.Event != model.EventAuthenticate && !c.authenticated {
		log.Printf("hub: connection %s sent %s before authenticate", c.id, env.Event)
		return
	}

	switch env.Event {
	case model.EventAuthenticate:
		h.handleAuthenticate(ctx, c, env.Data)
	case model.EventPublicKey:
		var p model.PublicKeyPayload
		if !decode(c, env, &p) {
			return
		}
		h.reg.SetPublicKey(c.userID, p.Key)
	case model.EventSendMessage:
		h.handleSendMessage(ctx, c, env.Data)
	case model.EventRevokeMessage:
		var p model.MessageRefPayload
		if !decode(c, env, &p) {
			return
		}
		if err := h.pipe.Revoke(ctx, p.MessageID, c.userID, c.id); err != nil {
			log.Printf("hub: revoke %s by %s: %v", p.MessageID, c.userID, err)
		}
	case model.EventMessageRead:
		var p model.MessageRefPayload
		if !decode(c, env, &p) {
			return
		}
		if err := h.pipe.MarkRead(ctx, p.MessageID); err != nil {
			log.Printf("hub: mark read %s: %v", p.MessageID, err)
		}
	case model.EventJoinRoom:
		var p model.RoomPayload
		if !decode(c, env, &p) {
			return
		}
		h.relay.Join(p.RoomID, c.userID, c.id)
	case model.EventLeaveRoom:
		var p model.RoomPayload
		if !decode(c, env, &p) {
			return
		}
		h.relay.Leave(p.RoomID, c.userID, c.id)
	case model.EventStartCall:
		var p model.CallPayload
		if !decode(c, env, &p) {
			return
		}
		h.relay.Relay(p.RoomID, model.EventIncomingCall,
			model.CallPayload{RoomID: p.RoomID, CallerID: c.userID}, c.id)
	case model.EventAcceptCall:
		var p model.CallPayload
		if !decode(c, env, &p) {
			return
		}
		h.relay.Relay(p.RoomID, model.EventCallAccepted,
			model.CallPayload{RoomID: p.RoomID, CallerID: c.userID}, c.id)
	case model.EventOffer, model.EventAnswer, model.EventICECandidate:
		var p model.SignalPayload
		if !decode(c, env, &p) {
			return
		}
		// The relay stamps the verified origin and passes the
		// negotiation payload through untouched.
		p.UserID = c.userID
		h.relay.Relay(p.RoomID, env.Event, p, c.id)
	default:
		log.Printf("hub: connection %s sent unknown event %q", c.id, env.Event)
	}
}

func (h *Hub) handleAuthenticate(ctx context.Context, c *Conn, data json.RawMessage) {
	var p model.AuthenticatePayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			log.Printf("hub: parsing authenticate payload from %s: %v", c.id, err)
			return
		}
	}
	c.authenticated = true

	h.reg.Register(c.userID, c.id, c.deviceID, p.DeviceName)
	if h.devices != nil {
		if err := h.devices.Touch(ctx, c.userID, c.deviceID, p.DeviceName); err != nil {
			log.Printf("hub: touching device %s: %v", c.deviceID, err)
		}
	}
	if err := h.pipe.Replay(ctx, c.userID, c.id); err != nil {
		log.Printf("hub: replaying for %s: %v", c.userID, err)
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Conn, data json.RawMessage) {
	var p model.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("hub: parsing send-message payload from %s: %v", c.id, err)
		return
	}
	_, err := h.pipe.Send(ctx, pipeline.SendInput{
		SenderID:   c.userID,
		OriginConn: c.id,
		ReceiverID: p.ReceiverID,
		GroupID:    p.GroupID,
		Content:    p.Content,
		FileURL:    p.FileURL,
		FileName:   p.FileName,
		FileSize:   p.FileSize,
	})
	if err != nil {
		log.Printf("hub: send from %s: %v", c.userID, err)
	}
}

// SendTo implements the component Gateway: it queues one event on one
// connection. A missing connection or a full send buffer counts as a
// delivery failure; the slow consumer is closed so its client falls
// back to the replay path.
func (h *Hub) SendTo(connID uuid.UUID, event string, data interface{}) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnClosed, connID)
	}

	env, err := envelope(event, data)
	if err != nil {
		return err
	}

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrConnClosed, connID)
	default:
		c.close()
		return fmt.Errorf("%w: %s (send buffer full)", ErrConnClosed, connID)
	}
}

// Broadcast implements presence.Broadcaster: delivery to every live
// connection, the originating user's own included.
func (h *Hub) Broadcast(event string, data interface{}) {
	env, err := envelope(event, data)
	if err != nil {
		log.Printf("hub: encoding broadcast %s: %v", event, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- env:
		case <-c.done:
		default:
			c.close()
		}
	}
}

func envelope(event string, data interface{}) (model.Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return model.Envelope{Event: event, Data: raw}, nil
}

func decode(c *Conn, env model.Envelope, dst interface{}) bool {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		log.Printf("hub: parsing %s payload from %s: %v", env.Event, c.id, err)
		return false
	}
	return true
}
