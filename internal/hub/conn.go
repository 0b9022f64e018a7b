package hub

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/boring-game/voice-chat/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 120 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
)

// Conn is one live transport socket. The connection id is unique per
// process lifetime; owning identity is fixed at upgrade time by the
// authentication collaborator and trusted for the connection's life.
type Conn struct {
	id       uuid.UUID
	userID   uuid.UUID
	deviceID uuid.UUID

	ws   *websocket.Conn
	send chan model.Envelope

	closeOnce sync.Once
	done      chan struct{}

	// authenticated flips once the client has issued its authenticate
	// event; registry and room operations are refused before that.
	authenticated bool
}

func newConn(ws *websocket.Conn, userID, deviceID uuid.UUID) *Conn {
	return &Conn{
		id:       uuid.New(),
		userID:   userID,
		deviceID: deviceID,
		ws:       ws,
		send:     make(chan model.Envelope, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// close is idempotent; the read loop observes the websocket error and
// runs the hub-side cleanup.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// writePump serializes all writes to the socket: queued events plus
// keepalive pings. One writer goroutine per connection is the only
// place ws.Write* is ever called.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				log.Printf("hub: writing %s to connection %s: %v", env.Event, c.id, err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
