package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boring-game/voice-chat/internal/model"
)

// dialSignalerServer upgrades incoming connections and forwards every
// envelope it reads to the returned channel.
func dialSignalerServer(t *testing.T) (*websocket.Conn, <-chan model.Envelope) {
	t.Helper()

	received := make(chan model.Envelope, 8)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env model.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			received <- env
		}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, received
}

func readEnvelope(t *testing.T, ch <-chan model.Envelope) model.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return model.Envelope{}
	}
}

func TestWSSignalerSendsOfferEnvelope(t *testing.T) {
	conn, received := dialSignalerServer(t)
	sig := NewWSSignaler(conn)

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	require.NoError(t, sig.SendOffer(context.Background(), "room-1", uuid.New(), sdp))

	env := readEnvelope(t, received)
	assert.Equal(t, model.EventOffer, env.Event)

	var payload model.SignalPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "room-1", payload.RoomID)
	assert.Empty(t, payload.Answer)
	assert.Empty(t, payload.Candidate)

	var got webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(payload.Offer, &got))
	assert.Equal(t, sdp, got)
}

func TestWSSignalerSendsAnswerAndCandidate(t *testing.T) {
	conn, received := dialSignalerServer(t)
	sig := NewWSSignaler(conn)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}
	require.NoError(t, sig.SendAnswer(context.Background(), "room-1", uuid.New(), answer))

	env := readEnvelope(t, received)
	assert.Equal(t, model.EventAnswer, env.Event)
	var payload model.SignalPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.NotEmpty(t, payload.Answer)
	assert.Empty(t, payload.Offer)

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host"}
	require.NoError(t, sig.SendCandidate(context.Background(), "room-1", uuid.New(), candidate))

	env = readEnvelope(t, received)
	assert.Equal(t, model.EventICECandidate, env.Event)
	payload = model.SignalPayload{}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	var gotCandidate webrtc.ICECandidateInit
	require.NoError(t, json.Unmarshal(payload.Candidate, &gotCandidate))
	assert.Equal(t, candidate.Candidate, gotCandidate.Candidate)
}

func TestWSSignalerClosedConnection(t *testing.T) {
	conn, _ := dialSignalerServer(t)
	sig := NewWSSignaler(conn)
	conn.Close()

	err := sig.SendOffer(context.Background(), "room-1", uuid.New(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"})
	require.Error(t, err)
}
