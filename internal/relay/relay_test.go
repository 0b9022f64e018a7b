package relay

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boring-game/voice-chat/internal/model"
)

type emitted struct {
	conn  uuid.UUID
	event string
	data  interface{}
}

type recordingGateway struct {
	events []emitted
}

func (g *recordingGateway) SendTo(connID uuid.UUID, event string, data interface{}) error {
	g.events = append(g.events, emitted{connID, event, data})
	return nil
}

func (g *recordingGateway) conns(event string) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	for _, e := range g.events {
		if e.event == event {
			out[e.conn]++
		}
	}
	return out
}

type participant struct {
	userID uuid.UUID
	connID uuid.UUID
}

func join(r *Relay, roomID string) participant {
	p := participant{userID: uuid.New(), connID: uuid.New()}
	r.Join(roomID, p.userID, p.connID)
	return p
}

func TestJoinAnnouncesToOthersOnly(t *testing.T) {
	gw := &recordingGateway{}
	r := New(gw)

	first := join(r, "R1")
	assert.Empty(t, gw.events, "nobody to announce to in a fresh room")

	second := join(r, "R1")
	joins := gw.conns(model.EventUserJoined)
	assert.Equal(t, 1, joins[first.connID])
	assert.Zero(t, joins[second.connID], "join is never echoed to the joiner")

	assert.ElementsMatch(t, []uuid.UUID{first.userID, second.userID}, r.Participants("R1"))
}

func TestOfferRelayedToOthersNeverEchoed(t *testing.T) {
	gw := &recordingGateway{}
	r := New(gw)

	a := join(r, "R1")
	b := join(r, "R1")
	c := join(r, "R1")
	gw.events = nil

	payload := model.SignalPayload{RoomID: "R1", UserID: a.userID, Offer: json.RawMessage(`{"sdp":"v=0"}`)}
	r.Relay("R1", model.EventOffer, payload, a.connID)

	offers := gw.conns(model.EventOffer)
	assert.Equal(t, 1, offers[b.connID])
	assert.Equal(t, 1, offers[c.connID])
	assert.Zero(t, offers[a.connID], "offer never echoed to the sender")

	// Payload passes through verbatim.
	require.NotEmpty(t, gw.events)
	got, ok := gw.events[0].data.(model.SignalPayload)
	require.True(t, ok)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(got.Offer))
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	gw := &recordingGateway{}
	r := New(gw)

	a := join(r, "R1")
	b := join(r, "R1")

	r.Leave("R1", a.userID, a.connID)
	assert.ElementsMatch(t, []uuid.UUID{b.userID}, r.Participants("R1"))

	r.Leave("R1", b.userID, b.connID)
	assert.Nil(t, r.Participants("R1"), "room record deleted when last participant leaves")

	// Relaying into a dead room is a no-op.
	gw.events = nil
	r.Relay("R1", model.EventOffer, model.SignalPayload{}, a.connID)
	assert.Empty(t, gw.events)
}

func TestLeaveUnknownRoomIsNoop(t *testing.T) {
	r := New(&recordingGateway{})
	r.Leave("missing", uuid.New(), uuid.New()) // must not panic
}

func TestStartCallCarriesCallerIdentity(t *testing.T) {
	gw := &recordingGateway{}
	r := New(gw)

	caller := join(r, "R1")
	callee := join(r, "R1")
	gw.events = nil

	r.Relay("R1", model.EventIncomingCall, model.CallPayload{RoomID: "R1", CallerID: caller.userID}, caller.connID)

	calls := gw.conns(model.EventIncomingCall)
	require.Equal(t, 1, calls[callee.connID])
	payload := gw.events[0].data.(model.CallPayload)
	assert.Equal(t, caller.userID, payload.CallerID)
}

func TestDropConnectionLeavesAllRooms(t *testing.T) {
	gw := &recordingGateway{}
	r := New(gw)

	a := participant{userID: uuid.New(), connID: uuid.New()}
	r.Join("R1", a.userID, a.connID)
	r.Join("R2", a.userID, a.connID)
	other := join(r, "R1")
	gw.events = nil

	r.DropConnection(a.connID)

	assert.Nil(t, r.Participants("R2"))
	assert.ElementsMatch(t, []uuid.UUID{other.userID}, r.Participants("R1"))
	left := gw.conns(model.EventUserLeft)
	assert.Equal(t, 1, left[other.connID])
}

func TestLeaveByNonMemberAnnouncesNothing(t *testing.T) {
	gw := &recordingGateway{}
	r := New(gw)

	member := join(r, "R1")
	outsider := participant{userID: uuid.New(), connID: uuid.New()}

	r.Leave("R1", outsider.userID, outsider.connID)

	assert.Empty(t, gw.conns(model.EventUserLeft), "no user-left for a connection that never joined")
	assert.ElementsMatch(t, []uuid.UUID{member.userID}, r.Participants("R1"))
}
