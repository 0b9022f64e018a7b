// Package tests runs end-to-end scenarios against a fully wired hub
// over real websocket connections. Persistence is replaced with
// in-memory fakes so the suite needs no database.
package tests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/boring-game/voice-chat/internal/auth"
	"github.com/boring-game/voice-chat/internal/fanout"
	"github.com/boring-game/voice-chat/internal/hub"
	httphandler "github.com/boring-game/voice-chat/internal/http"
	"github.com/boring-game/voice-chat/internal/http/handlers"
	"github.com/boring-game/voice-chat/internal/model"
	"github.com/boring-game/voice-chat/internal/pipeline"
	"github.com/boring-game/voice-chat/internal/presence"
	"github.com/boring-game/voice-chat/internal/registry"
	"github.com/boring-game/voice-chat/internal/relay"
	"github.com/boring-game/voice-chat/internal/repo"
)

const testJWTSecret = "e2e-test-secret"

// readTimeout bounds every single websocket read in the suite.
const readTimeout = 2 * time.Second

// TestServer is the complete wired application over fakes.
type TestServer struct {
	Server   *httptest.Server
	JWT      *auth.JWTService
	Users    *memUserRepo
	Messages *memMessageRepo
	Groups   *memGroupRepo
}

// NewTestServer wires the hub exactly the way main does, swapping the
// Postgres repositories for in-memory ones.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	users := newMemUserRepo()
	devices := &memDeviceRepo{}
	messages := newMemMessageRepo()
	groupsRepo := newMemGroupRepo()

	jwtService := auth.NewJWTService(testJWTSecret)
	reg := registry.New()
	ws := hub.New(jwtService, reg)

	publisher := presence.NewPublisher(ws, users)
	reg.SetNotifier(publisher)

	groups := fanout.New(groupsRepo)
	pipe := pipeline.New(messages, groups, reg, ws)
	rly := relay.New(ws)
	ws.Bind(pipe, rly, devices)

	groupHandler := handlers.NewGroupHandler(groups)
	router := httphandler.NewRouter(groupHandler, ws.ServeWS, jwtService, users, "stun:stun.example.org:3478")

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &TestServer{
		Server:   srv,
		JWT:      jwtService,
		Users:    users,
		Messages: messages,
		Groups:   groupsRepo,
	}
}

// NewUser provisions a user in the fake store and returns its id.
func (ts *TestServer) NewUser(t *testing.T, username string) uuid.UUID {
	t.Helper()
	u, err := ts.Users.Create(context.Background(), username, "")
	require.NoError(t, err)
	return u.ID
}

// Token issues a signed device token for a user.
func (ts *TestServer) Token(t *testing.T, userID, deviceID uuid.UUID) string {
	t.Helper()
	token, err := ts.JWT.SignToken(userID, deviceID)
	require.NoError(t, err)
	return token
}

// Client is one websocket connection speaking the event protocol.
type Client struct {
	Conn     *websocket.Conn
	UserID   uuid.UUID
	DeviceID uuid.UUID
}

// Dial opens a websocket connection for the given identity. The
// connection is not yet authenticated at the protocol level.
func (ts *TestServer) Dial(t *testing.T, userID, deviceID uuid.UUID) *Client {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.Server.URL, "http") + "/ws?token=" + ts.Token(t, userID, deviceID)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &Client{Conn: conn, UserID: userID, DeviceID: deviceID}
}

// Connect dials and authenticates in one step.
func (ts *TestServer) Connect(t *testing.T, userID, deviceID uuid.UUID, deviceName string) *Client {
	t.Helper()
	c := ts.Dial(t, userID, deviceID)
	c.Send(t, model.EventAuthenticate, model.AuthenticatePayload{DeviceName: deviceName})
	return c
}

// Send writes one event onto the connection.
func (c *Client) Send(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, c.Conn.WriteJSON(model.Envelope{Event: event, Data: data}))
}

// Read returns the next event, failing the test after readTimeout.
func (c *Client) Read(t *testing.T) model.Envelope {
	t.Helper()
	require.NoError(t, c.Conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var env model.Envelope
	require.NoError(t, c.Conn.ReadJSON(&env))
	return env
}

// Expect reads events until one matches the wanted name, failing after
// readTimeout. Interleaved events of other names are skipped so tests
// stay robust against presence broadcasts.
func (c *Client) Expect(t *testing.T, event string) model.Envelope {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for {
		require.NoError(t, c.Conn.SetReadDeadline(deadline))
		var env model.Envelope
		err := c.Conn.ReadJSON(&env)
		require.NoError(t, err, "waiting for %s", event)
		if env.Event == event {
			return env
		}
	}
}

// ExpectNone asserts no event of the given name arrives within the
// grace window. Other events are tolerated.
func (c *Client) ExpectNone(t *testing.T, event string, grace time.Duration) {
	t.Helper()
	deadline := time.Now().Add(grace)
	for {
		_ = c.Conn.SetReadDeadline(deadline)
		var env model.Envelope
		if err := c.Conn.ReadJSON(&env); err != nil {
			return
		}
		require.NotEqual(t, event, env.Event, "unexpected %s: %s", event, string(env.Data))
	}
}

func decodePayload(t *testing.T, env model.Envelope, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// --- in-memory repositories ---

type memUserRepo struct {
	mu       sync.Mutex
	users    map[uuid.UUID]model.User
	statuses map[uuid.UUID]string
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		users:    make(map[uuid.UUID]model.User),
		statuses: make(map[uuid.UUID]string),
	}
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, repo.ErrNotFound)
	}
	return u, nil
}

func (r *memUserRepo) Create(_ context.Context, username, avatar string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := model.User{
		ID:        uuid.New(),
		Username:  username,
		Avatar:    avatar,
		Status:    model.StatusOffline,
		CreatedAt: time.Now(),
	}
	r.users[u.ID] = u
	return u, nil
}

func (r *memUserRepo) UpdateStatus(_ context.Context, userID uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, repo.ErrNotFound)
	}
	r.statuses[userID] = status
	return nil
}

// Status returns the last persisted presence status.
func (r *memUserRepo) Status(userID uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[userID]
}

type memDeviceRepo struct{}

func (r *memDeviceRepo) Touch(context.Context, uuid.UUID, uuid.UUID, string) error { return nil }

type memMessageRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*model.Message
	order    []uuid.UUID
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{messages: make(map[uuid.UUID]*model.Message)}
}

func (r *memMessageRepo) Create(_ context.Context, m *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Mirrors the schema: a receiver and a group are mutually
	// exclusive, either alone or neither is fine.
	if m.ReceiverID != nil && m.GroupID != nil {
		return errors.New("message cannot address both a receiver and a group")
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	cp := *m
	r.messages[m.ID] = &cp
	r.order = append(r.order, m.ID)
	return nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id uuid.UUID) (model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return model.Message{}, fmt.Errorf("message %s: %w", id, repo.ErrNotFound)
	}
	return *m, nil
}

func (r *memMessageRepo) MarkDelivered(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(m *model.Message) { m.Delivered = true })
}

func (r *memMessageRepo) MarkRead(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(m *model.Message) {
		if m.Delivered {
			m.Read = true
		}
	})
}

func (r *memMessageRepo) Revoke(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(m *model.Message) { m.Revoked = true })
}

func (r *memMessageRepo) update(id uuid.UUID, f func(*model.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, repo.ErrNotFound)
	}
	f(m)
	return nil
}

func (r *memMessageRepo) ListUndelivered(_ context.Context, userID uuid.UUID, groupIDs []uuid.UUID) ([]model.Message, error) {
	inGroups := make(map[uuid.UUID]bool, len(groupIDs))
	for _, id := range groupIDs {
		inGroups[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, id := range r.order {
		m := r.messages[id]
		if m.Revoked {
			continue
		}
		direct := m.ReceiverID != nil && *m.ReceiverID == userID && !m.Delivered
		group := m.GroupID != nil && inGroups[*m.GroupID]
		if direct || group {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Get is a test helper around GetByID without the error.
func (r *memMessageRepo) Get(t *testing.T, id uuid.UUID) model.Message {
	t.Helper()
	m, err := r.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}

type memGroupRepo struct {
	mu      sync.Mutex
	groups  map[uuid.UUID]model.Group
	members map[uuid.UUID]map[uuid.UUID]bool // groupID -> userID -> isAdmin
	invites map[string]uuid.UUID
}

func newMemGroupRepo() *memGroupRepo {
	return &memGroupRepo{
		groups:  make(map[uuid.UUID]model.Group),
		members: make(map[uuid.UUID]map[uuid.UUID]bool),
		invites: make(map[string]uuid.UUID),
	}
}

func (r *memGroupRepo) Create(_ context.Context, name, description string, creatorID uuid.UUID) (model.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := model.Group{ID: uuid.New(), Name: name, Description: description, CreatedAt: time.Now()}
	r.groups[g.ID] = g
	r.members[g.ID] = map[uuid.UUID]bool{creatorID: true}
	return g, nil
}

func (r *memGroupRepo) GetByID(_ context.Context, id uuid.UUID) (model.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return model.Group{}, fmt.Errorf("group %s: %w", id, repo.ErrNotFound)
	}
	return g, nil
}

func (r *memGroupRepo) Members(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.members[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, repo.ErrNotFound)
	}
	out := make([]uuid.UUID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out, nil
}

func (r *memGroupRepo) GroupsFor(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for groupID, members := range r.members {
		if _, ok := members[userID]; ok {
			out = append(out, groupID)
		}
	}
	return out, nil
}

func (r *memGroupRepo) IsAdmin(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.members[groupID]
	if !ok {
		return false, fmt.Errorf("group %s: %w", groupID, repo.ErrNotFound)
	}
	return members[userID], nil
}

func (r *memGroupRepo) AddMember(_ context.Context, groupID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.members[groupID]
	if !ok {
		return fmt.Errorf("group %s: %w", groupID, repo.ErrNotFound)
	}
	if _, exists := members[userID]; !exists {
		members[userID] = false
	}
	return nil
}

func (r *memGroupRepo) AddInvite(_ context.Context, groupID, _ uuid.UUID, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invites[code] = groupID
	return nil
}

func (r *memGroupRepo) GroupByInviteCode(_ context.Context, code string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	groupID, ok := r.invites[code]
	if !ok {
		return uuid.Nil, fmt.Errorf("invite code: %w", repo.ErrNotFound)
	}
	return groupID, nil
}

// MemberCount reports the current member-set size for assertions.
func (r *memGroupRepo) MemberCount(groupID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members[groupID])
}
