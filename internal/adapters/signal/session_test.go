package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/telemeet/huddle/internal/app"
	"github.com/telemeet/huddle/internal/auth"
	"github.com/telemeet/huddle/internal/config"
	"github.com/telemeet/huddle/internal/core"
	"github.com/telemeet/huddle/internal/domain"
	"github.com/telemeet/huddle/internal/media"
	"github.com/telemeet/huddle/internal/store"
)

type fixture struct {
	ctl   *Controller
	users *store.UserStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	pool, err := media.NewPool(media.PoolConfig{Workers: 1, RTCMinPort: 43000, RTCPortSpan: 500})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(pool.Close)

	users := store.NewUserStore(db)
	rooms := store.NewRoomStore(db)
	orch := app.NewOrchestrator(app.NewRegistry(), rooms, users, media.NewRegistry(pool))
	cfg := &config.Config{Secret: "test-secret", ReadLimit: 32768, PingPeriod: 54 * time.Second}
	return &fixture{
		ctl:   NewController(orch, auth.NewVerifier(cfg.Secret, users), cfg),
		users: users,
	}
}

// connect registers an authenticated session the way HandleSignal would,
// minus the websocket upgrade: frames land in the capture channel.
func (f *fixture) connect(t *testing.T, userID domain.UserID) *Session {
	t.Helper()
	user := &domain.User{ID: userID, OrgID: "org1", Name: string(userID), Email: string(userID) + "@test.io"}
	if err := f.users.Create(context.Background(), *user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	conn := &WsSignalConn{send: make(chan core.Frame, 32)}
	sess := NewSession(core.SessionID("sid-"+string(userID)), user, conn)
	f.ctl.Orch.Registry.Bind(sess.SID(), sess, nil)
	return sess
}

func recvFrame(t *testing.T, sess *Session) map[string]any {
	t.Helper()
	select {
	case b := <-sess.conn.send:
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("bad frame %s: %v", b, err)
		}
		return m
	default:
		t.Fatal("no frame buffered")
		return nil
	}
}

func expectError(t *testing.T, sess *Session, code string) {
	t.Helper()
	m := recvFrame(t, sess)
	if m["type"] != "error" || m["code"] != code {
		t.Fatalf("frame = %v, want error %s", m, code)
	}
}

func dispatch(f *fixture, sess *Session, frame string) bool {
	return f.ctl.handleSignal(context.Background(), sess, []byte(frame))
}

func TestProduceBeforeJoin(t *testing.T) {
	f := newFixture(t)
	sess := f.connect(t, "u1")

	dispatch(f, sess, `{"type":"produce","kind":"video","rtpParameters":{}}`)
	expectError(t, sess, "TRANSPORT_NOT_INITIALIZED")
	if sess.State() != StateAuthenticated {
		t.Errorf("state = %v, want authenticated", sess.State())
	}
}

func TestConnectTransportBeforeJoin(t *testing.T) {
	f := newFixture(t)
	sess := f.connect(t, "u1")

	dispatch(f, sess, `{"type":"connectTransport","dtlsParameters":{}}`)
	expectError(t, sess, "TRANSPORT_NOT_INITIALIZED")
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	f := newFixture(t)
	sess := f.connect(t, "u1")

	if !dispatch(f, sess, `{"type":"teleport"}`) {
		t.Fatal("unknown type should not kill the connection")
	}
	expectError(t, sess, "UNKNOWN_TYPE")

	if dispatch(f, sess, `{{{`) {
		t.Fatal("malformed frame is a fatal protocol violation")
	}
	expectError(t, sess, "BAD_FRAME")
}

func TestJoinRoomFlow(t *testing.T) {
	f := newFixture(t)
	sess := f.connect(t, "u1")

	dispatch(f, sess, `{"type":"joinRoom"}`)

	params := recvFrame(t, sess)
	if params["type"] != "transportParameters" {
		t.Fatalf("first frame = %v", params)
	}
	tp, ok := params["transportParameters"].(map[string]any)
	if !ok || tp["id"] == nil || tp["id"] == "" {
		t.Fatalf("transport parameters missing id: %v", params)
	}
	if size, ok := tp["maxMessageSize"].(float64); !ok || size == 0 {
		t.Error("transport parameters missing message size bound")
	}

	existing := recvFrame(t, sess)
	if existing["type"] != "existingParticipants" {
		t.Fatalf("second frame = %v", existing)
	}
	if parts, ok := existing["participants"].([]any); ok && len(parts) != 0 {
		t.Errorf("first joiner should see an empty room, got %v", parts)
	}

	if sess.State() != StateRoomPending {
		t.Errorf("state = %v, want roomPending", sess.State())
	}
	if sess.Transport() == nil {
		t.Error("join should attach a transport")
	}
	roomID, ok := f.ctl.Orch.Registry.RoomOf(sess.SID())
	if !ok || roomID == "" {
		t.Error("registry should track the joined room")
	}
}

func TestJoinNamedRoomAndExistingParticipants(t *testing.T) {
	f := newFixture(t)
	first := f.connect(t, "u1")
	second := f.connect(t, "u2")

	dispatch(f, first, `{"type":"joinRoom"}`)
	recvFrame(t, first) // transportParameters
	recvFrame(t, first) // existingParticipants
	roomID, _ := f.ctl.Orch.Registry.RoomOf(first.SID())

	dispatch(f, second, fmt.Sprintf(`{"type":"joinRoom","roomId":"%s"}`, roomID))
	recvFrame(t, second)
	existing := recvFrame(t, second)
	parts, ok := existing["participants"].([]any)
	if !ok || len(parts) != 1 {
		t.Fatalf("joiner should see one existing participant, got %v", existing)
	}
	p := parts[0].(map[string]any)
	if p["id"] != "u1" {
		t.Errorf("existing participant = %v", p)
	}

	if got, _ := f.ctl.Orch.Registry.RoomOf(second.SID()); got != roomID {
		t.Errorf("second session room = %s, want %s", got, roomID)
	}
}

func TestJoinMissingRoom(t *testing.T) {
	f := newFixture(t)
	sess := f.connect(t, "u1")

	dispatch(f, sess, `{"type":"joinRoom","roomId":"no-such-room"}`)
	expectError(t, sess, "ROOM_NOT_FOUND")
	if sess.Transport() != nil {
		t.Error("failed join must not attach a transport")
	}
}

func TestRelayAttachesSender(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	dispatch(f, alice, `{"type":"joinRoom"}`)
	recvFrame(t, alice)
	recvFrame(t, alice)
	roomID, _ := f.ctl.Orch.Registry.RoomOf(alice.SID())
	dispatch(f, bob, fmt.Sprintf(`{"type":"joinRoom","roomId":"%s"}`, roomID))
	recvFrame(t, bob)
	recvFrame(t, bob)

	dispatch(f, alice, `{"type":"offer","target":"bob","payload":{"sdp":"v=0"}}`)
	got := recvFrame(t, bob)
	if got["type"] != "offer" || got["sender"] != "alice" {
		t.Fatalf("relayed frame = %v", got)
	}
	if _, leaked := got["target"]; leaked {
		t.Error("target field should be stripped before relay")
	}
	if payload, ok := got["payload"].(map[string]any); !ok || payload["sdp"] != "v=0" {
		t.Errorf("payload not passed through untouched: %v", got)
	}

	dispatch(f, alice, `{"type":"ice-candidate","target":"nobody","payload":{}}`)
	expectError(t, alice, "TARGET_NOT_FOUND")

	dispatch(f, alice, `{"type":"answer","payload":{}}`)
	expectError(t, alice, "NO_TARGET")
}

func TestRelayRequiresRoom(t *testing.T) {
	f := newFixture(t)
	sess := f.connect(t, "u1")

	dispatch(f, sess, `{"type":"offer","target":"u2","payload":{}}`)
	expectError(t, sess, "NOT_IN_ROOM")
}

func TestDisconnectIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.connect(t, "u1")

	dispatch(f, sess, `{"type":"joinRoom"}`)
	recvFrame(t, sess)
	recvFrame(t, sess)

	f.ctl.Orch.Disconnect(ctx, sess.SID())
	if _, ok := f.ctl.Orch.Registry.Get(sess.SID()); ok {
		t.Fatal("disconnect should unbind the session")
	}
	rooms, err := f.ctl.Orch.Rooms.ListAvailable(ctx, "org1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("emptied room should be deleted, got %v", rooms)
	}

	// The retry costs nothing and corrupts nothing.
	f.ctl.Orch.Disconnect(ctx, sess.SID())
}
