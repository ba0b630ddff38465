package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/telemeet/huddle/internal/app"
	"github.com/telemeet/huddle/internal/auth"
	"github.com/telemeet/huddle/internal/config"
	"github.com/telemeet/huddle/internal/domain"
	"github.com/telemeet/huddle/internal/media"
	"github.com/telemeet/huddle/internal/store"
)

const testSecret = "test-secret"

type restFixture struct {
	router *gin.Engine
	users  *store.UserStore
}

func newRESTFixture(t *testing.T) *restFixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	pool, err := media.NewPool(media.PoolConfig{Workers: 1, RTCMinPort: 44000, RTCPortSpan: 200})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(pool.Close)

	users := store.NewUserStore(db)
	rooms := store.NewRoomStore(db)
	reports := store.NewReportStore(db)
	orch := app.NewOrchestrator(app.NewRegistry(), rooms, users, media.NewRegistry(pool))
	mod := app.NewModerator(reports, rooms, users, orch, app.NewReportRateLimiter(100, time.Minute))
	verifier := auth.NewVerifier(testSecret, users)

	cfg := &config.Config{Mode: "release", Secret: testSecret, ReadLimit: 32768, PingPeriod: 54 * time.Second}
	return &restFixture{
		router: SetupRouter(context.Background(), cfg, orch, mod, verifier),
		users:  users,
	}
}

func (f *restFixture) seedUser(t *testing.T, id domain.UserID) string {
	t.Helper()
	err := f.users.Create(context.Background(), domain.User{
		ID: id, OrgID: "org1", Name: string(id), Email: string(id) + "@test.io",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: string(id),
		OrgID:  "org1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func (f *restFixture) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("bad response body %q: %v", w.Body.String(), err)
		}
	}
	return w, decoded
}

func TestRESTRequiresAuth(t *testing.T) {
	f := newRESTFixture(t)
	w, body := f.do(t, "GET", "/api/rooms", "", "")
	if w.Code != http.StatusUnauthorized || body["code"] != "NO_TOKEN" {
		t.Fatalf("unauthenticated request: %d %v", w.Code, body)
	}
}

func TestAutoJoinLeaveCycle(t *testing.T) {
	f := newRESTFixture(t)
	token := f.seedUser(t, "u1")

	w, body := f.do(t, "POST", "/api/rooms/auto-join", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("auto-join: %d %v", w.Code, body)
	}
	room := body["room"].(map[string]any)
	if room["id"] == "" || len(room["participants"].([]any)) != 1 {
		t.Fatalf("room = %v", room)
	}

	w, body = f.do(t, "GET", "/api/rooms", token, "")
	if w.Code != http.StatusOK || len(body["rooms"].([]any)) != 1 {
		t.Fatalf("list: %d %v", w.Code, body)
	}

	w, body = f.do(t, "POST", "/api/rooms/leave", token, "")
	if w.Code != http.StatusOK || body["left"] != room["id"] {
		t.Fatalf("leave: %d %v", w.Code, body)
	}

	w, body = f.do(t, "POST", "/api/rooms/leave", token, "")
	if w.Code != http.StatusNotFound || body["code"] != "NO_ACTIVE_ROOM" {
		t.Fatalf("second leave: %d %v", w.Code, body)
	}
}

func TestJoinByID(t *testing.T) {
	f := newRESTFixture(t)
	first := f.seedUser(t, "u1")
	second := f.seedUser(t, "u2")

	_, body := f.do(t, "POST", "/api/rooms/auto-join", first, "")
	roomID := body["room"].(map[string]any)["id"].(string)

	w, body := f.do(t, "POST", "/api/rooms/join", second, `{"roomId":"`+roomID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("join: %d %v", w.Code, body)
	}
	if n := len(body["room"].(map[string]any)["participants"].([]any)); n != 2 {
		t.Fatalf("participants = %d, want 2", n)
	}

	w, body = f.do(t, "POST", "/api/rooms/join", second, `{"roomId":"missing"}`)
	if w.Code != http.StatusNotFound || body["code"] != "ROOM_NOT_FOUND" {
		t.Fatalf("join missing room: %d %v", w.Code, body)
	}

	w, body = f.do(t, "POST", "/api/rooms/join", second, `{}`)
	if w.Code != http.StatusBadRequest || body["code"] != "BAD_REQUEST" {
		t.Fatalf("join without roomId: %d %v", w.Code, body)
	}
}

func TestReportEndpointEvicts(t *testing.T) {
	f := newRESTFixture(t)
	reporter := f.seedUser(t, "u1")
	target := f.seedUser(t, "u2")

	_, body := f.do(t, "POST", "/api/rooms/auto-join", reporter, "")
	roomID := body["room"].(map[string]any)["id"].(string)
	if w, _ := f.do(t, "POST", "/api/rooms/join", target, `{"roomId":"`+roomID+`"}`); w.Code != http.StatusOK {
		t.Fatal("target join failed")
	}

	// Two participants: quorum is one report.
	w, body := f.do(t, "POST", "/api/reports", reporter, `{"reportedUserId":"u2","roomId":"`+roomID+`","reason":"spam"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("report: %d %v", w.Code, body)
	}
	if body["evicted"] != true {
		t.Fatalf("outcome = %v, want eviction", body)
	}

	// The evicted user is blocked at the auth boundary from here on.
	w, body = f.do(t, "GET", "/api/rooms", target, "")
	if w.Code != http.StatusUnauthorized || body["code"] != "USER_BLOCKED" {
		t.Fatalf("blocked user request: %d %v", w.Code, body)
	}
}
