package domain

import (
	"testing"
	"time"
)

func TestEvictionQuorum(t *testing.T) {
	cases := []struct {
		participants int
		want         int
	}{
		{1, 1},
		{2, 1},
		{3, 2},
		{4, 2},
		{9, 5},
	}
	for _, c := range cases {
		if got := EvictionQuorum(c.participants); got != c.want {
			t.Errorf("EvictionQuorum(%d) = %d, want %d", c.participants, got, c.want)
		}
	}
}

func TestBlockedAtLazyExpiry(t *testing.T) {
	now := time.Now()
	u := User{ID: "u1", IsBlocked: true, BlockedUntil: now.Add(time.Hour)}
	if !u.BlockedAt(now) {
		t.Error("active block should bar the user")
	}
	if u.BlockedAt(now.Add(2 * time.Hour)) {
		t.Error("expired block should pass")
	}
	clean := User{ID: "u2"}
	if clean.BlockedAt(now) {
		t.Error("never-blocked user should pass")
	}
}

func TestNewRoomName(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	if got := NewRoomName(at); got != "Room-1700000000000" {
		t.Errorf("NewRoomName = %q", got)
	}
}

func TestRoomIsFullAndHas(t *testing.T) {
	r := Room{MaxParticipants: 2, Participants: []UserID{"a", "b"}}
	if !r.IsFull() {
		t.Error("room at capacity should be full")
	}
	if !r.Has("a") || r.Has("c") {
		t.Error("Has membership check wrong")
	}
}
