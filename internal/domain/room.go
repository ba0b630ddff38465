package domain

import (
	"fmt"
	"time"
)

type RoomID string

// DefaultRoomCapacity bounds how many participants a call can hold.
const DefaultRoomCapacity = 9

type Room struct {
	ID              RoomID
	OrgID           OrgID
	Name            string
	CreatedBy       UserID
	Participants    []UserID
	IsActive        bool
	MaxParticipants int
	CreatedAt       time.Time
}

// NewRoomName mirrors the auto-generated names of server-created rooms.
func NewRoomName(now time.Time) string {
	return fmt.Sprintf("Room-%d", now.UnixMilli())
}

func (r *Room) IsFull() bool {
	return len(r.Participants) >= r.MaxParticipants
}

func (r *Room) Has(id UserID) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}
