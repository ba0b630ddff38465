package domain

import "time"

// BlockDuration is how long a quorum eviction keeps a participant out.
const BlockDuration = 7 * 24 * time.Hour

type ReportID string

// Report is immutable once created; reports for the same
// (room, reported user) pair accumulate until the quorum is reached.
type Report struct {
	ID        ReportID
	Reporter  UserID
	Reported  UserID
	RoomID    RoomID
	Reason    string
	CreatedAt time.Time
}

// EvictionQuorum is the report count that triggers eviction:
// ceil(totalParticipants / 2), recomputed against the live participant
// count at each report.
func EvictionQuorum(totalParticipants int) int {
	return (totalParticipants + 1) / 2
}
