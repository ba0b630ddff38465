package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/domain"
	"github.com/telemeet/huddle/internal/store"
)

// EvictionNotifier pushes the in-memory fallout of an eviction: tearing
// down the target's live session and telling the room. The Orchestrator
// implements it.
type EvictionNotifier interface {
	OnEvicted(roomID domain.RoomID, userID domain.UserID, roomEmptied bool)
}

// ReportOutcome tells the reporter what their report did.
type ReportOutcome struct {
	Reports int  `json:"reports"`
	Quorum  int  `json:"quorum"`
	Evicted bool `json:"evicted"`
}

type Moderator struct {
	reports  *store.ReportStore
	rooms    *store.RoomStore
	users    *store.UserStore
	notifier EvictionNotifier
	limiter  *ReportRateLimiter
	now      func() time.Time
}

func NewModerator(reports *store.ReportStore, rooms *store.RoomStore, users *store.UserStore, notifier EvictionNotifier, limiter *ReportRateLimiter) *Moderator {
	return &Moderator{
		reports:  reports,
		rooms:    rooms,
		users:    users,
		notifier: notifier,
		limiter:  limiter,
		now:      time.Now,
	}
}

// SubmitReport records one report and evicts the reported participant once
// the accumulated count reaches ceil(n/2) of the room's current size.
// Eviction blocks the user for a week and removes them from the room; the
// quorum uses the participant count at the moment of this report, so a
// shrinking room lowers the bar.
func (m *Moderator) SubmitReport(ctx context.Context, reporter domain.UserID, roomID domain.RoomID, reported domain.UserID, reason string) (ReportOutcome, error) {
	if !m.limiter.Allow(reporter) {
		return ReportOutcome{}, apperr.New(apperr.KindCapacity, "REPORT_RATE_LIMITED", "too many reports, slow down")
	}
	if reporter == reported {
		return ReportOutcome{}, apperr.New(apperr.KindProtocol, "SELF_REPORT", "cannot report yourself")
	}

	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		return ReportOutcome{}, err
	}
	if !room.Has(reporter) || !room.Has(reported) {
		return ReportOutcome{}, apperr.New(apperr.KindNotFound, "NOT_IN_ROOM", "both users must be in the room")
	}

	now := m.now()
	err = m.reports.Create(ctx, domain.Report{
		ID:        domain.ReportID(uuid.NewString()),
		Reporter:  reporter,
		Reported:  reported,
		RoomID:    roomID,
		Reason:    reason,
		CreatedAt: now,
	})
	if err != nil {
		return ReportOutcome{}, err
	}

	count, err := m.reports.Count(ctx, roomID, reported)
	if err != nil {
		return ReportOutcome{}, err
	}
	quorum := domain.EvictionQuorum(len(room.Participants))
	out := ReportOutcome{Reports: count, Quorum: quorum}

	log.Info().Str("module", "app.moderation").
		Str("room", string(roomID)).Str("reported", string(reported)).
		Int("reports", count).Int("quorum", quorum).Msg("report submitted")

	if count < quorum {
		return out, nil
	}

	if err := m.users.Block(ctx, reported, now.Add(domain.BlockDuration)); err != nil {
		return ReportOutcome{}, err
	}
	// A racing leave makes the removal a NotFound no-op; the block already
	// stuck, so proceed with the teardown either way.
	emptied, err := m.rooms.RemoveParticipant(ctx, roomID, reported)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return ReportOutcome{}, err
	}
	m.notifier.OnEvicted(roomID, reported, emptied)

	log.Warn().Str("module", "app.moderation").
		Str("room", string(roomID)).Str("user", string(reported)).
		Time("blocked_until", now.Add(domain.BlockDuration)).Msg("participant evicted by quorum")

	out.Evicted = true
	return out, nil
}
