package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/telemeet/huddle/internal/domain"
)

type ReportStore struct {
	db *sql.DB
}

func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

func (s *ReportStore) Create(ctx context.Context, r domain.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, reporter_id, reported_id, room_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.Reporter), string(r.Reported), string(r.RoomID),
		r.Reason, r.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// Count returns how many reports have accumulated against a participant in
// a room.
func (s *ReportStore) Count(ctx context.Context, roomID domain.RoomID, reported domain.UserID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reports WHERE room_id = ? AND reported_id = ?`,
		string(roomID), string(reported)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}
