package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/domain"
)

// UserStore covers the slice of the user record this service needs: the
// identity lookup behind authentication and the moderation block fields.
// The excluded CRUD collaborator owns everything else about users.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Get(ctx context.Context, id domain.UserID) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, email, is_blocked, blocked_until
		FROM users WHERE id = ?`, string(id))
	var u domain.User
	var blocked int
	var blockedUntil int64
	if err := row.Scan(&u.ID, &u.OrgID, &u.Name, &u.Email, &blocked, &blockedUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, apperr.New(apperr.KindNotFound, "USER_NOT_FOUND", "user not found")
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	u.IsBlocked = blocked != 0
	if blockedUntil > 0 {
		u.BlockedUntil = time.Unix(0, blockedUntil)
	}
	return u, nil
}

// Create exists for the CRUD collaborator's seed path and for tests.
func (s *UserStore) Create(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, org_id, name, email, is_blocked, blocked_until)
		VALUES (?, ?, ?, ?, 0, 0)`,
		string(u.ID), string(u.OrgID), u.Name, u.Email)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Block marks the user blocked until the given instant. Expiry is checked
// lazily at authentication, never swept.
func (s *UserStore) Block(ctx context.Context, id domain.UserID, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_blocked = 1, blocked_until = ? WHERE id = ?`,
		until.UnixNano(), string(id))
	if err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	return nil
}
