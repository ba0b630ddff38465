// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const MaxNameLen = 64

var (
	ErrNameEmpty   = errors.New("name empty")
	ErrNameTooLong = errors.New("name too long")
)

type (
	UserID string
	OrgID  string
)

// User is the verified participant identity handed to the core by the
// excluded auth/CRUD collaborator. This layer only reads it and, through
// moderation, flips the block fields.
type User struct {
	ID           UserID
	OrgID        OrgID
	Name         string
	Email        string
	IsBlocked    bool
	BlockedUntil time.Time
}

func NewUser(id UserID, orgID OrgID, name, email string) (*User, error) {
	if len(name) == 0 {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	return &User{ID: id, OrgID: orgID, Name: name, Email: email}, nil
}

// BlockedAt reports whether a block is active at the given instant.
// Expired blocks count as cleared; nothing sweeps them, the check happens
// lazily at each authentication.
func (u *User) BlockedAt(now time.Time) bool {
	return u.IsBlocked && u.BlockedUntil.After(now)
}
