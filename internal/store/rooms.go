package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/domain"
)

// Vacated describes a room a participant was removed from during the
// defensive stale-membership cleanup that precedes every join.
type Vacated struct {
	RoomID  domain.RoomID
	Emptied bool
}

type RoomStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewRoomStore(db *sql.DB) *RoomStore {
	return &RoomStore{db: db, now: time.Now}
}

// ListAvailable returns the organization's active rooms with spare
// capacity, most recently created first.
func (s *RoomStore) ListAvailable(ctx context.Context, orgID domain.OrgID) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.org_id, r.name, r.created_by, r.is_active, r.max_participants, r.created_at
		FROM rooms r
		WHERE r.org_id = ? AND r.is_active = 1
		  AND (SELECT COUNT(*) FROM room_participants p WHERE p.room_id = r.id) < r.max_participants
		ORDER BY r.created_at DESC`, string(orgID))
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	for i := range out {
		if err := s.loadParticipants(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Get returns a room with its participants.
func (s *RoomStore) Get(ctx context.Context, roomID domain.RoomID) (domain.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, created_by, is_active, max_participants, created_at
		FROM rooms WHERE id = ?`, string(roomID))
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, apperr.New(apperr.KindNotFound, "ROOM_NOT_FOUND", "room not found")
		}
		return domain.Room{}, err
	}
	if err := s.loadParticipants(ctx, &room); err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

// AutoJoin removes the participant from any room they still occupy in the
// organization, then appends them to an active room with spare capacity,
// creating one when none exists. Cleanup, search and append are one
// transaction, so two concurrent calls can never push a room past
// capacity.
func (s *RoomStore) AutoJoin(ctx context.Context, orgID domain.OrgID, userID domain.UserID) (domain.Room, []Vacated, error) {
	var room domain.Room
	var vacated []Vacated
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if vacated, err = cleanupMembership(tx, orgID, userID, ""); err != nil {
			return err
		}

		roomID, found, err := findAvailable(tx, orgID)
		if err != nil {
			return err
		}
		if !found {
			if roomID, err = s.createRoom(tx, orgID, userID); err != nil {
				return err
			}
		}
		if err := s.addParticipant(tx, roomID, userID); err != nil {
			return err
		}
		room, err = getRoomTx(tx, roomID)
		return err
	})
	if err != nil {
		return domain.Room{}, nil, err
	}
	return room, vacated, nil
}

// Join is AutoJoin against a named room: same cleanup, then a conditional
// append that fails when the room is missing, inactive, foreign to the
// organization, or full.
func (s *RoomStore) Join(ctx context.Context, orgID domain.OrgID, userID domain.UserID, roomID domain.RoomID) (domain.Room, []Vacated, error) {
	var room domain.Room
	var vacated []Vacated
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if vacated, err = cleanupMembership(tx, orgID, userID, roomID); err != nil {
			return err
		}

		var active int
		var roomOrg string
		row := tx.QueryRow(`SELECT org_id, is_active FROM rooms WHERE id = ?`, string(roomID))
		if err := row.Scan(&roomOrg, &active); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.New(apperr.KindNotFound, "ROOM_NOT_FOUND", "room not found or full")
			}
			return fmt.Errorf("lookup room: %w", err)
		}
		if roomOrg != string(orgID) || active == 0 {
			return apperr.New(apperr.KindNotFound, "ROOM_NOT_FOUND", "room not found or full")
		}
		if err := s.addParticipant(tx, roomID, userID); err != nil {
			return err
		}
		room, err = getRoomTx(tx, roomID)
		return err
	})
	if err != nil {
		return domain.Room{}, nil, err
	}
	return room, vacated, nil
}

// Leave removes the participant from whichever room lists them and deletes
// the room in the same transaction when it empties. When they are in no
// room, it reports NO_ACTIVE_ROOM without touching anything.
func (s *RoomStore) Leave(ctx context.Context, userID domain.UserID) (domain.RoomID, bool, error) {
	var roomID domain.RoomID
	var emptied bool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var id string
		row := tx.QueryRow(`SELECT room_id FROM room_participants WHERE user_id = ? LIMIT 1`, string(userID))
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.New(apperr.KindNotFound, "NO_ACTIVE_ROOM", "no active room")
			}
			return fmt.Errorf("lookup membership: %w", err)
		}
		roomID = domain.RoomID(id)

		var err error
		emptied, err = removeParticipant(tx, roomID, userID)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return roomID, emptied, nil
}

// RemoveParticipant is the targeted removal used by moderation eviction.
func (s *RoomStore) RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	var emptied bool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		emptied, err = removeParticipant(tx, roomID, userID)
		return err
	})
	return emptied, err
}

func removeParticipant(tx *sql.Tx, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	res, err := tx.Exec(`DELETE FROM room_participants WHERE room_id = ? AND user_id = ?`,
		string(roomID), string(userID))
	if err != nil {
		return false, fmt.Errorf("remove participant: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, apperr.New(apperr.KindNotFound, "NOT_IN_ROOM", "participant not in room")
	}

	var remaining int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM room_participants WHERE room_id = ?`, string(roomID)).Scan(&remaining); err != nil {
		return false, fmt.Errorf("count participants: %w", err)
	}
	if remaining > 0 {
		return false, nil
	}
	if _, err := tx.Exec(`DELETE FROM rooms WHERE id = ?`, string(roomID)); err != nil {
		return false, fmt.Errorf("delete empty room: %w", err)
	}
	log.Info().Str("module", "store.rooms").Str("room", string(roomID)).Msg("deleted empty room")
	return true, nil
}

// cleanupMembership repairs stale membership from a prior session: the
// participant is pulled out of every room of the organization, and rooms
// that empty out are deleted. The room being re-joined, if any, is only
// vacated, never deleted: a participant alone in a room must be able to
// rejoin it by id.
func cleanupMembership(tx *sql.Tx, orgID domain.OrgID, userID domain.UserID, rejoining domain.RoomID) ([]Vacated, error) {
	rows, err := tx.Query(`
		SELECT p.room_id FROM room_participants p
		JOIN rooms r ON r.id = p.room_id
		WHERE p.user_id = ? AND r.org_id = ?`, string(userID), string(orgID))
	if err != nil {
		return nil, fmt.Errorf("find stale membership: %w", err)
	}
	var roomIDs []domain.RoomID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale membership: %w", err)
		}
		roomIDs = append(roomIDs, domain.RoomID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find stale membership: %w", err)
	}

	var vacated []Vacated
	for _, roomID := range roomIDs {
		if roomID == rejoining {
			_, err := tx.Exec(`DELETE FROM room_participants WHERE room_id = ? AND user_id = ?`,
				string(roomID), string(userID))
			if err != nil {
				return nil, fmt.Errorf("remove participant: %w", err)
			}
			continue
		}
		emptied, err := removeParticipant(tx, roomID, userID)
		if err != nil {
			return nil, err
		}
		vacated = append(vacated, Vacated{RoomID: roomID, Emptied: emptied})
	}
	return vacated, nil
}

// findAvailable picks one active room with spare capacity, oldest first.
func findAvailable(tx *sql.Tx, orgID domain.OrgID) (domain.RoomID, bool, error) {
	var id string
	row := tx.QueryRow(`
		SELECT r.id FROM rooms r
		WHERE r.org_id = ? AND r.is_active = 1
		  AND (SELECT COUNT(*) FROM room_participants p WHERE p.room_id = r.id) < r.max_participants
		ORDER BY r.created_at ASC LIMIT 1`, string(orgID))
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("find available room: %w", err)
	}
	return domain.RoomID(id), true, nil
}

func (s *RoomStore) createRoom(tx *sql.Tx, orgID domain.OrgID, creator domain.UserID) (domain.RoomID, error) {
	now := s.now()
	id := domain.RoomID(uuid.NewString())
	_, err := tx.Exec(`
		INSERT INTO rooms (id, org_id, name, created_by, is_active, max_participants, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		string(id), string(orgID), domain.NewRoomName(now), string(creator),
		domain.DefaultRoomCapacity, now.UnixNano())
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	log.Info().Str("module", "store.rooms").Str("room", string(id)).Str("org", string(orgID)).Msg("room created")
	return id, nil
}

// addParticipant appends only while the room is under capacity; the check
// and the insert are one statement inside the caller's transaction.
func (s *RoomStore) addParticipant(tx *sql.Tx, roomID domain.RoomID, userID domain.UserID) error {
	res, err := tx.Exec(`
		INSERT INTO room_participants (room_id, user_id, joined_at)
		SELECT ?, ?, ?
		WHERE (SELECT COUNT(*) FROM room_participants WHERE room_id = ?) <
		      (SELECT max_participants FROM rooms WHERE id = ?)`,
		string(roomID), string(userID), s.now().UnixNano(), string(roomID), string(roomID))
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.KindCapacity, "ROOM_FULL", "room is full")
	}
	return nil
}

func getRoomTx(tx *sql.Tx, roomID domain.RoomID) (domain.Room, error) {
	row := tx.QueryRow(`
		SELECT id, org_id, name, created_by, is_active, max_participants, created_at
		FROM rooms WHERE id = ?`, string(roomID))
	room, err := scanRoom(row)
	if err != nil {
		return domain.Room{}, fmt.Errorf("reload room: %w", err)
	}
	rows, err := tx.Query(`SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY joined_at ASC`, string(roomID))
	if err != nil {
		return domain.Room{}, fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.Room{}, fmt.Errorf("scan participant: %w", err)
		}
		room.Participants = append(room.Participants, domain.UserID(id))
	}
	return room, rows.Err()
}

func (s *RoomStore) loadParticipants(ctx context.Context, room *domain.Room) error {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY joined_at ASC`, string(room.ID))
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		room.Participants = append(room.Participants, domain.UserID(id))
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (domain.Room, error) {
	var room domain.Room
	var active int
	var createdAt int64
	if err := row.Scan(&room.ID, &room.OrgID, &room.Name, &room.CreatedBy, &active, &room.MaxParticipants, &createdAt); err != nil {
		return domain.Room{}, err
	}
	room.IsActive = active != 0
	room.CreatedAt = time.Unix(0, createdAt)
	return room, nil
}
