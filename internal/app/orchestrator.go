package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/core"
	"github.com/telemeet/huddle/internal/domain"
	"github.com/telemeet/huddle/internal/media"
	"github.com/telemeet/huddle/internal/store"
)

// Orchestrator ties room membership, the media layer and the live
// sessions together. Membership writes go through the store's
// transactions; this layer keeps routers, transports and notifications
// consistent with them.
type Orchestrator struct {
	Registry *Registry
	Rooms    *store.RoomStore
	Users    *store.UserStore
	Media    *media.Registry

	seqMu   sync.Mutex
	roomSeq map[domain.RoomID]*sync.Mutex
}

func NewOrchestrator(reg *Registry, rooms *store.RoomStore, users *store.UserStore, mediaReg *media.Registry) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Users:    users,
		Media:    mediaReg,
		roomSeq:  make(map[domain.RoomID]*sync.Mutex),
	}
}

// roomLock is the per-room sequencing point: events emitted under it are
// observed by every session in the room in emission order.
func (o *Orchestrator) roomLock(roomID domain.RoomID) *sync.Mutex {
	o.seqMu.Lock()
	defer o.seqMu.Unlock()
	mu, ok := o.roomSeq[roomID]
	if !ok {
		mu = &sync.Mutex{}
		o.roomSeq[roomID] = mu
	}
	return mu
}

// Broadcast delivers an event to every session in the room except the
// excluded one. Slow receivers are dropped, not waited on.
func (o *Orchestrator) Broadcast(roomID domain.RoomID, exclude core.SessionID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orchestrator").Msg("broadcast marshal")
		return
	}
	mu := o.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()
	for _, snap := range o.Registry.MembersOfRoom(roomID) {
		if snap.SID == exclude {
			continue
		}
		if err := snap.Session.Signal().TrySend(core.Frame(b)); err != nil {
			log.Warn().Err(err).Str("module", "app.orchestrator").Str("sid", string(snap.SID)).Msg("broadcast drop")
		}
	}
}

// AutoJoin assigns the user a room: an existing one with spare capacity,
// or a fresh one. Rooms vacated by the stale-membership cleanup get their
// notifications and router teardown here.
func (o *Orchestrator) AutoJoin(ctx context.Context, user *domain.User) (domain.Room, error) {
	room, vacated, err := o.Rooms.AutoJoin(ctx, user.OrgID, user.ID)
	if err != nil {
		return domain.Room{}, err
	}
	o.afterVacate(user, vacated)
	return room, nil
}

// Join attaches the user to a named room.
func (o *Orchestrator) Join(ctx context.Context, user *domain.User, roomID domain.RoomID) (domain.Room, error) {
	room, vacated, err := o.Rooms.Join(ctx, user.OrgID, user.ID, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	o.afterVacate(user, vacated)
	return room, nil
}

func (o *Orchestrator) afterVacate(user *domain.User, vacated []store.Vacated) {
	if len(vacated) == 0 {
		return
	}
	sid, sess, hasSession := o.Registry.SessionOfUser(user.ID)
	for _, v := range vacated {
		if hasSession {
			if prev, ok := o.Registry.RoomOf(sid); ok && prev == v.RoomID {
				if t := sess.DetachTransport(); t != nil {
					o.closeTransportCascade(v.RoomID, t)
				}
				o.Registry.ClearRoom(sid)
			}
		}
		o.Broadcast(v.RoomID, sid, participantLeftEvent(string(user.ID)))
		if v.Emptied {
			o.removeRouter(v.RoomID)
		}
	}
}

// LeaveUser serves the explicit leave operation. Media owned by the
// user's live session, if any, is torn down alongside the membership row.
func (o *Orchestrator) LeaveUser(ctx context.Context, userID domain.UserID) (domain.RoomID, error) {
	sid, sess, hasSession := o.Registry.SessionOfUser(userID)

	roomID, emptied, err := o.Rooms.Leave(ctx, userID)
	if err != nil {
		return "", err
	}
	if hasSession {
		if t := sess.DetachTransport(); t != nil {
			o.closeTransportCascade(roomID, t)
		}
		o.Registry.ClearRoom(sid)
	}
	o.Broadcast(roomID, sid, participantLeftEvent(string(userID)))
	if emptied {
		o.removeRouter(roomID)
	}
	return roomID, nil
}

// Disconnect releases everything a session owns: transport (cascading to
// its producers, its consumers, and remote consumers of its producers),
// room membership, and the router once the room empties. Steps that fail
// are logged and the remaining steps still run; calling it twice is
// harmless.
func (o *Orchestrator) Disconnect(ctx context.Context, sid core.SessionID) {
	sess, ok := o.Registry.Get(sid)
	if !ok {
		return
	}
	user := sess.User()
	roomID, _ := o.Registry.RoomOf(sid)

	if t := sess.DetachTransport(); t != nil {
		if roomID != "" {
			o.closeTransportCascade(roomID, t)
		} else {
			t.Close()
		}
	}

	// A reconnect binds a newer session for the same user before this
	// teardown runs. Membership then belongs to that session; the stale
	// exit must not pull the user out of the room it just joined.
	if curSid, _, ok := o.Registry.SessionOfUser(user.ID); ok && curSid != sid {
		log.Debug().Str("module", "app.orchestrator").Str("sid", string(sid)).Str("current", string(curSid)).Msg("disconnect: superseded by newer session, keeping membership")
	} else {
		leftRoom, emptied, err := o.Rooms.Leave(ctx, user.ID)
		switch {
		case err == nil:
			o.Broadcast(leftRoom, sid, participantLeftEvent(string(user.ID)))
			if emptied {
				o.removeRouter(leftRoom)
			}
		case apperr.KindOf(err) == apperr.KindNotFound:
			log.Debug().Str("module", "app.orchestrator").Str("sid", string(sid)).Msg("disconnect: no active room")
		default:
			log.Error().Err(err).Str("module", "app.orchestrator").Str("sid", string(sid)).Msg("disconnect: leave failed")
		}
	}

	o.Registry.Unbind(sid)
	log.Info().Str("module", "app.orchestrator").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("session torn down")
}

// OnEvicted reflects a moderation eviction into the live session state:
// the room hears about the block, the target's media is torn down so
// every remote consumer of their producers closes, and the router goes
// away with the room when it emptied.
func (o *Orchestrator) OnEvicted(roomID domain.RoomID, userID domain.UserID, roomEmptied bool) {
	o.Broadcast(roomID, "", userBlockedEvent(string(userID)))

	sid, sess, ok := o.Registry.SessionOfUser(userID)
	if ok {
		if cur, inRoom := o.Registry.RoomOf(sid); inRoom && cur == roomID {
			if t := sess.DetachTransport(); t != nil {
				o.closeTransportCascade(roomID, t)
			}
			o.Registry.ClearRoom(sid)
		}
	}
	if roomEmptied {
		o.removeRouter(roomID)
	}
}

// CloseSessionTransport releases a transport its session replaced on
// rejoin, cascading remote-consumer closes in the room it served.
func (o *Orchestrator) CloseSessionTransport(roomID domain.RoomID, t *media.Transport) {
	o.closeTransportCascade(roomID, t)
}

// BroadcastNewProducer tells every other participant about a fresh
// producer so they can decide to consume it.
func (o *Orchestrator) BroadcastNewProducer(roomID domain.RoomID, from core.SessionID, producerID string, userID domain.UserID) {
	o.Broadcast(roomID, from, newProducerEvent(producerID, string(userID)))
}

// SessionInRoom resolves a negotiation relay target: the participant's
// session, only when they are in the given room.
func (o *Orchestrator) SessionInRoom(roomID domain.RoomID, userID domain.UserID) (core.PeerSession, bool) {
	sid, sess, ok := o.Registry.SessionOfUser(userID)
	if !ok {
		return nil, false
	}
	if cur, inRoom := o.Registry.RoomOf(sid); !inRoom || cur != roomID {
		return nil, false
	}
	return sess, true
}

// ExistingParticipants builds the joining client's view of who is already
// in the room, annotated with their live producer ids.
func (o *Orchestrator) ExistingParticipants(ctx context.Context, room domain.Room, exclude domain.UserID) ([]core.ParticipantInfo, error) {
	out := make([]core.ParticipantInfo, 0, len(room.Participants))
	for _, pid := range room.Participants {
		if pid == exclude {
			continue
		}
		u, err := o.Users.Get(ctx, pid)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				log.Warn().Str("module", "app.orchestrator").Str("user", string(pid)).Msg("participant without user record")
				continue
			}
			return nil, err
		}
		info := core.ParticipantInfo{ID: string(u.ID), Name: u.Name, Email: u.Email}
		if sid, sess, ok := o.Registry.SessionOfUser(pid); ok {
			if cur, inRoom := o.Registry.RoomOf(sid); inRoom && cur == room.ID {
				if t := sess.Transport(); t != nil {
					info.ProducerIDs = t.ProducerIDs()
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// closeTransportCascade closes a transport and independently closes every
// consumer elsewhere that referenced one of its producers, notifying the
// owning participants.
func (o *Orchestrator) closeTransportCascade(roomID domain.RoomID, t *media.Transport) {
	producerIDs := t.Close()
	if len(producerIDs) == 0 {
		return
	}
	router, ok := o.Media.Get(string(roomID))
	if !ok {
		return
	}
	closed := router.CloseConsumersOf(producerIDs)
	if len(closed) == 0 {
		return
	}

	members := o.Registry.MembersOfRoom(roomID)
	for _, cc := range closed {
		for _, snap := range members {
			mt := snap.Session.Transport()
			if mt == nil || mt.ID() != cc.TransportID {
				continue
			}
			b, err := json.Marshal(consumerClosedEvent(cc.ConsumerID, cc.ProducerID))
			if err != nil {
				continue
			}
			if err := snap.Session.Signal().TrySend(core.Frame(b)); err != nil {
				log.Warn().Err(err).Str("module", "app.orchestrator").Str("sid", string(snap.SID)).Msg("consumerClosed drop")
			}
			break
		}
	}
}

func (o *Orchestrator) removeRouter(roomID domain.RoomID) {
	if err := o.Media.Remove(string(roomID)); err != nil {
		if errors.Is(err, media.ErrRouterBusy) {
			log.Warn().Str("module", "app.orchestrator").Str("room", string(roomID)).Msg("router still busy, skipping removal")
			return
		}
		log.Error().Err(err).Str("module", "app.orchestrator").Str("room", string(roomID)).Msg("router removal failed")
	}
	// The room is gone; drop its sequencing lock with it.
	o.seqMu.Lock()
	delete(o.roomSeq, roomID)
	o.seqMu.Unlock()
}
