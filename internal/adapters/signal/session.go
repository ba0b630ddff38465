package signal

import (
	"sync"

	"github.com/telemeet/huddle/internal/core"
	"github.com/telemeet/huddle/internal/domain"
	"github.com/telemeet/huddle/internal/media"
)

// State is the protocol position of one signaling connection.
type State int

const (
	StateAuthenticated State = iota
	StateRoomPending
	StateTransportReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRoomPending:
		return "roomPending"
	case StateTransportReady:
		return "transportReady"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the per-connection state the registry holds on to: the
// verified participant, their signaling endpoint, and the media transport
// once joinRoom created one.
type Session struct {
	sid  core.SessionID
	user *domain.User
	conn *WsSignalConn

	mu        sync.Mutex
	state     State
	roomID    domain.RoomID
	transport *media.Transport
}

func NewSession(sid core.SessionID, user *domain.User, conn *WsSignalConn) *Session {
	return &Session{sid: sid, user: user, conn: conn, state: StateAuthenticated}
}

func (s *Session) SID() core.SessionID           { return s.sid }
func (s *Session) User() *domain.User            { return s.user }
func (s *Session) Signal() core.SignalConnection { return s.conn }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RoomID() domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Transport() *media.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// AttachTransport records a freshly created transport after a join and
// moves the state machine to RoomPending.
func (s *Session) AttachTransport(roomID domain.RoomID, t *media.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.transport = t
	s.state = StateRoomPending
}

// MarkConnected advances RoomPending to TransportReady once the DTLS
// handshake completed.
func (s *Session) MarkConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRoomPending {
		s.state = StateTransportReady
	}
}

// DetachTransport removes and returns the transport, nil when none exists.
// The session drops back to its pre-join state; the caller owns closing
// the returned transport.
func (s *Session) DetachTransport() *media.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transport
	s.transport = nil
	s.roomID = ""
	if s.state != StateClosed {
		s.state = StateAuthenticated
	}
	return t
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}
