// Package core holds the session-facing contracts shared by the
// orchestration layer and the signaling adapter.
package core

import (
	"github.com/telemeet/huddle/internal/domain"
	"github.com/telemeet/huddle/internal/media"
)

// Frame is a marshaled outbound message.
type Frame []byte

// SessionID identifies one signaling connection.
type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PeerSession is what the registry stores and the orchestrator fans out
// to: the participant identity, the signaling endpoint, and the media
// transport once joinRoom created one.
type PeerSession interface {
	User() *domain.User
	Signal() SignalConnection
	Transport() *media.Transport

	// DetachTransport removes and returns the session's transport, nil
	// when none was created. Closing the returned transport is on the
	// caller; the session falls back to its pre-join state.
	DetachTransport() *media.Transport
}

// ParticipantInfo is the read-only view returned to a joining client for
// each participant already in the room.
type ParticipantInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	ProducerIDs []string `json:"producerIds,omitempty"`
}
