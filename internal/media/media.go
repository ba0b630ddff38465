// Package media owns the media-routing layer: a fixed pool of workers with
// disjoint port ranges, one router per active room, and the per-participant
// transport/producer/consumer lifecycle. Routers are exclusively owned by
// their worker, transports by their router and the owning session.
package media

import "errors"

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

var (
	ErrInvalidKind        = errors.New("invalid media kind")
	ErrTransportClosed    = errors.New("transport closed")
	ErrTransportConnected = errors.New("transport already connected")
	ErrNotConnected       = errors.New("transport not connected")
	ErrProducerExists     = errors.New("producer already exists for kind")
	// ErrProducerClosed covers the race between a newProducer notification
	// and the consume that follows it. Callers skip, they do not fail.
	ErrProducerClosed = errors.New("producer closed")
	ErrOwnProducer    = errors.New("cannot consume own producer")
	ErrRouterClosed   = errors.New("router closed")
	ErrRouterBusy     = errors.New("router has live transports")
)
