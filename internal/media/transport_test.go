package media

import (
	"errors"
	"testing"
)

// forceConnected stands in for the ICE/DTLS handshake, which needs a live
// remote peer; the producer and consumer bookkeeping is what these tests
// exercise.
func forceConnected(t *Transport) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	return newTestRegistry(t).GetOrCreate("room-1")
}

func TestTransportParams(t *testing.T) {
	router := newTestRouter(t)
	transport, err := router.CreateTransport()
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	defer transport.Close()

	params, err := transport.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.ID != transport.ID() {
		t.Errorf("params id = %q, want %q", params.ID, transport.ID())
	}
	if len(params.DTLSParameters.Fingerprints) == 0 {
		t.Error("params missing DTLS fingerprints")
	}
	if params.ICEParameters.UsernameFragment == "" {
		t.Error("params missing ICE username fragment")
	}
	if params.MaxMessageSize != maxMessageSize {
		t.Errorf("max message size = %d", params.MaxMessageSize)
	}
	if len(params.RouterRTPCapabilities) != 2 {
		t.Errorf("router capabilities = %d codecs", len(params.RouterRTPCapabilities))
	}
}

func TestProduceSequencing(t *testing.T) {
	router := newTestRouter(t)
	transport, err := router.CreateTransport()
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	defer transport.Close()

	if _, err := transport.Produce(KindVideo, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("produce before connect: got %v, want ErrNotConnected", err)
	}
	forceConnected(transport)

	if _, err := transport.Produce("screenshare", nil); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("produce unknown kind: got %v, want ErrInvalidKind", err)
	}
	if _, err := transport.Produce(KindVideo, nil); err != nil {
		t.Fatalf("produce video: %v", err)
	}
	if _, err := transport.Produce(KindVideo, nil); !errors.Is(err, ErrProducerExists) {
		t.Fatalf("second video producer: got %v, want ErrProducerExists", err)
	}
	if _, err := transport.Produce(KindAudio, nil); err != nil {
		t.Fatalf("produce audio: %v", err)
	}
	if ids := transport.ProducerIDs(); len(ids) != 2 {
		t.Errorf("producer ids = %v", ids)
	}
}

func TestConsumeRaces(t *testing.T) {
	router := newTestRouter(t)
	producerSide, err := router.CreateTransport()
	if err != nil {
		t.Fatalf("create producer transport: %v", err)
	}
	defer producerSide.Close()
	consumerSide, err := router.CreateTransport()
	if err != nil {
		t.Fatalf("create consumer transport: %v", err)
	}
	defer consumerSide.Close()
	forceConnected(producerSide)
	forceConnected(consumerSide)

	producer, err := producerSide.Produce(KindVideo, nil)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}

	if _, err := producerSide.Consume(producer.ID, nil); !errors.Is(err, ErrOwnProducer) {
		t.Fatalf("consuming own producer: got %v, want ErrOwnProducer", err)
	}
	consumer, err := consumerSide.Consume(producer.ID, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumer.ProducerID != producer.ID || consumer.Kind != KindVideo {
		t.Errorf("consumer = %+v", consumer)
	}

	// The producer closing first is a soft failure, not a crash.
	if _, err := consumerSide.Consume("gone-producer", nil); !errors.Is(err, ErrProducerClosed) {
		t.Fatalf("consuming vanished producer: got %v, want ErrProducerClosed", err)
	}
}

func TestCloseCascade(t *testing.T) {
	router := newTestRouter(t)
	producerSide, err := router.CreateTransport()
	if err != nil {
		t.Fatalf("create producer transport: %v", err)
	}
	consumerSide, err := router.CreateTransport()
	if err != nil {
		t.Fatalf("create consumer transport: %v", err)
	}
	defer consumerSide.Close()
	forceConnected(producerSide)
	forceConnected(consumerSide)

	producer, err := producerSide.Produce(KindAudio, nil)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	consumer, err := consumerSide.Consume(producer.ID, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	// Closing the producing transport reports its live producers; the
	// remote consumer referencing them is then independently closed while
	// the consuming transport itself stays open.
	gone := producerSide.Close()
	if len(gone) != 1 || gone[0] != producer.ID {
		t.Fatalf("close reported producers %v, want [%s]", gone, producer.ID)
	}
	closed := router.CloseConsumersOf(gone)
	if len(closed) != 1 {
		t.Fatalf("closed consumers = %v", closed)
	}
	if closed[0].TransportID != consumerSide.ID() || closed[0].ConsumerID != consumer.ID {
		t.Errorf("closed = %+v", closed[0])
	}
	if _, ok := router.lookupProducer(producer.ID); ok {
		t.Error("closed producer still resolvable in the arena")
	}

	if gone := producerSide.Close(); gone != nil {
		t.Errorf("second close reported producers %v, want none", gone)
	}
	remote, err := consumerSide.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if err := producerSide.Connect(remote.ICEParameters, remote.DTLSParameters); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("connect after close: got %v, want ErrTransportClosed", err)
	}
}
