package app

// Outbound room events. Within one room all sessions observe these in the
// order the server emits them; no ordering holds across rooms.

type NewProducerEvent struct {
	Type       string `json:"type"`
	ProducerID string `json:"producerId"`
	UserID     string `json:"userId"`
}

func newProducerEvent(producerID, userID string) NewProducerEvent {
	return NewProducerEvent{Type: "newProducer", ProducerID: producerID, UserID: userID}
}

type ParticipantLeftEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

func participantLeftEvent(userID string) ParticipantLeftEvent {
	return ParticipantLeftEvent{Type: "participantLeft", UserID: userID}
}

type UserBlockedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

func userBlockedEvent(userID string) UserBlockedEvent {
	return UserBlockedEvent{Type: "userBlocked", UserID: userID}
}

type ConsumerClosedEvent struct {
	Type       string `json:"type"`
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
}

func consumerClosedEvent(consumerID, producerID string) ConsumerClosedEvent {
	return ConsumerClosedEvent{Type: "consumerClosed", ConsumerID: consumerID, ProducerID: producerID}
}
