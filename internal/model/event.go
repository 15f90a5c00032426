package model

import "time"

type EventType string

const (
	EventCreated       EventType = "created"
	EventPublished     EventType = "published"
	EventPublishFailed EventType = "publish_failed"
	EventProcessed     EventType = "processed"
	EventFailed        EventType = "failed"
	EventRejected      EventType = "rejected"
	EventRepublished   EventType = "republished"
	EventExpired       EventType = "expired"
)

func (t EventType) String() string { return string(t) }

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventPublished, EventPublishFailed, EventProcessed,
		EventFailed, EventRejected, EventRepublished, EventExpired:
		return true
	}
	return false
}

// OrderEvent is a lifecycle record streamed to Kafka and projected into ClickHouse.
type OrderEvent struct {
	OrderID string      `json:"order_id" db:"order_id"`
	Type    EventType   `json:"type"     db:"type"`
	Status  OrderStatus `json:"status"   db:"status"`
	Reason  string      `json:"reason,omitempty" db:"reason"`
	At      time.Time   `json:"at"       db:"at"`
}

func NewOrderEvent(o Order, t EventType, reason string) OrderEvent {
	return OrderEvent{
		OrderID: o.ID,
		Type:    t,
		Status:  o.Status,
		Reason:  reason,
		At:      time.Now().UTC(),
	}
}
