package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/orderflow/shared/jsoncodec"
	"github.com/eaglebank/orderflow/shared/utils"
)

// Event types
type EventType string

const (
	UserCreated  EventType = "USER_CREATED"
	OrderCreated EventType = "ORDER_CREATED"
)

var (
	ErrSerialization    = errors.New("events: malformed event body")
	ErrUnknownEventType = errors.New("events: unknown event type")
)

// DomainEvent is a fact about a user or order, immutable once published.
type DomainEvent interface {
	EventType() EventType
	// SubjectID is the id of the user or order the event is about.
	SubjectID() int
	// OccurredAt is the ISO-8601 timestamp set by the producer.
	OccurredAt() string
}

// UserCreatedEvent is published to user_events. UserID is nil when the
// producer left userId out, which is distinct from an explicit zero.
type UserCreatedEvent struct {
	Type      EventType       `json:"eventType"`
	UserID    *int            `json:"userId,omitempty"`
	UserEmail string          `json:"userEmail"`
	UserData  json.RawMessage `json:"userData"`
	Timestamp string          `json:"timestamp"`
}

func (e *UserCreatedEvent) EventType() EventType { return e.Type }
func (e *UserCreatedEvent) OccurredAt() string   { return e.Timestamp }

func (e *UserCreatedEvent) SubjectID() int {
	if e.UserID == nil {
		return 0
	}
	return *e.UserID
}

// OrderCreatedEvent is published to order_events.
type OrderCreatedEvent struct {
	Type      EventType       `json:"eventType"`
	OrderID   int             `json:"orderId"`
	UserID    int             `json:"userId"`
	OrderData json.RawMessage `json:"orderData"`
	Timestamp string          `json:"timestamp"`
}

func (e *OrderCreatedEvent) EventType() EventType { return e.Type }
func (e *OrderCreatedEvent) SubjectID() int       { return e.OrderID }
func (e *OrderCreatedEvent) OccurredAt() string   { return e.Timestamp }

// NewUserCreatedEvent snapshots user as the event payload.
func NewUserCreatedEvent(userID int, email string, user any, at time.Time) (*UserCreatedEvent, error) {
	data, err := jsoncodec.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("%w: user payload: %v", ErrSerialization, err)
	}
	return &UserCreatedEvent{
		Type:      UserCreated,
		UserID:    &userID,
		UserEmail: email,
		UserData:  data,
		Timestamp: utils.ISOTimestamp(at),
	}, nil
}

// NewOrderCreatedEvent snapshots order as the event payload.
func NewOrderCreatedEvent(orderID, userID int, order any, at time.Time) (*OrderCreatedEvent, error) {
	data, err := jsoncodec.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("%w: order payload: %v", ErrSerialization, err)
	}
	return &OrderCreatedEvent{
		Type:      OrderCreated,
		OrderID:   orderID,
		UserID:    userID,
		OrderData: data,
		Timestamp: utils.ISOTimestamp(at),
	}, nil
}

// Encode renders the wire form of an event.
func Encode(event DomainEvent) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", ErrSerialization)
	}
	switch event.EventType() {
	case UserCreated, OrderCreated:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, event.EventType())
	}
	body, err := jsoncodec.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return body, nil
}

// Decode parses a message body, dispatching on its eventType field.
func Decode(body []byte) (DomainEvent, error) {
	var envelope struct {
		EventType EventType `json:"eventType"`
	}
	if err := jsoncodec.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	var event DomainEvent
	switch envelope.EventType {
	case UserCreated:
		event = &UserCreatedEvent{}
	case OrderCreated:
		event = &OrderCreatedEvent{}
	case "":
		return nil, fmt.Errorf("%w: missing eventType", ErrSerialization)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, envelope.EventType)
	}
	if err := jsoncodec.Unmarshal(body, event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return event, nil
}
