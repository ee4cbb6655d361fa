package models

import "github.com/eaglebank/orderflow/shared/events"

type User struct {
	ID         int    `json:"id"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Age        int    `json:"age,omitempty"`
	Department string `json:"department"`
	IsActive   bool   `json:"isActive"`
	CreatedAt  string `json:"createdAt"`
}

type Order struct {
	ID          int     `json:"id"`
	UserID      int     `json:"userId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	TotalAmount float64 `json:"totalAmount"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
}

// Order statuses
const (
	OrderStatusPending = "pending"
)

// DerivedStatusWelcomeOrder marks a user event the orders service has observed.
// No order is actually created for it.
const DerivedStatusWelcomeOrder = "welcome_order_created"

// ProcessedEventRecord is a consumed USER_CREATED event as the orders service
// recorded it. It serialises as the event's fields plus processedAt and
// derivedStatus.
type ProcessedEventRecord struct {
	events.UserCreatedEvent
	ProcessedAt   string `json:"processedAt"`
	DerivedStatus string `json:"derivedStatus"`
}
