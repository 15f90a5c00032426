package model

import "time"

type OrderStatus string

const (
	StatusPending   OrderStatus = "Pending"
	StatusProcessed OrderStatus = "Processed"
	StatusFailed    OrderStatus = "Failed"
)

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) Valid() bool {
	return s == StatusPending || s == StatusProcessed || s == StatusFailed
}

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// Order is the DB entity persisted in the orders table.
type Order struct {
	ID        string      `db:"id"`
	Item      string      `db:"item"`
	Quantity  int         `db:"quantity"`
	Status    OrderStatus `db:"status"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

// Dispatch builds the broker payload for o.
func (o Order) Dispatch() DispatchMessage {
	return DispatchMessage{
		OrderID:  o.ID,
		Item:     o.Item,
		Quantity: o.Quantity,
	}
}
