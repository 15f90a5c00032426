package model

// DispatchMessage is the payload published to the orders exchange.
// It carries no status: the worker derives the outcome from its own processing.
type DispatchMessage struct {
	OrderID  string `json:"orderId"`
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}
