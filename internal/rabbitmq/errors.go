package rabbitmq

import "errors"

var (
	// ErrConnectivity means the broker could not be reached or a channel could not be opened.
	ErrConnectivity = errors.New("rabbitmq connectivity")
	// ErrTopologyConflict means an exchange or queue exists with different properties.
	// It points at a deployment mismatch and must stop the process.
	ErrTopologyConflict = errors.New("rabbitmq topology conflict")
	ErrPublish          = errors.New("rabbitmq publish")
	ErrBreakerOpen      = errors.New("publish breaker open")
	ErrClientClosed     = errors.New("rabbitmq client closed")
)
