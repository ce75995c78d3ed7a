package feed

import (
	"context"

	"liqflow/internal/models"
)

// State is the lifecycle position of a single websocket connection attempt.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Connection is one websocket connection attempt to an exchange stream. Run
// performs exactly one connect/read cycle and returns when the stream ends
// for any reason; reconnection policy lives entirely in the supervisor, which
// constructs a fresh Connection per attempt.
type Connection interface {
	Run(ctx context.Context) error
	State() State
	Exchange() models.Exchange
}
