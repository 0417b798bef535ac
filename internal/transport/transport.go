// Package transport connects to an upstream streaming provider and
// normalizes its wire messages into domain.StreamUpdate values. Two
// interchangeable variants exist: a streaming endpoint that authenticates
// through the URL, and a socket endpoint that requires an explicit auth
// handshake. The Manager selects between them and owns reconnection.
package transport

import (
	"context"
	"errors"

	"solana-signal-watch/internal/domain"
)

// Connection lifecycle states.
const (
	StateDisconnected int32 = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
)

var (
	// ErrAuthFailed reports a rejected or timed-out auth handshake.
	ErrAuthFailed = errors.New("transport auth failed")
	// ErrNotConnected reports an operation attempted without a live connection.
	ErrNotConnected = errors.New("transport not connected")
	// ErrClosed reports an operation on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrSubscribeTimeout reports a subscription that was never confirmed.
	ErrSubscribeTimeout = errors.New("subscription confirmation timeout")
)

// Transport is a single connection to the streaming provider. Instances are
// single-use: after a terminal error the owner discards the instance and
// builds a fresh one, which resets all subscription and auth state.
type Transport interface {
	// Connect dials the provider and completes any auth handshake.
	Connect(ctx context.Context) error

	// Subscribe registers interest in account updates and transactions for
	// the given address. Blocks until the provider confirms.
	Subscribe(ctx context.Context, address string) error

	// Unsubscribe removes interest in the address. Best effort.
	Unsubscribe(ctx context.Context, address string) error

	// Updates delivers normalized stream updates.
	Updates() <-chan domain.StreamUpdate

	// Errors delivers terminal connection errors. The owner reacts by
	// discarding the instance.
	Errors() <-chan error

	// State reports the current lifecycle state.
	State() int32

	// Close tears the connection down. Idempotent.
	Close() error
}

func stateString(s int32) string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}
