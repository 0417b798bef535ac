package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"solana-signal-watch/internal/domain"
)

// DefaultAuthTimeout bounds the socket auth handshake.
const DefaultAuthTimeout = 5 * time.Second

// SocketConfig configures the socket transport variant.
type SocketConfig struct {
	// URL is the WebSocket endpoint.
	URL string
	// APIKey is sent in an auth frame after the dial; subscriptions are
	// rejected by the provider until the frame is acked.
	APIKey string
	// AuthTimeout bounds the wait for the auth ack.
	AuthTimeout time.Duration

	Conn connConfig
}

// SocketClient is the request/subscribe-over-socket variant. The provider
// requires an explicit auth frame before any subscribe call; inbound
// messages arriving before the ack are dropped, not buffered.
type SocketClient struct {
	cfg  SocketConfig
	core *wsConn
}

// NewSocket creates a socket transport. It does not connect.
func NewSocket(cfg SocketConfig, log zerolog.Logger) *SocketClient {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.Conn == (connConfig{}) {
		cfg.Conn = defaultConnConfig()
	}
	return &SocketClient{
		cfg:  cfg,
		core: newWSConn(cfg.Conn, log.With().Str("transport", "socket").Logger()),
	}
}

// Connect dials the endpoint and runs the authenticate-then-subscribe
// handshake. A rejected or timed-out handshake closes the connection and
// reports ErrAuthFailed.
func (s *SocketClient) Connect(ctx context.Context) error {
	s.core.state.Store(StateConnecting)

	if err := s.core.dial(ctx, s.cfg.URL); err != nil {
		s.core.state.Store(StateDisconnected)
		return err
	}

	s.core.state.Store(StateAuthenticating)
	s.core.start()

	if err := s.core.writeJSON(authRequest{Type: "auth", Key: s.cfg.APIKey}); err != nil {
		s.core.close()
		return fmt.Errorf("write auth frame: %w", err)
	}

	select {
	case err := <-s.core.authCh:
		if err != nil {
			s.core.close()
			return err
		}
	case <-time.After(s.cfg.AuthTimeout):
		s.core.close()
		return fmt.Errorf("%w: no ack within %s", ErrAuthFailed, s.cfg.AuthTimeout)
	case <-ctx.Done():
		s.core.close()
		return ctx.Err()
	}

	s.core.state.Store(StateSubscribed)
	return nil
}

func (s *SocketClient) Subscribe(ctx context.Context, address string) error {
	if !s.core.authed.Load() {
		return ErrAuthFailed
	}
	return s.core.subscribe(ctx, address)
}

func (s *SocketClient) Unsubscribe(ctx context.Context, address string) error {
	return s.core.unsubscribe(ctx, address)
}

func (s *SocketClient) Updates() <-chan domain.StreamUpdate { return s.core.updates }

func (s *SocketClient) Errors() <-chan error { return s.core.errs }

func (s *SocketClient) State() int32 { return s.core.state.Load() }

func (s *SocketClient) Close() error { return s.core.close() }
