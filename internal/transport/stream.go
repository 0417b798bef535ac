package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"solana-signal-watch/internal/domain"
)

// StreamConfig configures the streaming transport variant.
type StreamConfig struct {
	// URL is the WebSocket endpoint.
	URL string
	// APIKey is embedded in the URL query; the stream variant has no auth
	// frame.
	APIKey string

	Conn connConfig
}

// StreamClient is the high-throughput streaming variant. Credentials travel
// in the URL, so the connection is usable immediately after the dial.
type StreamClient struct {
	cfg  StreamConfig
	core *wsConn
}

// NewStream creates a streaming transport. It does not connect.
func NewStream(cfg StreamConfig, log zerolog.Logger) *StreamClient {
	if cfg.Conn == (connConfig{}) {
		cfg.Conn = defaultConnConfig()
	}
	return &StreamClient{
		cfg:  cfg,
		core: newWSConn(cfg.Conn, log.With().Str("transport", "stream").Logger()),
	}
}

// Connect dials the endpoint with the API key in the query string.
func (s *StreamClient) Connect(ctx context.Context) error {
	s.core.state.Store(StateConnecting)

	endpoint, err := streamEndpoint(s.cfg.URL, s.cfg.APIKey)
	if err != nil {
		s.core.state.Store(StateDisconnected)
		return err
	}
	if err := s.core.dial(ctx, endpoint); err != nil {
		s.core.state.Store(StateDisconnected)
		return err
	}

	// No handshake: the key in the URL is the whole auth story.
	s.core.authed.Store(true)
	s.core.start()
	s.core.state.Store(StateSubscribed)
	return nil
}

func streamEndpoint(raw, apiKey string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("api-key", apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *StreamClient) Subscribe(ctx context.Context, address string) error {
	return s.core.subscribe(ctx, address)
}

func (s *StreamClient) Unsubscribe(ctx context.Context, address string) error {
	return s.core.unsubscribe(ctx, address)
}

func (s *StreamClient) Updates() <-chan domain.StreamUpdate { return s.core.updates }

func (s *StreamClient) Errors() <-chan error { return s.core.errs }

func (s *StreamClient) State() int32 { return s.core.state.Load() }

func (s *StreamClient) Close() error { return s.core.close() }
