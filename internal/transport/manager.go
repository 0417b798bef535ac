package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"solana-signal-watch/internal/domain"
	"solana-signal-watch/internal/observability"
)

// Reconnect defaults.
const (
	DefaultReconnectBase     = 500 * time.Millisecond
	DefaultReconnectMax      = 30 * time.Second
	DefaultReconnectAttempts = 15
)

// ErrNoTransport reports a manager configured with neither variant.
var ErrNoTransport = errors.New("no transport configured")

// AddressProvider supplies the addresses that must be subscribed after a
// (re)connect. The monitor registry implements it.
type AddressProvider interface {
	Addresses() []string
}

// ManagerConfig configures transport selection and reconnection.
type ManagerConfig struct {
	Stream StreamConfig
	Socket SocketConfig

	// ReconnectBase is the initial backoff delay, doubling per attempt.
	ReconnectBase time.Duration
	// ReconnectMax caps the backoff delay.
	ReconnectMax time.Duration
	// ReconnectAttempts bounds consecutive failed attempts before the
	// manager gives up and enters degraded mode.
	ReconnectAttempts int
}

// Manager owns the active transport. It selects the stream variant when one
// is configured, falling back to the socket variant, and owns the whole
// reconnect cycle: every attempt builds a fresh transport instance, so
// listeners and in-flight auth waiters from the dead connection are
// discarded wholesale. After the attempt cap the manager stops scheduling
// attempts and reports degraded, leaving fallback polling as the only price
// source.
type Manager struct {
	cfg      ManagerConfig
	provider AddressProvider
	log      zerolog.Logger
	metrics  *observability.Metrics

	// newStream/newSocket build fresh instances per attempt. Tests swap
	// them for fakes.
	newStream func() Transport
	newSocket func() Transport

	// sleep waits between attempts; returns false when the manager stopped
	// during the wait. Tests swap it to record the schedule.
	sleep func(d time.Duration) bool

	mu      sync.Mutex
	current Transport

	updates  chan domain.StreamUpdate
	degraded atomic.Bool
	stopped  atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a manager. provider must not be nil; metrics may be.
func NewManager(cfg ManagerConfig, provider AddressProvider, metrics *observability.Metrics, log zerolog.Logger) *Manager {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}

	m := &Manager{
		cfg:      cfg,
		provider: provider,
		log:      log.With().Str("component", "transport").Logger(),
		metrics:  metrics,
		updates:  make(chan domain.StreamUpdate, 1024),
		done:     make(chan struct{}),
	}
	m.newStream = func() Transport { return NewStream(cfg.Stream, log) }
	m.newSocket = func() Transport { return NewSocket(cfg.Socket, log) }
	m.sleep = func(d time.Duration) bool {
		select {
		case <-time.After(d):
			return true
		case <-m.done:
			return false
		}
	}
	return m
}

// Start connects the preferred transport. A failed initial connect does not
// fail Start: the reconnect schedule takes over in the background.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.Stream.URL == "" && m.cfg.Socket.URL == "" {
		m.degraded.Store(true)
		return ErrNoTransport
	}

	t, err := m.connectOnce(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("initial connect failed, scheduling reconnect")
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.reconnectLoop()
		}()
		return nil
	}

	m.adopt(t)
	return nil
}

// connectOnce builds and connects one fresh transport, preferring the
// stream variant.
func (m *Manager) connectOnce(ctx context.Context) (Transport, error) {
	if m.cfg.Stream.URL != "" {
		t := m.newStream()
		err := t.Connect(ctx)
		if err == nil {
			return t, nil
		}
		if m.cfg.Socket.URL == "" {
			return nil, err
		}
		m.log.Warn().Err(err).Msg("stream connect failed, trying socket")
	}
	if m.cfg.Socket.URL != "" {
		t := m.newSocket()
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, ErrNoTransport
}

// adopt installs a connected transport and starts pumping its updates.
func (m *Manager) adopt(t Transport) {
	m.mu.Lock()
	m.current = t
	m.mu.Unlock()
	m.degraded.Store(false)
	if m.metrics != nil {
		m.metrics.TransportDegraded.Set(0)
	}
	m.log.Info().Str("state", stateString(t.State())).Msg("transport adopted")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pump(t)
	}()
}

// pump forwards one transport's updates until it dies, then hands control
// to the reconnect schedule.
func (m *Manager) pump(t Transport) {
	for {
		select {
		case <-m.done:
			return
		case update, ok := <-t.Updates():
			if !ok {
				if m.stopped.Load() {
					return
				}
				m.onTransportDead(t, errors.New("update channel closed"))
				return
			}
			select {
			case m.updates <- update:
			case <-m.done:
				return
			}
		case err := <-t.Errors():
			m.onTransportDead(t, err)
			return
		}
	}
}

func (m *Manager) onTransportDead(t Transport, cause error) {
	m.log.Warn().Err(cause).Msg("transport lost, scheduling reconnect")
	t.Close()
	m.mu.Lock()
	if m.current == t {
		m.current = nil
	}
	m.mu.Unlock()
	m.reconnectLoop()
}

// reconnectLoop retries with exponential backoff until a connect succeeds
// or the attempt cap is reached.
func (m *Manager) reconnectLoop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectBase
	bo.Multiplier = 2
	bo.MaxInterval = m.cfg.ReconnectMax
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; attempt <= m.cfg.ReconnectAttempts; attempt++ {
		delay := bo.NextBackOff()
		m.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
		if m.metrics != nil {
			m.metrics.ReconnectAttempts.Inc()
		}
		if !m.sleep(delay) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		t, err := m.connectOnce(ctx)
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		m.resubscribeAll(t)
		m.adopt(t)
		m.log.Info().Int("attempt", attempt).Msg("reconnected")
		return
	}

	m.degraded.Store(true)
	if m.metrics != nil {
		m.metrics.TransportDegraded.Set(1)
	}
	m.log.Error().Int("attempts", m.cfg.ReconnectAttempts).
		Msg("reconnect attempts exhausted, entering degraded mode")
}

// resubscribeAll subscribes every registered address on a fresh transport.
func (m *Manager) resubscribeAll(t Transport) {
	for _, address := range m.provider.Addresses() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := t.Subscribe(ctx, address)
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Str("address", address).Msg("resubscribe failed")
		}
	}
}

// Subscribe registers an address on the active transport. In degraded mode
// or between connections it fails with ErrNotConnected; the address is
// still picked up by the next successful reconnect via the provider.
func (m *Manager) Subscribe(ctx context.Context, address string) error {
	m.mu.Lock()
	t := m.current
	m.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.Subscribe(ctx, address)
}

// Unsubscribe removes an address from the active transport.
func (m *Manager) Unsubscribe(ctx context.Context, address string) error {
	m.mu.Lock()
	t := m.current
	m.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.Unsubscribe(ctx, address)
}

// Updates delivers normalized updates from whichever transport is live.
func (m *Manager) Updates() <-chan domain.StreamUpdate { return m.updates }

// Degraded reports whether the manager gave up reconnecting.
func (m *Manager) Degraded() bool { return m.degraded.Load() }

// Connected reports whether a live transport is installed.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Stop closes the active transport and stops all scheduled reconnect work.
// No updates are delivered after Stop returns.
func (m *Manager) Stop() {
	if m.stopped.Swap(true) {
		return
	}
	close(m.done)

	m.mu.Lock()
	t := m.current
	m.current = nil
	m.mu.Unlock()
	if t != nil {
		t.Close()
	}

	m.wg.Wait()
}
