// Package watch wires the pipeline together: transport updates flow through
// decoding and extraction into per-monitor candle, indicator and signal
// state, with a rate-limited REST fallback covering graduated, stale and
// degraded monitors.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"solana-signal-watch/internal/candles"
	"solana-signal-watch/internal/curve"
	"solana-signal-watch/internal/derive"
	"solana-signal-watch/internal/dex"
	"solana-signal-watch/internal/domain"
	"solana-signal-watch/internal/indicator"
	"solana-signal-watch/internal/monitor"
	"solana-signal-watch/internal/observability"
	"solana-signal-watch/internal/signal"
	"solana-signal-watch/internal/storage"
	"solana-signal-watch/internal/transport"
)

// Defaults for the service loop.
const (
	DefaultPollInterval = 15 * time.Second
	DefaultAlertBuffer  = 64
	// staleFactor times the poll interval without a stream update marks a
	// monitor as stale and eligible for fallback polling.
	staleFactor = 2
)

// StreamSource is the slice of the transport manager the service consumes.
type StreamSource interface {
	Start(ctx context.Context) error
	Updates() <-chan domain.StreamUpdate
	Subscribe(ctx context.Context, address string) error
	Unsubscribe(ctx context.Context, address string) error
	Degraded() bool
	Stop()
}

// QuoteSource is the slice of the fallback quote client the service
// consumes.
type QuoteSource interface {
	TokenPriceUSD(ctx context.Context, mint string) (float64, error)
	SolUSD(ctx context.Context) (float64, error)
	CachedSolUSD() (float64, bool)
}

// Config configures the watch service.
type Config struct {
	// Chain is the single supported chain tag, e.g. "solana".
	Chain string
	// CandleInterval is the candle bucket duration.
	CandleInterval time.Duration
	// MaxCandles caps per-monitor candle retention.
	MaxCandles int
	// PollInterval is the fallback polling cadence.
	PollInterval time.Duration
	// AlertBuffer is the per-subscriber alert channel capacity.
	AlertBuffer int
}

// Service is the watcher pipeline. All monitor state is mutated by the
// single dispatch goroutine: stream updates arrive there directly and
// fallback poll results are routed through the same channel, so no
// monitor's state is ever written concurrently.
type Service struct {
	cfg     Config
	log     zerolog.Logger
	metrics *observability.Metrics

	registry  *monitor.Registry
	deriver   *derive.Deriver
	extractor *dex.Extractor
	engine    *indicator.Engine
	stream    StreamSource
	quotes    QuoteSource
	sink      storage.CandleSink // optional

	// internal carries fallback poll results into the dispatch goroutine.
	internal chan domain.StreamUpdate

	subsMu sync.Mutex
	subs   []chan domain.AlertEvent

	active  atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Options carries the service dependencies. Sink and Metrics are optional.
type Options struct {
	Registry  *monitor.Registry
	Deriver   *derive.Deriver
	Extractor *dex.Extractor
	Engine    *indicator.Engine
	Stream    StreamSource
	Quotes    QuoteSource
	Sink      storage.CandleSink
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// NewService creates a watch service. Zero config fields fall back to
// defaults.
func NewService(cfg Config, opts Options) *Service {
	if cfg.Chain == "" {
		cfg.Chain = "solana"
	}
	if cfg.CandleInterval <= 0 {
		cfg.CandleInterval = candles.DefaultInterval
	}
	if cfg.MaxCandles <= 0 {
		cfg.MaxCandles = candles.DefaultMaxCandles
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AlertBuffer <= 0 {
		cfg.AlertBuffer = DefaultAlertBuffer
	}
	if opts.Engine == nil {
		opts.Engine = indicator.NewEngine(0, 0, 0)
	}
	if opts.Extractor == nil {
		opts.Extractor = dex.NewExtractor()
	}

	return &Service{
		cfg:       cfg,
		log:       opts.Logger.With().Str("component", "watch").Logger(),
		metrics:   opts.Metrics,
		registry:  opts.Registry,
		deriver:   opts.Deriver,
		extractor: opts.Extractor,
		engine:    opts.Engine,
		stream:    opts.Stream,
		quotes:    opts.Quotes,
		sink:      opts.Sink,
		internal:  make(chan domain.StreamUpdate, 256),
		done:      make(chan struct{}),
	}
}

// Start connects the transport and launches the dispatch and fallback
// polling loops.
func (s *Service) Start(ctx context.Context) error {
	if err := s.stream.Start(ctx); err != nil && !errors.Is(err, transport.ErrNoTransport) {
		return fmt.Errorf("start transport: %w", err)
	}
	s.active.Store(true)

	s.wg.Add(2)
	go s.dispatchLoop()
	go s.pollLoop()
	return nil
}

// Bootstrap registers a monitor for every call record, skipping records
// whose token identifier cannot be derived. Returns the number of monitors
// registered.
func (s *Service) Bootstrap(ctx context.Context, records []domain.CallRecord) int {
	added := 0
	for _, rec := range records {
		err := s.AddToken(ctx, rec.TokenAddress, rec.TokenSymbol, rec.Chain, rec.CallerName, rec.AlertTimestamp, rec.AlertPrice)
		if err != nil {
			s.log.Warn().Err(err).Str("token", rec.TokenAddress).Msg("bootstrap skip")
			continue
		}
		added++
	}
	s.log.Info().Int("monitors", added).Int("records", len(records)).Msg("bootstrap complete")
	return added
}

// AddToken derives the token's curve sub-address, registers a monitor and
// subscribes it on the transport. A derivation failure is surfaced and no
// monitor is created.
func (s *Service) AddToken(ctx context.Context, address, symbol, chain, caller string, alertTime int64, alertPrice float64) error {
	curveAddress, err := s.deriver.Derive(address)
	if err != nil {
		return fmt.Errorf("derive curve address for %s: %w", address, err)
	}

	rec := domain.CallRecord{
		TokenAddress:   address,
		TokenSymbol:    symbol,
		Chain:          chain,
		CallerName:     caller,
		AlertTimestamp: alertTime,
		AlertPrice:     alertPrice,
	}
	series := candles.NewSeries(s.cfg.CandleInterval, s.cfg.MaxCandles)
	if !s.registry.Add(monitor.NewTokenMonitor(rec, curveAddress, series)) {
		return nil
	}
	s.updateMonitorGauge()

	// Subscription failures are tolerated: the address is picked up by the
	// next reconnect through the registry.
	if err := s.stream.Subscribe(ctx, curveAddress); err != nil {
		s.log.Debug().Err(err).Str("token", address).Msg("subscribe deferred")
	}
	s.log.Info().Str("token", address).Str("curve", curveAddress).Str("caller", caller).Msg("monitor added")
	return nil
}

// RemoveMonitor drops a monitor and unsubscribes its curve address.
func (s *Service) RemoveMonitor(ctx context.Context, chain, address string) bool {
	m := s.registry.Remove(chain, address)
	if m == nil {
		return false
	}
	s.updateMonitorGauge()
	if m.CurveAddress != "" {
		if err := s.stream.Unsubscribe(ctx, m.CurveAddress); err != nil {
			s.log.Debug().Err(err).Str("token", address).Msg("unsubscribe failed")
		}
	}
	s.log.Info().Str("token", address).Msg("monitor removed")
	return true
}

// MonitorStatus reports a snapshot of every monitor.
func (s *Service) MonitorStatus() []monitor.Status {
	mons := s.registry.All()
	out := make([]monitor.Status, 0, len(mons))
	for _, m := range mons {
		out = append(out, m.Status())
	}
	return out
}

// ActiveMonitorCount returns the number of registered monitors.
func (s *Service) ActiveMonitorCount() int {
	return s.registry.Count()
}

// Subscribe returns a channel of emitted alerts. Emission never blocks: a
// subscriber that falls behind by more than the buffer loses alerts, with a
// warning.
func (s *Service) Subscribe() <-chan domain.AlertEvent {
	ch := make(chan domain.AlertEvent, s.cfg.AlertBuffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// Stop tears the service down: the transport closes, both loops exit, the
// registry empties and subscriber channels close. In-flight fallback
// results are discarded, not applied.
func (s *Service) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.active.Store(false)
	close(s.done)
	s.stream.Stop()
	s.wg.Wait()

	s.registry.Clear()
	s.updateMonitorGauge()

	s.subsMu.Lock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.subsMu.Unlock()
}

// dispatchLoop is the single mutator of monitor state.
func (s *Service) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case update, ok := <-s.stream.Updates():
			if !ok {
				return
			}
			s.handleUpdate(update)
		case update := <-s.internal:
			s.handleUpdate(update)
		}
	}
}

func (s *Service) handleUpdate(u domain.StreamUpdate) {
	switch u.Kind {
	case domain.UpdateAccount:
		s.countUpdate("account")
		s.handleAccount(u)
	case domain.UpdateTransaction:
		s.countUpdate("transaction")
		s.handleTransaction(u)
	case domain.UpdatePrice:
		s.countUpdate("price")
		s.handlePrice(u)
	}
}

func (s *Service) countUpdate(kind string) {
	if s.metrics != nil {
		s.metrics.UpdatesReceived.WithLabelValues(kind).Inc()
	}
}

// handleAccount decodes a bonding-curve account update into a price tick.
func (s *Service) handleAccount(u domain.StreamUpdate) {
	m := s.monitorForCurve(u.Account)
	if m == nil {
		return
	}

	state, err := curve.Decode(u.AccountData)
	if err != nil {
		if s.metrics != nil {
			s.metrics.DecodeFailures.Inc()
		}
		s.log.Debug().Err(err).Str("token", m.TokenAddress).Msg("account decode failed")
		return
	}

	if state.Complete {
		m.Lock()
		graduated := m.Graduated
		m.Graduated = true
		m.Unlock()
		if !graduated {
			s.log.Info().Str("token", m.TokenAddress).Msg("bonding curve complete, switching to swaps and fallback quotes")
		}
		return
	}

	solPrice, err := state.Price()
	if err != nil {
		if s.metrics != nil {
			s.metrics.DecodeFailures.Inc()
		}
		return
	}
	usd, ok := s.toUSD(solPrice)
	if !ok {
		return
	}
	s.applyPrice(m, usd, 0, u.Timestamp)
}

// handleTransaction extracts a swap from transaction logs into a price tick.
func (s *Service) handleTransaction(u domain.StreamUpdate) {
	if u.Transaction == nil {
		return
	}
	ext, err := s.extractor.Extract(u.Transaction)
	if err != nil {
		s.log.Debug().Err(err).Str("signature", u.Transaction.Signature).Msg("swap extraction failed")
		return
	}
	if ext.NewMint != "" {
		// Token creation is observed, never acted on: the registry stays
		// the sole authority for monitor lifetime.
		s.log.Debug().Str("mint", ext.NewMint).Msg("token created")
	}
	if ext.Swap == nil {
		return
	}

	m := s.registry.Get(s.cfg.Chain, ext.Swap.Mint)
	if m == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.SwapsExtracted.WithLabelValues(ext.Swap.Side).Inc()
	}

	usd, ok := s.toUSD(ext.Swap.Price)
	if !ok {
		return
	}
	ts := ext.Swap.Timestamp
	if ts == 0 {
		ts = u.Timestamp
	}
	s.applyPrice(m, usd, ext.Swap.TokenAmount(), ts)
}

// handlePrice applies a pre-normalized price tick (fallback poll results
// and transports that deliver prices directly).
func (s *Service) handlePrice(u domain.StreamUpdate) {
	if u.Price == nil {
		return
	}
	m := s.registry.Get(s.cfg.Chain, u.Price.Address)
	if m == nil {
		m = s.monitorForCurve(u.Price.Address)
	}
	if m == nil {
		return
	}
	s.applyPrice(m, u.Price.Price, 0, u.Price.Timestamp)
}

// monitorForCurve resolves a derived curve address back to its monitor,
// via the reverse derivation cache when the registry lookup misses.
func (s *Service) monitorForCurve(curveAddress string) *monitor.TokenMonitor {
	if m := s.registry.ByCurveAddress(curveAddress); m != nil {
		return m
	}
	if token, ok := s.deriver.TokenFor(curveAddress); ok {
		return s.registry.Get(s.cfg.Chain, token)
	}
	return nil
}

// toUSD converts a SOL-denominated price using the cached SOL-USD rate.
// Without a cached rate the tick is skipped; the poll loop refreshes it.
func (s *Service) toUSD(solPrice float64) (float64, bool) {
	rate, ok := s.quotes.CachedSolUSD()
	if !ok {
		s.log.Debug().Msg("no cached sol rate, skipping tick")
		return 0, false
	}
	return solPrice * rate, true
}

// applyPrice runs one price tick through candles, indicators and the
// signal state machine.
func (s *Service) applyPrice(m *monitor.TokenMonitor, price, volume float64, ts int64) {
	if price <= 0 {
		return
	}
	m.Lock()
	defer m.Unlock()
	m.LastPrice = price
	m.LastUpdate = ts

	rolled := m.Series.Apply(price, volume, ts)
	if rolled {
		if s.metrics != nil {
			s.metrics.CandlesClosed.Inc()
		}
		if s.sink != nil {
			if closed := m.Series.Closed(); closed != nil {
				s.persistCandle(m.TokenAddress, *closed)
			}
		}
	}

	err := s.engine.Recompute(m.Series.Candles, m.Series.Indicators)
	if err != nil {
		if !errors.Is(err, indicator.ErrInsufficientHistory) {
			s.log.Error().Err(err).Str("token", m.TokenAddress).Msg("indicator recompute failed")
		}
		return
	}

	n := len(m.Series.Indicators)
	if n < 2 {
		return
	}
	alert := signal.Evaluate(&m.Signal, m.Series.Indicators[n-2], m.Series.Indicators[n-1], price, ts)
	if alert == nil {
		return
	}
	alert.TokenAddress = m.TokenAddress
	alert.TokenSymbol = m.TokenSymbol
	alert.Chain = m.Chain
	s.emit(*alert)
}

// emit fans an alert out to subscribers without ever blocking the dispatch
// goroutine.
func (s *Service) emit(alert domain.AlertEvent) {
	s.log.Info().
		Str("type", alert.Type).
		Str("reason", alert.Reason).
		Str("token", alert.TokenAddress).
		Float64("price", alert.Price).
		Msg("alert emitted")
	if s.metrics != nil {
		s.metrics.AlertsEmitted.WithLabelValues(alert.Type).Inc()
	}
	if s.sink != nil {
		s.persistAlert(alert)
	}

	s.subsMu.Lock()
	subs := s.subs
	s.subsMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- alert:
		default:
			if s.metrics != nil {
				s.metrics.AlertsDropped.Inc()
			}
			s.log.Warn().Str("token", alert.TokenAddress).Msg("subscriber buffer full, alert dropped")
		}
	}
}

func (s *Service) persistCandle(tokenAddress string, c domain.Candle) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sink.WriteCandle(ctx, tokenAddress, c); err != nil {
			s.log.Warn().Err(err).Str("token", tokenAddress).Msg("candle write failed")
		}
	}()
}

func (s *Service) persistAlert(alert domain.AlertEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sink.WriteAlert(ctx, alert); err != nil {
			s.log.Warn().Err(err).Str("token", alert.TokenAddress).Msg("alert write failed")
		}
	}()
}

// pollLoop refreshes the SOL-USD cache and polls fallback quotes for
// monitors the stream cannot price: graduated tokens, stale monitors, and
// everything while the transport is degraded.
func (s *Service) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *Service) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PollInterval)
	defer cancel()

	if _, err := s.quotes.SolUSD(ctx); err != nil {
		s.log.Debug().Err(err).Msg("sol rate refresh failed")
	}

	degraded := s.stream.Degraded()
	now := time.Now().UnixMilli()
	staleAfter := staleFactor * s.cfg.PollInterval.Milliseconds()

	for _, m := range s.registry.All() {
		st := m.Status()
		if !degraded && !st.Graduated && st.LastUpdate != 0 && now-st.LastUpdate < staleAfter {
			continue
		}

		price, err := s.quotes.TokenPriceUSD(ctx, m.TokenAddress)
		if err != nil {
			if s.metrics != nil {
				s.metrics.QuoteRequests.WithLabelValues("miss").Inc()
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.QuoteRequests.WithLabelValues("ok").Inc()
		}

		// A result that lands after Stop is discarded, never applied.
		if !s.active.Load() {
			return
		}
		update := domain.StreamUpdate{
			Kind:      domain.UpdatePrice,
			Price:     &domain.PriceUpdate{Address: m.TokenAddress, Price: price, Timestamp: now},
			Timestamp: now,
		}
		select {
		case s.internal <- update:
		case <-s.done:
			return
		}
	}
}

func (s *Service) updateMonitorGauge() {
	if s.metrics != nil {
		s.metrics.ActiveMonitors.Set(float64(s.registry.Count()))
	}
}
