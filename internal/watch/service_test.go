package watch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"solana-signal-watch/internal/derive"
	"solana-signal-watch/internal/dex"
	"solana-signal-watch/internal/domain"
	"solana-signal-watch/internal/indicator"
	"solana-signal-watch/internal/monitor"
)

var testMint = base58.Encode(make([]byte, 32))

type stubStream struct {
	updates chan domain.StreamUpdate

	mu       sync.Mutex
	subs     []string
	unsubs   []string
	degraded bool
	stopped  bool
}

// newStubStream uses an unbuffered channel so a send returns only once the
// dispatch goroutine picked the update up, which makes tests deterministic.
func newStubStream() *stubStream {
	return &stubStream{updates: make(chan domain.StreamUpdate)}
}

func (f *stubStream) Start(context.Context) error { return nil }

func (f *stubStream) Updates() <-chan domain.StreamUpdate { return f.updates }

func (f *stubStream) Subscribe(_ context.Context, address string) error {
	f.mu.Lock()
	f.subs = append(f.subs, address)
	f.mu.Unlock()
	return nil
}

func (f *stubStream) Unsubscribe(_ context.Context, address string) error {
	f.mu.Lock()
	f.unsubs = append(f.unsubs, address)
	f.mu.Unlock()
	return nil
}

func (f *stubStream) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *stubStream) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type stubQuotes struct {
	mu     sync.Mutex
	sol    float64
	prices map[string]float64
}

func (q *stubQuotes) TokenPriceUSD(_ context.Context, mint string) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	price, ok := q.prices[mint]
	if !ok {
		return 0, errors.New("no quote")
	}
	return price, nil
}

func (q *stubQuotes) SolUSD(context.Context) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sol, nil
}

func (q *stubQuotes) CachedSolUSD() (float64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sol, q.sol > 0
}

func newTestService(t *testing.T, stream *stubStream, quotes *stubQuotes) *Service {
	t.Helper()
	deriver, err := derive.NewDeriver(dex.PumpFun, derive.DefaultSeedPrefix)
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}
	return NewService(
		Config{
			Chain:          "solana",
			CandleInterval: time.Minute,
			MaxCandles:     120,
			PollInterval:   time.Hour, // polling disabled unless a test wants it
		},
		Options{
			Registry: monitor.NewRegistry(zerolog.Nop()),
			Deriver:  deriver,
			Engine:   indicator.NewEngine(2, 3, 3),
			Stream:   stream,
			Quotes:   quotes,
			Logger:   zerolog.Nop(),
		},
	)
}

// curveAccount builds a bonding-curve account payload.
func curveAccount(virtualTok, virtualSol uint64, complete bool) []byte {
	buf := make([]byte, 49)
	binary.LittleEndian.PutUint64(buf[8:], virtualTok)
	binary.LittleEndian.PutUint64(buf[16:], virtualSol)
	if complete {
		buf[48] = 1
	}
	return buf
}

func TestService_AddTokenDerivationFailure(t *testing.T) {
	s := newTestService(t, newStubStream(), &stubQuotes{sol: 100})

	err := s.AddToken(context.Background(), "not-a-mint!", "BAD", "solana", "caller", 0, 0)
	if err == nil {
		t.Fatal("expected derivation error")
	}
	if s.ActiveMonitorCount() != 0 {
		t.Error("failed AddToken must not create a monitor")
	}
}

func TestService_AddTokenSubscribesCurveAddress(t *testing.T) {
	stream := newStubStream()
	s := newTestService(t, stream, &stubQuotes{sol: 100})

	if err := s.AddToken(context.Background(), testMint, "TST", "solana", "caller", 0, 0.01); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	if s.ActiveMonitorCount() != 1 {
		t.Fatalf("monitors = %d, want 1", s.ActiveMonitorCount())
	}

	status := s.MonitorStatus()
	if len(status) != 1 || status[0].CurveAddress == "" {
		t.Fatalf("status = %+v", status)
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.subs) != 1 || stream.subs[0] != status[0].CurveAddress {
		t.Errorf("subscribed %v, want the derived curve address %s", stream.subs, status[0].CurveAddress)
	}
}

func TestService_AccountUpdateSetsPrice(t *testing.T) {
	stream := newStubStream()
	s := newTestService(t, stream, &stubQuotes{sol: 100})
	ctx := context.Background()

	if err := s.AddToken(ctx, testMint, "TST", "solana", "caller", 0, 0); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	mon := s.MonitorStatus()[0]

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 30 virtual SOL against 100M virtual tokens: 3e-7 SOL/token, 3e-5 USD
	// at a 100 USD SOL rate.
	stream.updates <- domain.StreamUpdate{
		Kind:        domain.UpdateAccount,
		Account:     mon.CurveAddress,
		AccountData: curveAccount(100_000_000_000_000, 30_000_000_000, false),
		Timestamp:   time.Now().UnixMilli(),
	}
	target := s.registry.Get("solana", testMint)
	s.Stop()

	if got := target.LastPrice; got < 2.9e-5 || got > 3.1e-5 {
		t.Errorf("LastPrice = %v, want ~3e-5", got)
	}
	if target.Series.Len() != 1 {
		t.Errorf("candles = %d, want 1", target.Series.Len())
	}
}

func TestService_CompletedCurveMarksGraduated(t *testing.T) {
	stream := newStubStream()
	s := newTestService(t, stream, &stubQuotes{sol: 100})
	ctx := context.Background()

	if err := s.AddToken(ctx, testMint, "TST", "solana", "caller", 0, 0); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	mon := s.MonitorStatus()[0]

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.updates <- domain.StreamUpdate{
		Kind:        domain.UpdateAccount,
		Account:     mon.CurveAddress,
		AccountData: curveAccount(1, 1, true),
		Timestamp:   time.Now().UnixMilli(),
	}
	target := s.registry.Get("solana", testMint)
	s.Stop()

	if !target.Graduated {
		t.Error("completed curve must mark the monitor graduated")
	}
	if target.LastPrice != 0 {
		t.Error("completed curve must not produce a price")
	}
}

func TestService_SwapTransactionSetsPrice(t *testing.T) {
	stream := newStubStream()
	s := newTestService(t, stream, &stubQuotes{sol: 100})
	ctx := context.Background()

	if err := s.AddToken(ctx, testMint, "TST", "solana", "caller", 0, 0); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 0.5 SOL for 1M tokens: 5e-7 SOL/token, 5e-5 USD.
	stream.updates <- domain.StreamUpdate{
		Kind: domain.UpdateTransaction,
		Transaction: &domain.TransactionUpdate{
			Signature: "swapsig",
			Logs: []string{
				"Program " + dex.PumpFun + " invoke [1]",
				"Program log: Instruction: Buy",
				fmt.Sprintf("Program log: mint=%s sol_amount=500000000 token_amount=1000000000000", testMint),
				"Program " + dex.PumpFun + " success",
			},
			Timestamp: time.Now().UnixMilli(),
		},
		Timestamp: time.Now().UnixMilli(),
	}
	target := s.registry.Get("solana", testMint)
	s.Stop()

	if got := target.LastPrice; got < 4.9e-5 || got > 5.1e-5 {
		t.Errorf("LastPrice = %v, want ~5e-5", got)
	}
}

func TestService_BuyThenSellEndToEnd(t *testing.T) {
	stream := newStubStream()
	s := newTestService(t, stream, &stubQuotes{sol: 100})
	ctx := context.Background()

	if err := s.AddToken(ctx, testMint, "TST", "solana", "caller", 0, 0); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	alerts := s.Subscribe()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// One tick per candle: four flat candles arm the indicators, a surge
	// crosses the fast line above the slow line, then a collapse exits.
	base := time.Now().UnixMilli()
	prices := []float64{1.0, 1.0, 1.0, 1.0, 2.0, 0.2}
	for i, p := range prices {
		stream.updates <- domain.StreamUpdate{
			Kind: domain.UpdatePrice,
			Price: &domain.PriceUpdate{
				Address:   testMint,
				Price:     p,
				Timestamp: base + int64(i)*time.Minute.Milliseconds(),
			},
		}
	}
	s.Stop()

	var got []domain.AlertEvent
	for alert := range alerts {
		got = append(got, alert)
	}
	if len(got) != 2 {
		t.Fatalf("alerts = %d (%+v), want BUY then SELL", len(got), got)
	}
	if got[0].Type != domain.AlertBuy || got[1].Type != domain.AlertSell {
		t.Fatalf("alert order = %s, %s", got[0].Type, got[1].Type)
	}
	if got[0].Price != 2.0 {
		t.Errorf("entry price = %v, want the last observed price at crossover", got[0].Price)
	}
	if got[1].Price != 0.2 {
		t.Errorf("exit price = %v, want the last observed price at exit", got[1].Price)
	}
	if got[0].TokenAddress != testMint || got[0].TokenSymbol != "TST" {
		t.Errorf("alert identity = %s/%s", got[0].TokenAddress, got[0].TokenSymbol)
	}

	// The one-shot flags survive: no further alerts possible.
	target := s.registry.Get("solana", testMint)
	if target != nil {
		t.Error("Stop must clear the registry")
	}
}

func TestService_FallbackPollPricesStaleMonitor(t *testing.T) {
	stream := newStubStream()
	stream.degraded = true
	quotes := &stubQuotes{sol: 100, prices: map[string]float64{testMint: 0.042}}

	deriver, err := derive.NewDeriver(dex.PumpFun, derive.DefaultSeedPrefix)
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}
	s := NewService(
		Config{Chain: "solana", PollInterval: 20 * time.Millisecond},
		Options{
			Registry: monitor.NewRegistry(zerolog.Nop()),
			Deriver:  deriver,
			Engine:   indicator.NewEngine(2, 3, 3),
			Stream:   stream,
			Quotes:   quotes,
			Logger:   zerolog.Nop(),
		},
	)
	ctx := context.Background()

	if err := s.AddToken(ctx, testMint, "TST", "solana", "caller", 0, 0); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	target := s.registry.Get("solana", testMint)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.MonitorStatus()) == 1 && s.MonitorStatus()[0].LastPrice == 0.042 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	if target.LastPrice != 0.042 {
		t.Errorf("LastPrice = %v, want the fallback quote 0.042", target.LastPrice)
	}
}

func TestService_RemoveMonitorUnsubscribes(t *testing.T) {
	stream := newStubStream()
	s := newTestService(t, stream, &stubQuotes{sol: 100})
	ctx := context.Background()

	if err := s.AddToken(ctx, testMint, "TST", "solana", "caller", 0, 0); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	curveAddr := s.MonitorStatus()[0].CurveAddress

	if !s.RemoveMonitor(ctx, "solana", testMint) {
		t.Fatal("RemoveMonitor must report success")
	}
	if s.RemoveMonitor(ctx, "solana", testMint) {
		t.Error("second RemoveMonitor must report false")
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.unsubs) != 1 || stream.unsubs[0] != curveAddr {
		t.Errorf("unsubscribed %v, want [%s]", stream.unsubs, curveAddr)
	}
}

func TestService_StopClosesSubscribersAndTransport(t *testing.T) {
	stream := newStubStream()
	s := newTestService(t, stream, &stubQuotes{sol: 100})

	alerts := s.Subscribe()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop() // idempotent

	if _, open := <-alerts; open {
		t.Error("Stop must close subscriber channels")
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if !stream.stopped {
		t.Error("Stop must stop the transport")
	}
	if s.ActiveMonitorCount() != 0 {
		t.Error("Stop must clear the registry")
	}
}
