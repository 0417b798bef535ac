package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"solana-signal-watch/internal/domain"
)

// connConfig tunes the shared connection core.
type connConfig struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	SubscribeTimeout time.Duration
	HandshakeTimeout time.Duration
}

func defaultConnConfig() connConfig {
	return connConfig{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// subEntry records one provider-side subscription belonging to an address.
type subEntry struct {
	id     int64
	method string // "account" or "logs"
}

// wsConn is the JSON-RPC-over-WebSocket core shared by both transport
// variants. It does not reconnect: a read error is terminal and surfaces on
// the errors channel, leaving the owner to build a fresh instance.
type wsConn struct {
	cfg connConfig
	log zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool
	state  atomic.Int32

	requestID atomic.Uint64

	// pending maps request ID to the channel waiting for a subscription ID.
	pending   map[uint64]chan int64
	pendingMu sync.Mutex

	// subsByAddr/addrBySub track live subscriptions both ways: forward for
	// unsubscribe, reverse for dispatching account notifications.
	subsByAddr map[string][]subEntry
	addrBySub  map[int64]string
	subsMu     sync.Mutex

	// authed gates message handling: until it is set, everything except an
	// auth ack is dropped, not buffered.
	authed atomic.Bool
	authCh chan error

	updates chan domain.StreamUpdate
	errs    chan error
	done    chan struct{}
	wg      sync.WaitGroup
}

func newWSConn(cfg connConfig, log zerolog.Logger) *wsConn {
	return &wsConn{
		cfg:        cfg,
		log:        log,
		pending:    make(map[uint64]chan int64),
		subsByAddr: make(map[string][]subEntry),
		addrBySub:  make(map[int64]string),
		authCh:     make(chan error, 1),
		updates:    make(chan domain.StreamUpdate, 1024),
		errs:       make(chan error, 4),
		done:       make(chan struct{}),
	}
}

// dial establishes the WebSocket connection.
func (c *wsConn) dial(ctx context.Context, endpoint string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	return nil
}

// start launches the reader and keepalive goroutines.
func (c *wsConn) start() {
	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
}

func (c *wsConn) writeJSON(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// request sends a JSON-RPC request and waits for the subscription ID the
// provider assigns to it.
func (c *wsConn) request(ctx context.Context, method string, params []any) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	reqID := c.requestID.Add(1)
	confirmCh := make(chan int64, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = confirmCh
	c.pendingMu.Unlock()

	discard := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	req := rpcRequest{JSONRPC: "2.0", ID: reqID, Method: method, Params: params}
	if err := c.writeJSON(req); err != nil {
		discard()
		return 0, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, ErrClosed
		}
		return subID, nil
	case <-time.After(c.cfg.SubscribeTimeout):
		discard()
		return 0, fmt.Errorf("%w: %s", ErrSubscribeTimeout, method)
	case <-c.done:
		return 0, ErrClosed
	case <-ctx.Done():
		discard()
		return 0, ctx.Err()
	}
}

// subscribe registers both an account subscription and a logs subscription
// for the address, mapping the assigned IDs back to it.
func (c *wsConn) subscribe(ctx context.Context, address string) error {
	accountID, err := c.request(ctx, "accountSubscribe", []any{
		address,
		map[string]string{"encoding": "base64", "commitment": "confirmed"},
	})
	if err != nil {
		return err
	}

	logsID, err := c.request(ctx, "logsSubscribe", []any{
		map[string]any{"mentions": []string{address}},
		map[string]string{"commitment": "confirmed"},
	})
	if err != nil {
		return err
	}

	c.subsMu.Lock()
	c.subsByAddr[address] = []subEntry{
		{id: accountID, method: "account"},
		{id: logsID, method: "logs"},
	}
	c.addrBySub[accountID] = address
	c.addrBySub[logsID] = address
	c.subsMu.Unlock()
	return nil
}

// unsubscribe removes the address's subscriptions. The unsubscribe requests
// are fire-and-forget: local state is dropped regardless of the ack.
func (c *wsConn) unsubscribe(_ context.Context, address string) error {
	c.subsMu.Lock()
	entries := c.subsByAddr[address]
	delete(c.subsByAddr, address)
	for _, e := range entries {
		delete(c.addrBySub, e.id)
	}
	c.subsMu.Unlock()

	for _, e := range entries {
		reqID := c.requestID.Add(1)
		req := rpcRequest{JSONRPC: "2.0", ID: reqID, Method: e.method + "Unsubscribe", Params: []any{e.id}}
		if err := c.writeJSON(req); err != nil {
			return fmt.Errorf("write unsubscribe: %w", err)
		}
	}
	return nil
}

func (c *wsConn) readLoop() {
	defer c.wg.Done()

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.state.Store(StateDisconnected)
			select {
			case c.errs <- fmt.Errorf("websocket read: %w", err):
			default:
			}
			return
		}

		c.handleMessage(message)
	}
}

func (c *wsConn) handleMessage(message []byte) {
	if !c.authed.Load() {
		// Only an auth ack is acted on before the handshake completes;
		// everything else is dropped, not buffered.
		var ack authAck
		if err := json.Unmarshal(message, &ack); err == nil && ack.Type == "auth" {
			if ack.Status == "ok" {
				c.authed.Store(true)
				select {
				case c.authCh <- nil:
				default:
				}
			} else {
				select {
				case c.authCh <- fmt.Errorf("%w: %s", ErrAuthFailed, ack.Message):
				default:
				}
			}
		}
		return
	}

	var resp rpcSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 && resp.ID > 0 {
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			select {
			case ch <- resp.Result:
			default:
			}
		}
		return
	}

	var notif rpcNotification
	if err := json.Unmarshal(message, &notif); err != nil || notif.Params == nil {
		return
	}

	switch notif.Method {
	case "accountNotification":
		c.handleAccountNotification(&notif)
	case "logsNotification":
		c.handleLogsNotification(&notif)
	}
}

func (c *wsConn) handleAccountNotification(notif *rpcNotification) {
	c.subsMu.Lock()
	address, ok := c.addrBySub[notif.Params.Subscription]
	c.subsMu.Unlock()
	if !ok {
		return
	}

	var value accountValue
	if err := json.Unmarshal(notif.Params.Result.Value, &value); err != nil || len(value.Data) == 0 {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(value.Data[0])
	if err != nil {
		c.log.Debug().Err(err).Str("address", address).Msg("undecodable account payload")
		return
	}

	update := domain.StreamUpdate{
		Kind:        domain.UpdateAccount,
		Account:     address,
		AccountData: raw,
		Slot:        notif.Params.Result.Context.Slot,
		Timestamp:   time.Now().UnixMilli(),
	}
	c.emit(update)
}

func (c *wsConn) handleLogsNotification(notif *rpcNotification) {
	var value logsValue
	if err := json.Unmarshal(notif.Params.Result.Value, &value); err != nil || value.Err != nil {
		return
	}

	c.subsMu.Lock()
	address := c.addrBySub[notif.Params.Subscription]
	c.subsMu.Unlock()

	update := domain.StreamUpdate{
		Kind:    domain.UpdateTransaction,
		Account: address,
		Transaction: &domain.TransactionUpdate{
			Signature:   value.Signature,
			Logs:        value.Logs,
			AccountKeys: value.AccountKeys,
			Slot:        notif.Params.Result.Context.Slot,
			Timestamp:   time.Now().UnixMilli(),
		},
		Slot:      notif.Params.Result.Context.Slot,
		Timestamp: time.Now().UnixMilli(),
	}
	c.emit(update)
}

// emit blocks until the update is delivered or the connection shuts down, so
// no event is silently lost; the channel buffer absorbs bursts.
func (c *wsConn) emit(update domain.StreamUpdate) {
	select {
	case c.updates <- update:
	case <-c.done:
	}
}

func (c *wsConn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				// A failed ping surfaces as a read error; the reader owns
				// the terminal-error path.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

func (c *wsConn) close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.state.Store(StateDisconnected)
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	close(c.updates)
	return nil
}

// Wire types.

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"`
}

type rpcNotification struct {
	JSONRPC string               `json:"jsonrpc"`
	Method  string               `json:"method"`
	Params  *rpcNotificationBody `json:"params"`
}

type rpcNotificationBody struct {
	Subscription int64                 `json:"subscription"`
	Result       rpcNotificationResult `json:"result"`
}

type rpcNotificationResult struct {
	Context rpcContext      `json:"context"`
	Value   json.RawMessage `json:"value"`
}

type rpcContext struct {
	Slot int64 `json:"slot"`
}

type accountValue struct {
	Data []string `json:"data"`
}

type logsValue struct {
	Signature   string   `json:"signature"`
	Logs        []string `json:"logs"`
	AccountKeys []string `json:"accountKeys"`
	Err         any      `json:"err"`
}

type authRequest struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type authAck struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
