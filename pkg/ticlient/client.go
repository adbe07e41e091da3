// Package ticlient is a reconnecting WebSocket client for the gateway
// streaming API. It speaks the gateway's protocol end to end: SUBSCRIBE /
// UNSUBSCRIBE requests, SNAPSHOT responses, envelope frames on the
// pub:sample:* and pub:ti:* channels, and the application-level heartbeat.
// Subscriptions are kept client-side and replayed automatically after a
// reconnect, so a dropped connection never loses the profile.
package ticlient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnect strategies.
const (
	RetrySimple      = 0 // constant delay between attempts
	RetryExponential = 1 // delay multiplied by RetryMultiplier per attempt
)

const (
	subscribeType   = "SUBSCRIBE"
	unsubscribeType = "UNSUBSCRIBE"

	frameSnapshot = "SNAPSHOT"
	frameError    = "ERROR"
	framePong     = "pong"
	frameMetrics  = "metrics"

	// The gateway pings every 30s; the read deadline must outlast that.
	readWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// Config controls connection and retry behavior. Only URL is required.
type Config struct {
	URL string // e.g. "ws://localhost:9090/ws"

	MaxRetryAttempts int           // reconnect attempts before giving up (default 5)
	RetryStrategy    int           // RetrySimple or RetryExponential
	RetryDelay       time.Duration // base delay between attempts (default 2s)
	RetryMultiplier  int           // exponential growth factor (default 2)

	HeartbeatInterval time.Duration // application ping cadence (default 10s)
	HandshakeTimeout  time.Duration // dial timeout (default 10s)
}

type subEntry struct {
	Indicators []IndicatorSpec
	History    int
}

// Client is a gateway stream consumer. Callback fields may be set before
// Connect and are invoked from the read loop, so they must not block.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	httpc  *http.Client

	mu             sync.Mutex
	conn           *websocket.Conn
	subs           map[string]subEntry // symbol -> stored subscribe request
	chanSeqs       map[string]int64    // channel -> last seen channel_seq
	disconnectFlag bool
	lastPong       time.Time
	rtt            time.Duration

	writeMu sync.Mutex
	reqSeq  int64

	// Callbacks
	OnOpen     func()
	OnClose    func()
	OnError    func(code, msg string)
	OnEnvelope func(env Envelope)
	OnSample   func(env Envelope, s Sample)
	OnResult   func(env Envelope, r IndicatorResult)
	OnSnapshot func(snap *Snapshot)
	OnMetrics  func(raw json.RawMessage)
	OnGap      func(channel string, from, to int64)

	ctx    context.Context
	cancel context.CancelFunc
}

// New validates the config and fills in defaults. The returned Client is
// not yet connected.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("ticlient: url is required")
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RetryMultiplier <= 1 {
		cfg.RetryMultiplier = 2
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		httpc:    &http.Client{Timeout: cfg.HandshakeTimeout},
		subs:     make(map[string]subEntry),
		chanSeqs: make(map[string]int64),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Connect dials the gateway and starts the read and heartbeat loops.
func (c *Client) Connect() error {
	if c.ctx.Err() != nil {
		return errors.New("ticlient: client is closed")
	}

	conn, resp, err := c.dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			log.Printf("[ticlient] dial failed, status: %s", resp.Status)
		}
		return err
	}

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.disconnectFlag = false
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)

	if c.OnOpen != nil {
		c.OnOpen()
	}
	return nil
}

// Close shuts the connection down and stops the reconnect machinery.
// The client cannot be reused afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	c.disconnectFlag = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.cancel()
}

// ── Subscriptions ──

// Subscribe requests live updates plus a history snapshot for one symbol.
// The request is stored so it survives reconnects. Returns the request ID
// echoed back in the SNAPSHOT response.
func (c *Client) Subscribe(symbol string, indicators []IndicatorSpec, historySamples int) (string, error) {
	if symbol == "" {
		return "", errors.New("ticlient: symbol is required")
	}

	reqID := c.nextReqID()
	msg := subscribeMsg{
		Type:       subscribeType,
		ReqID:      reqID,
		Symbol:     symbol,
		History:    historyRequest{Samples: historySamples},
		Indicators: indicators,
	}

	c.mu.Lock()
	c.subs[symbol] = subEntry{Indicators: indicators, History: historySamples}
	c.mu.Unlock()

	if err := c.writeJSON(msg); err != nil {
		return "", err
	}
	return reqID, nil
}

// Unsubscribe stops updates for a symbol and drops its stored request.
func (c *Client) Unsubscribe(symbol string) error {
	c.mu.Lock()
	delete(c.subs, symbol)
	c.mu.Unlock()

	return c.writeJSON(unsubscribeMsg{
		Type:   unsubscribeType,
		ReqID:  c.nextReqID(),
		Symbol: symbol,
	})
}

// Resubscribe replays every stored subscription, typically after a
// reconnect. Fresh request IDs are generated so the new SNAPSHOT
// responses can be told apart from the original ones.
func (c *Client) Resubscribe() error {
	c.mu.Lock()
	entries := make(map[string]subEntry, len(c.subs))
	for sym, e := range c.subs {
		entries[sym] = e
	}
	c.mu.Unlock()

	for sym, e := range entries {
		msg := subscribeMsg{
			Type:       subscribeType,
			ReqID:      c.nextReqID(),
			Symbol:     sym,
			History:    historyRequest{Samples: e.History},
			Indicators: e.Indicators,
		}
		if err := c.writeJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) nextReqID() string {
	return "req-" + strconv.FormatInt(atomic.AddInt64(&c.reqSeq, 1), 10)
}

// writeJSON serializes writes; gorilla permits only one concurrent writer.
func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ticlient: no connection")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// ── Read Path ──

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if c.OnClose != nil {
				c.OnClose()
			}

			c.mu.Lock()
			intentional := c.disconnectFlag
			c.mu.Unlock()
			if intentional || c.ctx.Err() != nil {
				return
			}
			log.Printf("[ticlient] read error: %v", err)
			c.reconnect()
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		for _, frame := range splitFrames(message) {
			c.dispatch(frame)
		}
	}
}

// dispatch routes one JSON frame to the matching callback. Envelopes are
// recognized by their channel field, everything else by type.
func (c *Client) dispatch(frame []byte) {
	var probe struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		log.Printf("[ticlient] bad frame: %v", err)
		return
	}

	if probe.Channel != "" {
		c.dispatchEnvelope(frame)
		return
	}

	switch probe.Type {
	case frameSnapshot:
		var snap Snapshot
		if err := json.Unmarshal(frame, &snap); err != nil {
			log.Printf("[ticlient] bad snapshot: %v", err)
			return
		}
		if c.OnSnapshot != nil {
			c.OnSnapshot(&snap)
		}

	case frameError:
		var e errorFrame
		if err := json.Unmarshal(frame, &e); err != nil {
			return
		}
		if c.OnError != nil {
			c.OnError("server", e.Error)
		}

	case framePong:
		var p pongFrame
		if err := json.Unmarshal(frame, &p); err != nil {
			return
		}
		c.handlePong(p)

	case frameMetrics:
		var m metricsFrame
		if err := json.Unmarshal(frame, &m); err != nil {
			return
		}
		if c.OnMetrics != nil {
			c.OnMetrics(m.Metrics)
		}
	}
}

func (c *Client) dispatchEnvelope(frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Printf("[ticlient] bad envelope: %v", err)
		return
	}

	// Warm-start frames carry no channel_seq and never count as gaps.
	if !env.Initial && env.ChannelSeq > 0 {
		c.trackGap(env.Channel, env.ChannelSeq)
	}

	if c.OnEnvelope != nil {
		c.OnEnvelope(env)
	}

	kind, _, _ := ParseChannel(env.Channel)
	switch kind {
	case "sample":
		var s Sample
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return
		}
		if c.OnSample != nil {
			c.OnSample(env, s)
		}
	case "result":
		var r IndicatorResult
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return
		}
		if c.OnResult != nil {
			c.OnResult(env, r)
		}
	}
}

// trackGap advances the per-channel cursor and reports skipped ranges.
func (c *Client) trackGap(channel string, seq int64) {
	c.mu.Lock()
	last := c.chanSeqs[channel]
	if seq > last {
		c.chanSeqs[channel] = seq
	}
	c.mu.Unlock()

	if last > 0 && seq > last+1 && c.OnGap != nil {
		c.OnGap(channel, last+1, seq-1)
	}
}

// ── Heartbeat ──

// heartbeatLoop sends the application ping the gateway answers with a
// matching pong, giving an end-to-end RTT measurement. The loop dies with
// its connection; a reconnect starts a fresh one.
func (c *Client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(pingMsg{Ping: time.Now().UnixMilli()})
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) handlePong(p pongFrame) {
	rtt := time.Since(time.UnixMilli(p.Ping))
	c.mu.Lock()
	c.lastPong = time.Now()
	c.rtt = rtt
	c.mu.Unlock()
}

// RTT returns the round-trip time measured by the last heartbeat, or
// zero before the first pong arrives.
func (c *Client) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

// LastPong returns when the last heartbeat reply arrived.
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// ── Reconnect ──

// reconnect dials again with the configured backoff, then replays the
// stored subscriptions. Gives up after MaxRetryAttempts.
func (c *Client) reconnect() {
	delay := c.cfg.RetryDelay

	for attempt := 1; attempt <= c.cfg.MaxRetryAttempts; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		log.Printf("[ticlient] reconnect attempt %d/%d", attempt, c.cfg.MaxRetryAttempts)
		if err := c.Connect(); err == nil {
			if err := c.Resubscribe(); err != nil {
				log.Printf("[ticlient] resubscribe failed: %v", err)
			}
			return
		}

		if c.cfg.RetryStrategy == RetryExponential {
			delay *= time.Duration(c.cfg.RetryMultiplier)
		}
	}

	if c.OnError != nil {
		c.OnError("max_retries", "connection closed after retry attempts were exhausted")
	}
}

// ── Gap Replay ──

// FetchMissed pulls buffered envelopes for a channel_seq gap from the
// gateway's replay endpoint and feeds them through the normal callback
// path. Replayed envelopes carry seqs at or below the live cursor, so
// they never re-trigger gap detection. Callbacks run on the caller's
// goroutine here, not the read loop.
func (c *Client) FetchMissed(ctx context.Context, channel string, from, to int64) (*MissedRange, error) {
	base, err := httpBase(c.cfg.URL)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/api/missed?channel=%s&from=%d&to=%d", base, url.QueryEscape(channel), from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticlient: missed fetch returned %s", resp.Status)
	}

	var out MissedRange
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	for _, env := range out.Envelopes {
		c.dispatch([]byte(env))
	}
	return &out, nil
}

// httpBase derives the gateway's HTTP endpoint from the WebSocket URL:
// ws://host:9090/ws becomes http://host:9090.
func httpBase(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("ticlient: unsupported scheme %q", u.Scheme)
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), nil
}
