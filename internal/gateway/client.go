package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 30 * time.Second

	// Maximum inbound message size. Sized for SUBSCRIBE requests.
	maxMessageSize = 4096
)

// Client is one WebSocket peer with its outbound queue and subscriptions.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	filters ClientFilters

	subMu sync.RWMutex
	subs  map[string]*ClientSubscription // keyed by symbol
}

// ClientFilters is the legacy coarse filter a client may set by sending a
// bare JSON object instead of a SUBSCRIBE request.
type ClientFilters struct {
	Symbols    []string `json:"symbols"`
	Indicators []string `json:"indicators"`
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		subs: make(map[string]*ClientSubscription),
	}
}

// sendInitialState pushes the newest payload of every channel so a fresh
// connection renders without waiting for live traffic. A client reconnecting
// with ?last_ts= only receives channels that changed since.
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for name, cs := range c.hub.channels {
		if cs.data == nil {
			continue
		}
		if !cutoff.IsZero() && !cs.ts.After(cutoff) {
			continue
		}

		frame, err := json.Marshal(map[string]interface{}{
			"channel": name,
			"data":    cs.data,
			"ts":      cs.ts.Format(time.RFC3339Nano),
			"initial": true,
		})
		if err != nil {
			continue
		}
		select {
		case c.send <- frame:
		default:
		}
	}
}

// writePump drains the send queue to the socket. Queued frames are coalesced
// into one newline-separated WebSocket message per write.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound control messages until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.dispatch(msg)
	}
}

// dispatch routes one inbound message by its type field.
func (c *Client) dispatch(msg []byte) {
	var base struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	if json.Unmarshal(msg, &base) != nil {
		return
	}

	switch base.Type {
	case "SUBSCRIBE":
		var req SubscribeMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
			return
		}
		go c.handleSubscribe(req)

	case "UNSUBSCRIBE":
		var req UnsubscribeMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		c.handleUnsubscribe(req)

	default:
		if base.Ping > 0 {
			pong, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"ping":      base.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			select {
			case c.send <- pong:
			default:
			}
			return
		}

		// Legacy clients send a bare filter object.
		var filters ClientFilters
		if json.Unmarshal(msg, &filters) == nil {
			c.filters = filters
		}
	}
}

// handleSubscribe registers the subscription, makes sure the engine is
// producing its indicators, and answers with a history snapshot.
func (c *Client) handleSubscribe(req SubscribeMsg) {
	if req.Symbol == "" {
		SendError(c, req.ReqID, "symbol is required")
		return
	}

	indNames, bad := ResolveIndicatorNames(req.Indicators)
	if bad != "" {
		SendError(c, req.ReqID, "unknown indicator: "+bad)
		return
	}

	sub := &ClientSubscription{
		Symbol:     req.Symbol,
		Indicators: req.Indicators,
		IndNames:   indNames,
	}

	c.subMu.Lock()
	c.subs[sub.Symbol] = sub
	c.subMu.Unlock()

	log.Printf("[subscribe] client subscribed: symbol=%s indicators=%v", req.Symbol, indNames)

	ctx := context.Background()
	hasNew := publishNewIndicators(ctx, c.hub.Rdb, c.hub, req.Indicators)

	// The snapshot must not race the engine: for indicators it already
	// produces a short readiness check suffices, newly requested ones need
	// the full recompute window.
	if len(sub.IndNames) > 0 {
		timeout := 3 * time.Second
		if hasNew {
			timeout = 8 * time.Second
			log.Printf("[subscribe] waiting for engine to compute new indicators...")
		}
		waitForResults(ctx, c.hub.Rdb, sub, timeout)
	}

	sampleLimit := req.History.Samples
	if sampleLimit <= 0 {
		sampleLimit = 500
	}

	snap, err := BuildSnapshotFromRedis(ctx, c.hub.Rdb, sub, sampleLimit)
	if err != nil {
		SendError(c, req.ReqID, "snapshot build failed: "+err.Error())
		return
	}
	snap.ReqID = req.ReqID

	SendJSON(c, snap)
	log.Printf("[subscribe] sent snapshot: symbol=%s samples=%d indicators=%d",
		req.Symbol, len(snap.Samples), len(snap.Indicators))
}

// handleUnsubscribe drops the subscription for one symbol.
func (c *Client) handleUnsubscribe(req UnsubscribeMsg) {
	c.subMu.Lock()
	delete(c.subs, req.Symbol)
	c.subMu.Unlock()

	log.Printf("[subscribe] client unsubscribed: symbol=%s", req.Symbol)
}

// matchesChannel reports whether this client should receive a broadcast on
// channel. Non-data channels always pass.
func (c *Client) matchesChannel(channel string) bool {
	ref, ok := splitChannel(channel)
	if !ok {
		return true
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return c.filters.allows(ref)
	}

	sub, found := c.subs[ref.symbol]
	if !found {
		return false
	}
	if ref.kind == "sample" {
		return true
	}
	for _, name := range sub.IndNames {
		if name == ref.name {
			return true
		}
	}
	return false
}

// allows reports whether the coarse filters admit a data channel. Empty
// filter lists admit everything.
func (f ClientFilters) allows(ref channelRef) bool {
	if len(f.Symbols) > 0 {
		ok := false
		for _, s := range f.Symbols {
			if s == ref.symbol {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if ref.kind == "result" && len(f.Indicators) > 0 {
		for _, name := range f.Indicators {
			if name == ref.name {
				return true
			}
		}
		return false
	}
	return true
}

// channelRef identifies a data channel by kind and coordinates.
type channelRef struct {
	kind   string // "sample" or "result"
	name   string // indicator name, result channels only
	symbol string
}

// splitChannel parses "pub:sample:<symbol>" and "pub:ti:<name>:<symbol>".
// Only the leading segments split; the symbol keeps any colons it contains.
func splitChannel(channel string) (channelRef, bool) {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) < 3 || parts[0] != "pub" {
		return channelRef{}, false
	}

	switch parts[1] {
	case "sample":
		return channelRef{kind: "sample", symbol: parts[2]}, true
	case "ti":
		name, symbol, ok := strings.Cut(parts[2], ":")
		if !ok {
			return channelRef{}, false
		}
		return channelRef{kind: "result", name: name, symbol: symbol}, true
	}
	return channelRef{}, false
}
