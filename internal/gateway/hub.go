package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

// channelState is everything the hub tracks per broadcast channel: the last
// payload for initial-state sync, the per-channel sequence counter, and the
// replay ring for gap backfill.
type channelState struct {
	data   json.RawMessage
	ts     time.Time
	seq    int64
	replay *ReplayBuffer
}

// Hub owns the WebSocket client set and the per-channel broadcast state.
// The heavy lifting is delegated: PubSubRouter feeds Redis traffic in,
// Broadcaster stamps and fans frames out, ConfigStore tracks the dashboard
// panel layout.
type Hub struct {
	Rdb        *goredis.Client
	Symbols    []string
	Indicators []string

	Latency     *LatencyTracker
	Router      *PubSubRouter
	Broadcaster *Broadcaster
	ConfigStore *ConfigStore

	mu           sync.RWMutex
	clients      map[*Client]bool
	channels     map[string]*channelState
	seq          int64 // global envelope counter
	activeConfig ActiveConfig
}

// NewHub wires a hub and its sub-components and restores any persisted
// panel config.
func NewHub(rdb *goredis.Client, symbols, indicators []string) *Hub {
	h := &Hub{
		Rdb:        rdb,
		Symbols:    symbols,
		Indicators: indicators,
		Latency:    NewLatencyTracker(10000),
		clients:    make(map[*Client]bool),
		channels:   make(map[string]*channelState),

		// Entries stays non-nil so the REST response encodes as [].
		activeConfig: ActiveConfig{Entries: []IndicatorEntry{}},
	}
	h.Router = NewPubSubRouter(h)
	h.Broadcaster = NewBroadcaster(h)
	h.ConfigStore = NewConfigStore(h, rdb)
	h.ConfigStore.Load(context.Background())
	return h
}

// GetActiveConfig returns the dashboard panel config.
func (h *Hub) GetActiveConfig() ActiveConfig { return h.ConfigStore.Get() }

// SetActiveConfig replaces the dashboard panel config.
func (h *Hub) SetActiveConfig(cfg ActiveConfig) { h.ConfigStore.Set(cfg) }

// Run starts the pub/sub routing loops and blocks until ctx ends. The
// pattern loop always runs; the explicit loop no-ops when no channels are
// configured.
func (h *Hub) Run(ctx context.Context) {
	go h.Router.RunExplicit(ctx)
	h.Router.RunPattern(ctx)
}

// buildChannels lists the pub/sub channels known at startup.
func (h *Hub) buildChannels() []string {
	var channels []string
	for _, ind := range h.Indicators {
		for _, sym := range h.Symbols {
			channels = append(channels, "pub:ti:"+ind+":"+sym)
		}
	}
	for _, sym := range h.Symbols {
		channels = append(channels, "pub:sample:"+sym)
	}
	return channels
}

// broadcast hands one payload to the Broadcaster.
func (h *Hub) broadcast(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// channelLocked returns the state tracker for name, creating it on first
// use. Callers must hold h.mu.
func (h *Hub) channelLocked(name string) *channelState {
	cs, ok := h.channels[name]
	if !ok {
		cs = &channelState{replay: NewReplayBuffer(500)}
		h.channels[name] = cs
	}
	return cs
}

// stamp advances the global and per-channel counters for one broadcast,
// records data as the channel's latest payload, and hands back the replay
// ring so the caller can retain the built envelope.
func (h *Hub) stamp(channel string, data []byte, now time.Time) (seq, chanSeq int64, replay *ReplayBuffer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs := h.channelLocked(channel)
	cs.seq++
	cs.data = data
	cs.ts = now

	h.seq++
	return h.seq, cs.seq, cs.replay
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	c := newClient(h, conn)

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", n)

	go c.sendInitialState(lastTS)
	go c.writePump()
	go c.readPump()
}

// RemoveClient detaches a client and releases its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// sendAll queues a frame to every connected client regardless of filters.
// Slow clients are skipped rather than blocked on.
func (h *Hub) sendAll(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
}

// fanOut queues an envelope to every client subscribed to channel.
func (h *Hub) fanOut(channel string, envelope []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matchesChannel(channel) {
			continue
		}
		select {
		case c.send <- envelope:
		default:
		}
	}
}

// GetLatestAll returns the newest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(h.channels))
	for name, cs := range h.channels {
		if cs.data != nil {
			out[name] = cs.data
		}
	}
	return out
}

// GetChannelSeq returns the per-channel sequence counter, 0 for channels
// that have never broadcast.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if cs, ok := h.channels[channel]; ok {
		return cs.seq
	}
	return 0
}

// GetReplayRange returns the retained envelope frames with channel_seq in
// [from, to]. Serves the /api/missed backfill endpoint.
func (h *Hub) GetReplayRange(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	cs, ok := h.channels[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	entries := cs.replay.Range(from, to)
	frames := make([][]byte, len(entries))
	for i, e := range entries {
		frames[i] = e.Data
	}
	return frames
}

// ClientCount reports connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartMetricsBroadcast pushes a metrics frame to every client every 2s.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := CollectMetrics(start)
			if v, ok := ReadComputeLatency(ctx, h.Rdb); ok {
				m.ComputeMs = v
			}
			m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()

			frame, err := json.Marshal(map[string]interface{}{
				"type":    "metrics",
				"metrics": m,
			})
			if err != nil {
				continue
			}
			h.sendAll(frame)
		}
	}
}
