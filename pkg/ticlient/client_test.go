package ticlient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestParseChannel(t *testing.T) {
	cases := []struct {
		channel string
		kind    string
		name    string
		symbol  string
	}{
		{"pub:sample:WAVE_A", "sample", "", "WAVE_A"},
		{"pub:sample:NSE:FUT:X", "sample", "", "NSE:FUT:X"},
		{"pub:ti:RSI_14:WAVE_A", "result", "RSI_14", "WAVE_A"},
		{"pub:ti:LR_EXP_DEV_4010:NSE:X", "result", "LR_EXP_DEV_4010", "NSE:X"},
		{"pub:ti:RSI_14", "", "", ""},
		{"other:sample:WAVE_A", "", "", ""},
		{"", "", "", ""},
	}
	for _, tc := range cases {
		kind, name, symbol := ParseChannel(tc.channel)
		if kind != tc.kind || name != tc.name || symbol != tc.symbol {
			t.Errorf("ParseChannel(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tc.channel, kind, name, symbol, tc.kind, tc.name, tc.symbol)
		}
	}
}

func TestSplitFrames(t *testing.T) {
	single := splitFrames([]byte(`{"a":1}`))
	if len(single) != 1 || string(single[0]) != `{"a":1}` {
		t.Errorf("single frame: got %d frames", len(single))
	}

	coalesced := splitFrames([]byte("{\"a\":1}\n{\"b\":2}\n"))
	if len(coalesced) != 2 {
		t.Fatalf("coalesced: got %d frames, want 2", len(coalesced))
	}
	if string(coalesced[0]) != `{"a":1}` || string(coalesced[1]) != `{"b":2}` {
		t.Errorf("coalesced frames: got %q, %q", coalesced[0], coalesced[1])
	}

	blanks := splitFrames([]byte("{\"a\":1}\n\n{\"b\":2}"))
	if len(blanks) != 2 {
		t.Errorf("blank separator: got %d frames, want 2", len(blanks))
	}
}

func TestNewDefaults(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("empty URL accepted")
	}

	c, err := New(Config{URL: "ws://localhost:9090/ws"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.cfg.MaxRetryAttempts != 5 {
		t.Errorf("MaxRetryAttempts: got %d, want 5", c.cfg.MaxRetryAttempts)
	}
	if c.cfg.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay: got %v, want 2s", c.cfg.RetryDelay)
	}
	if c.cfg.RetryMultiplier != 2 {
		t.Errorf("RetryMultiplier: got %d, want 2", c.cfg.RetryMultiplier)
	}
	if c.cfg.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval: got %v, want 10s", c.cfg.HeartbeatInterval)
	}
}

func TestHTTPBase(t *testing.T) {
	got, err := httpBase("ws://localhost:9090/ws")
	if err != nil || got != "http://localhost:9090" {
		t.Errorf("ws: got (%q, %v)", got, err)
	}
	got, err = httpBase("wss://gw.example.com/ws?last_ts=x")
	if err != nil || got != "https://gw.example.com" {
		t.Errorf("wss: got (%q, %v)", got, err)
	}
	if _, err := httpBase("http://localhost:9090"); err == nil {
		t.Error("http scheme accepted")
	}
}

func TestSpecHelpers(t *testing.T) {
	s := Spec("rsi", 21)
	if s.ID != "rsi" || s.Params["period"] != 21 {
		t.Errorf("Spec: got %+v", s)
	}
	p := SpecProjected("lr_exp_dev", 10, 4)
	if p.Params["period"] != 10 || p.Params["expected"] != 4 {
		t.Errorf("SpecProjected: got %+v", p)
	}
}

func TestTrackGap(t *testing.T) {
	c, err := New(Config{URL: "ws://localhost:9090/ws"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	type gap struct {
		channel  string
		from, to int64
	}
	var gaps []gap
	c.OnGap = func(channel string, from, to int64) {
		gaps = append(gaps, gap{channel, from, to})
	}

	ch := "pub:sample:WAVE_A"
	c.trackGap(ch, 1)
	c.trackGap(ch, 2)
	c.trackGap(ch, 6) // skipped 3..5
	c.trackGap(ch, 6) // duplicate
	c.trackGap(ch, 4) // stale
	c.trackGap("pub:ti:RSI_14:WAVE_A", 10)

	if len(gaps) != 1 {
		t.Fatalf("gaps: got %d, want 1", len(gaps))
	}
	if gaps[0].channel != ch || gaps[0].from != 3 || gaps[0].to != 5 {
		t.Errorf("gap range: got %+v", gaps[0])
	}
}

func TestDispatchRoutesFrames(t *testing.T) {
	c, err := New(Config{URL: "ws://localhost:9090/ws"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var (
		snaps    []*Snapshot
		samples  []Sample
		results  []IndicatorResult
		raws     []Envelope
		errCodes []string
		metrics  []string
	)
	c.OnSnapshot = func(s *Snapshot) { snaps = append(snaps, s) }
	c.OnSample = func(_ Envelope, s Sample) { samples = append(samples, s) }
	c.OnResult = func(_ Envelope, r IndicatorResult) { results = append(results, r) }
	c.OnEnvelope = func(env Envelope) { raws = append(raws, env) }
	c.OnError = func(code, msg string) { errCodes = append(errCodes, code+": "+msg) }
	c.OnMetrics = func(raw json.RawMessage) { metrics = append(metrics, string(raw)) }

	c.dispatch([]byte(`{"type":"SNAPSHOT","reqId":"req-9","symbol":"WAVE_A","samples":[{"symbol":"WAVE_A","seq":0,"value":100,"ts":"2026-03-02T09:15:00Z"}],"indicators":{"RSI_14":[{"seq":0,"value":50,"warm":false,"ts":"2026-03-02T09:15:00Z"}]}}`))
	c.dispatch([]byte(`{"channel":"pub:sample:WAVE_A","data":{"symbol":"WAVE_A","seq":3,"value":99.5,"ts":"2026-03-02T09:15:03Z"},"ts":"2026-03-02T09:15:03.01Z","seq":5,"channel_seq":2}`))
	c.dispatch([]byte(`{"channel":"pub:ti:BB_20:WAVE_A","data":{"indicator":"BB","param":20,"symbol":"WAVE_A","seq":3,"value":0.75,"warm":true,"ts":"2026-03-02T09:15:03Z"},"ts":"2026-03-02T09:15:03.02Z","seq":6,"channel_seq":2}`))
	c.dispatch([]byte(`{"type":"ERROR","reqId":"req-9","error":"unknown indicator id: macd"}`))
	c.dispatch([]byte(`{"type":"metrics","metrics":{"goroutines":12}}`))
	c.dispatch([]byte(`not json`))

	if len(snaps) != 1 || snaps[0].ReqID != "req-9" || len(snaps[0].Samples) != 1 {
		t.Errorf("snapshot dispatch: got %+v", snaps)
	}
	if len(samples) != 1 || samples[0].Seq != 3 || samples[0].Value != 99.5 {
		t.Errorf("sample dispatch: got %+v", samples)
	}
	if len(results) != 1 || results[0].Name() != "BB_20" || !results[0].Warm {
		t.Errorf("result dispatch: got %+v", results)
	}
	if len(raws) != 2 {
		t.Errorf("envelope hook: got %d calls, want 2", len(raws))
	}
	if len(errCodes) != 1 || errCodes[0] != "server: unknown indicator id: macd" {
		t.Errorf("error dispatch: got %v", errCodes)
	}
	if len(metrics) != 1 || metrics[0] != `{"goroutines":12}` {
		t.Errorf("metrics dispatch: got %v", metrics)
	}
}

func TestPongUpdatesRTT(t *testing.T) {
	c, err := New(Config{URL: "ws://localhost:9090/ws"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.RTT() != 0 {
		t.Errorf("RTT before any pong: got %v", c.RTT())
	}

	sent := time.Now().Add(-120 * time.Millisecond).UnixMilli()
	c.dispatch([]byte(`{"type":"pong","ping":` + strconv.FormatInt(sent, 10) + `,"server_ts":0}`))

	if rtt := c.RTT(); rtt < 100*time.Millisecond || rtt > 10*time.Second {
		t.Errorf("RTT: got %v", rtt)
	}
	if time.Since(c.LastPong()) > time.Second {
		t.Errorf("LastPong not updated: %v", c.LastPong())
	}
}

func TestSubscribeStoresProfileOffline(t *testing.T) {
	c, err := New(Config{URL: "ws://localhost:9090/ws"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Without a connection the write fails but the profile is kept, so a
	// later Connect + Resubscribe picks it up.
	if _, err := c.Subscribe("WAVE_A", []IndicatorSpec{Spec("rsi", 14)}, 30); err == nil {
		t.Fatal("Subscribe without connection did not error")
	}
	c.mu.Lock()
	entry, ok := c.subs["WAVE_A"]
	c.mu.Unlock()
	if !ok || entry.History != 30 || len(entry.Indicators) != 1 {
		t.Fatalf("stored profile: got %+v (ok=%v)", entry, ok)
	}

	if err := c.Unsubscribe("WAVE_A"); err == nil {
		t.Fatal("Unsubscribe without connection did not error")
	}
	c.mu.Lock()
	remaining := len(c.subs)
	c.mu.Unlock()
	if remaining != 0 {
		t.Errorf("profile not dropped: %d entries left", remaining)
	}
}

// ─── Live Round Trips ───────────────────────────────────────────────────────

func newWSServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestSubscribeRoundTrip(t *testing.T) {
	reqs := make(chan subscribeMsg, 1)
	done := make(chan struct{})

	srv := newWSServer(t, func(conn *websocket.Conn) {
		var msg subscribeMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		reqs <- msg

		snap := Snapshot{
			Type:   frameSnapshot,
			ReqID:  msg.ReqID,
			Symbol: msg.Symbol,
			Samples: []Sample{
				{Symbol: msg.Symbol, Seq: 0, Value: 100, TS: time.Now().UTC()},
			},
			Indicators: map[string][]ResultPoint{
				"RSI_14": {{Seq: 0, Value: 50, Warm: false, TS: time.Now().UTC()}},
			},
		}
		if err := conn.WriteJSON(&snap); err != nil {
			return
		}

		// Coalesced frame: a sample and a result separated by a newline,
		// the way the gateway batches its queue.
		frame := `{"channel":"pub:sample:WAVE_A","data":{"symbol":"WAVE_A","seq":1,"value":100.5,"ts":"2026-03-02T09:15:01Z"},"ts":"2026-03-02T09:15:01.002Z","seq":1,"channel_seq":1}` + "\n" +
			`{"channel":"pub:ti:RSI_14:WAVE_A","data":{"indicator":"RSI","param":14,"symbol":"WAVE_A","seq":1,"value":61.25,"warm":true,"ts":"2026-03-02T09:15:01Z"},"ts":"2026-03-02T09:15:01.003Z","seq":2,"channel_seq":1}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		<-done
	})
	defer srv.Close()

	c, err := New(Config{
		URL:               wsURL(srv),
		MaxRetryAttempts:  1,
		RetryDelay:        10 * time.Millisecond,
		HeartbeatInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer close(done)
	defer c.Close()

	snaps := make(chan *Snapshot, 1)
	samples := make(chan Sample, 1)
	results := make(chan IndicatorResult, 1)
	c.OnSnapshot = func(s *Snapshot) { snaps <- s }
	c.OnSample = func(_ Envelope, s Sample) { samples <- s }
	c.OnResult = func(_ Envelope, r IndicatorResult) { results <- r }

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	reqID, err := c.Subscribe("WAVE_A", []IndicatorSpec{Spec("rsi", 14)}, 25)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var req subscribeMsg
	select {
	case req = <-reqs:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for SUBSCRIBE")
	}
	if req.Type != subscribeType || req.Symbol != "WAVE_A" || req.ReqID != reqID {
		t.Errorf("request: got %+v, want reqID %s", req, reqID)
	}
	if req.History.Samples != 25 {
		t.Errorf("history: got %d, want 25", req.History.Samples)
	}
	if len(req.Indicators) != 1 || req.Indicators[0].ID != "rsi" || req.Indicators[0].Params["period"] != 14 {
		t.Errorf("indicators: got %+v", req.Indicators)
	}

	select {
	case snap := <-snaps:
		if snap.ReqID != reqID || snap.Symbol != "WAVE_A" {
			t.Errorf("snapshot: got reqID %s symbol %s", snap.ReqID, snap.Symbol)
		}
		if len(snap.Samples) != 1 || len(snap.Indicators["RSI_14"]) != 1 {
			t.Errorf("snapshot series: %d samples, %d RSI points",
				len(snap.Samples), len(snap.Indicators["RSI_14"]))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for SNAPSHOT")
	}

	select {
	case s := <-samples:
		if s.Symbol != "WAVE_A" || s.Seq != 1 || s.Value != 100.5 {
			t.Errorf("live sample: got %+v", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for live sample")
	}

	select {
	case r := <-results:
		if r.Name() != "RSI_14" || !r.Warm || r.Value != 61.25 {
			t.Errorf("live result: got %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for live result")
	}
}

func TestReconnectResubscribes(t *testing.T) {
	var connCount int32
	first := make(chan subscribeMsg, 1)
	second := make(chan subscribeMsg, 1)
	done := make(chan struct{})

	srv := newWSServer(t, func(conn *websocket.Conn) {
		n := atomic.AddInt32(&connCount, 1)
		var msg subscribeMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if n == 1 {
			first <- msg
			return // drop the connection to force a reconnect
		}
		second <- msg
		<-done
	})
	defer srv.Close()

	c, err := New(Config{
		URL:               wsURL(srv),
		MaxRetryAttempts:  3,
		RetryDelay:        20 * time.Millisecond,
		HeartbeatInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer close(done)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	orig, err := c.Subscribe("WAVE_B",
		[]IndicatorSpec{Spec("bb", 20), SpecProjected("lr_exp_dev", 10, 4)}, 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-first:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for first SUBSCRIBE")
	}

	var re subscribeMsg
	select {
	case re = <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for resubscribe")
	}
	if re.Symbol != "WAVE_B" || re.History.Samples != 10 {
		t.Errorf("resubscribe: got %+v", re)
	}
	if re.ReqID == orig {
		t.Errorf("resubscribe reused request ID %q", orig)
	}
	if len(re.Indicators) != 2 {
		t.Fatalf("resubscribe indicators: got %d, want 2", len(re.Indicators))
	}
	if re.Indicators[1].ID != "lr_exp_dev" || re.Indicators[1].Params["expected"] != 4 {
		t.Errorf("projected spec lost: got %+v", re.Indicators[1])
	}
}

func TestFetchMissedReplaysEnvelopes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/missed" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("channel") != "pub:sample:WAVE_A" || q.Get("from") != "3" || q.Get("to") != "5" {
			t.Errorf("query: got %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"channel":"pub:sample:WAVE_A","from":3,"to":5,"current_seq":6,"envelopes":[` +
			`{"channel":"pub:sample:WAVE_A","data":{"symbol":"WAVE_A","seq":3,"value":99,"ts":"2026-03-02T09:15:03Z"},"ts":"2026-03-02T09:15:03.01Z","seq":7,"channel_seq":3},` +
			`{"channel":"pub:sample:WAVE_A","data":{"symbol":"WAVE_A","seq":4,"value":99.5,"ts":"2026-03-02T09:15:04Z"},"ts":"2026-03-02T09:15:04.01Z","seq":8,"channel_seq":4}]}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var replayed []Sample
	c.OnSample = func(_ Envelope, s Sample) { replayed = append(replayed, s) }
	// Pretend the live stream already reached channel_seq 6.
	c.trackGap("pub:sample:WAVE_A", 6)

	mr, err := c.FetchMissed(context.Background(), "pub:sample:WAVE_A", 3, 5)
	if err != nil {
		t.Fatalf("FetchMissed: %v", err)
	}
	if mr.CurrentSeq != 6 || len(mr.Envelopes) != 2 {
		t.Fatalf("missed range: got current_seq=%d envelopes=%d", mr.CurrentSeq, len(mr.Envelopes))
	}
	if len(replayed) != 2 || replayed[0].Seq != 3 || replayed[1].Seq != 4 {
		t.Errorf("replayed samples: got %+v", replayed)
	}
}
