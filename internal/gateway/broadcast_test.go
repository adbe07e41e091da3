package gateway

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"
)

// envelope mirrors the wire frame for decoding in assertions.
type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

func decodeEnvelope(t *testing.T, frame []byte) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, frame)
	}
	return env
}

// testHub builds a hub without Redis or sub-components, enough to drive the
// broadcaster directly.
func testHub() *Hub {
	return &Hub{
		clients:  make(map[*Client]bool),
		channels: make(map[string]*channelState),
	}
}

func TestAppendEnvelope_Format(t *testing.T) {
	channel := "pub:sample:WAVE_A"
	data := []byte(`{"symbol":"WAVE_A","seq":17,"value":101.5,"ts":"2026-02-25T10:00:00Z"}`)
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)

	frame := appendEnvelope(nil, channel, data, now, 42, 7)
	env := decodeEnvelope(t, frame)

	if env.Channel != channel {
		t.Errorf("channel: got %q, want %q", env.Channel, channel)
	}
	if env.Seq != 42 {
		t.Errorf("seq: got %d, want 42", env.Seq)
	}
	if env.ChannelSeq != 7 {
		t.Errorf("channel_seq: got %d, want 7", env.ChannelSeq)
	}

	var sample map[string]interface{}
	if err := json.Unmarshal(env.Data, &sample); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if _, ok := sample["ts"]; !ok {
		t.Error("data missing 'ts' field")
	}

	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil {
		t.Errorf("ts is not valid RFC3339Nano: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("ts: got %v, want %v", parsed, now)
	}
}

func TestAppendEnvelope_NestedData(t *testing.T) {
	data := []byte(`{"note":"test","nested":{"a":1},"arr":[1,2,3]}`)

	frame := appendEnvelope(nil, "pub:sample:WAVE_B", data, time.Now().UTC(), 999, 1)
	env := decodeEnvelope(t, frame)

	if env.Seq != 999 {
		t.Errorf("seq: got %d, want 999", env.Seq)
	}
	var nested struct {
		Nested struct {
			A int `json:"a"`
		} `json:"nested"`
		Arr []int `json:"arr"`
	}
	if err := json.Unmarshal(env.Data, &nested); err != nil {
		t.Fatalf("data did not survive the round trip: %v", err)
	}
	if nested.Nested.A != 1 || len(nested.Arr) != 3 {
		t.Errorf("nested payload mangled: %+v", nested)
	}
}

func TestAppendEnvelope_BufferReuse(t *testing.T) {
	now := time.Now().UTC()
	buf := appendEnvelope(nil, "pub:sample:WAVE_A", []byte(`{"value":1}`), now, 1, 1)

	for i := int64(2); i <= 100; i++ {
		buf = appendEnvelope(buf[:0], "pub:sample:WAVE_A", []byte(`{"value":1}`), now, i, i)
		if env := decodeEnvelope(t, buf); env.Seq != i {
			t.Fatalf("seq after reuse: got %d, want %d", env.Seq, i)
		}
	}
}

// TestBroadcast_SeqCounters drives the real broadcaster and checks that the
// global counter spans channels while channel_seq tracks per channel.
func TestBroadcast_SeqCounters(t *testing.T) {
	hub := testHub()
	b := NewBroadcaster(hub)

	chanA := "pub:sample:WAVE_A"
	chanB := "pub:ti:RSI_14:WAVE_A"

	for i := 0; i < 3; i++ {
		b.Broadcast(chanA, []byte(`{"value":1}`))
	}
	for i := 0; i < 2; i++ {
		b.Broadcast(chanB, []byte(`{"value":2}`))
	}

	if got := hub.GetChannelSeq(chanA); got != 3 {
		t.Errorf("channel A seq: got %d, want 3", got)
	}
	if got := hub.GetChannelSeq(chanB); got != 2 {
		t.Errorf("channel B seq: got %d, want 2", got)
	}
	if got := hub.GetChannelSeq("pub:sample:NEVER"); got != 0 {
		t.Errorf("untouched channel seq: got %d, want 0", got)
	}

	// The last frame overall carries global seq 5, channel seq 2.
	frames := hub.GetReplayRange(chanB, 2, 2)
	if len(frames) != 1 {
		t.Fatalf("replay frames: got %d, want 1", len(frames))
	}
	env := decodeEnvelope(t, frames[0])
	if env.Seq != 5 {
		t.Errorf("global seq: got %d, want 5", env.Seq)
	}
	if env.ChannelSeq != 2 {
		t.Errorf("channel_seq: got %d, want 2", env.ChannelSeq)
	}
	if env.Channel != chanB {
		t.Errorf("channel: got %q, want %q", env.Channel, chanB)
	}
}

// TestBroadcast_LatestPayload checks the hub retains the newest payload per
// channel for initial-state sync.
func TestBroadcast_LatestPayload(t *testing.T) {
	hub := testHub()
	b := NewBroadcaster(hub)

	b.Broadcast("pub:sample:WAVE_A", []byte(`{"value":1}`))
	b.Broadcast("pub:sample:WAVE_A", []byte(`{"value":2}`))

	latest := hub.GetLatestAll()
	if len(latest) != 1 {
		t.Fatalf("latest channels: got %d, want 1", len(latest))
	}
	var payload struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(latest["pub:sample:WAVE_A"], &payload); err != nil {
		t.Fatalf("latest payload invalid: %v", err)
	}
	if payload.Value != 2 {
		t.Errorf("latest value: got %d, want 2", payload.Value)
	}
}

// TestBroadcast_ReplayWindow checks that replayed frames cover a mid-stream
// gap in order.
func TestBroadcast_ReplayWindow(t *testing.T) {
	hub := testHub()
	b := NewBroadcaster(hub)

	ch := "pub:ti:BB_20:WAVE_A"
	for i := 1; i <= 10; i++ {
		b.Broadcast(ch, []byte(`{"value":`+strconv.Itoa(i)+`}`))
	}

	frames := hub.GetReplayRange(ch, 4, 6)
	if len(frames) != 3 {
		t.Fatalf("replay frames: got %d, want 3", len(frames))
	}
	for i, frame := range frames {
		env := decodeEnvelope(t, frame)
		if want := int64(4 + i); env.ChannelSeq != want {
			t.Errorf("frame %d channel_seq: got %d, want %d", i, env.ChannelSeq, want)
		}
	}

	if frames := hub.GetReplayRange("pub:sample:NEVER", 1, 5); frames != nil {
		t.Errorf("unknown channel: got %d frames, want nil", len(frames))
	}
}

func TestSplitChannel(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		want    channelRef
		wantOK  bool
	}{
		{"sample", "pub:sample:WAVE_A", channelRef{kind: "sample", symbol: "WAVE_A"}, true},
		{"sample_colon_symbol", "pub:sample:NSE:99926000", channelRef{kind: "sample", symbol: "NSE:99926000"}, true},
		{"result_rsi", "pub:ti:RSI_14:WAVE_A", channelRef{kind: "result", name: "RSI_14", symbol: "WAVE_A"}, true},
		{"result_bb", "pub:ti:BB_20:WAVE_B", channelRef{kind: "result", name: "BB_20", symbol: "WAVE_B"}, true},
		{"result_packed_param", "pub:ti:LR_EXP_DEV_4010:WAVE_A", channelRef{kind: "result", name: "LR_EXP_DEV_4010", symbol: "WAVE_A"}, true},
		{"garbage", "garbage", channelRef{}, false},
		{"too_short", "pub:ti", channelRef{}, false},
		{"ti_no_symbol", "pub:ti:RSI_14", channelRef{}, false},
		{"wrong_prefix", "sub:sample:WAVE_A", channelRef{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := splitChannel(tt.channel)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ref: got %+v, want %+v", got, tt.want)
			}
		})
	}
}

// TestResolveIndicatorNames_SpecMapping verifies spec → name resolution,
// including the packed parameter form.
func TestResolveIndicatorNames_SpecMapping(t *testing.T) {
	specs := []IndicatorSpec{
		{ID: "rsi", Params: map[string]int{"period": 21}},
		{ID: "bb", Params: map[string]int{"period": 20}},
		{ID: "aroon"}, // no params: default period 14
		{ID: "lr_exp_dev", Params: map[string]int{"period": 10, "expected": 4}},
	}

	names, bad := ResolveIndicatorNames(specs)
	if bad != "" {
		t.Fatalf("unexpected bad spec: %q", bad)
	}

	want := []string{"RSI_21", "BB_20", "AROON_14", "LR_EXP_DEV_4010"}
	if len(names) != len(want) {
		t.Fatalf("names: got %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d]: got %q, want %q", i, names[i], want[i])
		}
	}
}

// TestResolveIndicatorNames_RejectsUnknown verifies unknown ids are reported.
func TestResolveIndicatorNames_RejectsUnknown(t *testing.T) {
	specs := []IndicatorSpec{
		{ID: "rsi", Params: map[string]int{"period": 14}},
		{ID: "macd", Params: map[string]int{"period": 12}},
	}

	names, bad := ResolveIndicatorNames(specs)
	if bad != "macd" {
		t.Errorf("bad: got %q, want %q", bad, "macd")
	}
	if names != nil {
		t.Errorf("names: got %v, want nil", names)
	}

	// NONE parses as an ID but is not a computable indicator.
	if _, bad := ResolveIndicatorNames([]IndicatorSpec{{ID: "none"}}); bad != "none" {
		t.Errorf("bad: got %q, want %q", bad, "none")
	}
}

// TestNameToConfig verifies the name → engine spec conversion splits on the
// last underscore.
func TestNameToConfig(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"RSI_14", "RSI:14", true},
		{"WILLIAM_OC_30", "WILLIAM_OC:30", true},
		{"LR_EXP_DEV_4010", "LR_EXP_DEV:4010", true},
		{"NOPARAM", "", false},
		{"TRAILING_", "", false},
	}

	for _, tt := range tests {
		got, ok := nameToConfig(tt.name)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("nameToConfig(%q): got (%q, %v), want (%q, %v)",
				tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}
