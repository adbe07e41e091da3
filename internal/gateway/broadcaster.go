package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// appendEnvelope appends the wire envelope for one payload to dst:
//
//	{"channel":"...","data":<payload>,"ts":"...","seq":N,"channel_seq":M}
//
// Built by hand because this sits on the hot path of every broadcast and
// the payload is already serialized JSON.
func appendEnvelope(dst []byte, channel string, data []byte, ts time.Time, seq, chanSeq int64) []byte {
	dst = append(dst, `{"channel":"`...)
	dst = append(dst, channel...)
	dst = append(dst, `","data":`...)
	dst = append(dst, data...)
	dst = append(dst, `,"ts":"`...)
	dst = ts.AppendFormat(dst, time.RFC3339Nano)
	dst = append(dst, `","seq":`...)
	dst = strconv.AppendInt(dst, seq, 10)
	dst = append(dst, `,"channel_seq":`...)
	dst = strconv.AppendInt(dst, chanSeq, 10)
	dst = append(dst, '}')
	return dst
}

// Broadcaster stamps payloads with sequence numbers and fans the resulting
// envelopes out to subscribed clients.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster bound to the hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast wraps one payload in an envelope and queues it to every client
// subscribed to channel. The envelope is retained in the channel's replay
// ring so clients can backfill delivery gaps through /api/missed.
func (b *Broadcaster) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()
	b.observeLatency(now, data)

	seq, chanSeq, replay := b.hub.stamp(channel, data, now)

	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = appendEnvelope(buf, channel, data, now, seq, chanSeq)

	replay.Push(chanSeq, buf)
	b.hub.fanOut(channel, buf)
}

// observeLatency records observation-to-emit latency when the payload
// carries a source timestamp.
func (b *Broadcaster) observeLatency(now time.Time, data []byte) {
	if b.hub.Latency == nil {
		return
	}
	var src struct {
		TS time.Time `json:"ts"`
	}
	if json.Unmarshal(data, &src) != nil || src.TS.IsZero() {
		return
	}
	if ms := float64(now.Sub(src.TS).Microseconds()) / 1000.0; ms >= 0 {
		b.hub.Latency.Record(ms)
	}
}
