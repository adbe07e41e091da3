// Package bus fans raw samples out from the intake loop to the
// persistence sinks. Each sink registers under a name and gets its own
// buffered channel; a sink that stops draining loses samples instead of
// stalling the ones that keep up.
package bus

import (
	"context"
	"log"
	"sync"

	"ti-systemv1/internal/model"
)

type subscriber struct {
	name string
	ch   chan model.Sample
}

// FanOut copies every input sample to all registered subscribers.
type FanOut struct {
	mu   sync.RWMutex
	subs []subscriber
	buf  int

	// OnDrop, when set, is invoked with the subscriber name each time a
	// sample is discarded because that subscriber's channel is full.
	OnDrop func(name string)
}

// New returns a FanOut whose subscriber channels buffer up to buffer
// samples each.
func New(buffer int) *FanOut {
	return &FanOut{buf: buffer}
}

// Subscribe registers a named sink and returns its delivery channel.
// The channel is closed when Run exits.
func (f *FanOut) Subscribe(name string) <-chan model.Sample {
	sub := subscriber{name: name, ch: make(chan model.Sample, f.buf)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub.ch
}

// Run copies samples from input to every subscriber until ctx is
// cancelled or input closes, then closes all subscriber channels.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Sample) {
	defer f.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-input:
			if !ok {
				return
			}
			f.publish(s)
		}
	}
}

func (f *FanOut) publish(s model.Sample) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		select {
		case sub.ch <- s:
		default:
			if f.OnDrop != nil {
				f.OnDrop(sub.name)
			} else {
				log.Printf("[bus] %s lagging, dropped %s seq=%d", sub.name, s.Symbol, s.Seq)
			}
		}
	}
}

func (f *FanOut) closeAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		close(sub.ch)
	}
}

// ChannelStat reports the queue depth of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats snapshots every subscriber's queue depth for the
// saturation gauges.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ChannelStat, len(f.subs))
	for i, sub := range f.subs {
		out[i] = ChannelStat{Name: sub.name, Len: len(sub.ch), Cap: cap(sub.ch)}
	}
	return out
}
