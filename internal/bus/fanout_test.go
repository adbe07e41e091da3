package bus

import (
	"context"
	"testing"
	"time"

	"ti-systemv1/internal/model"
)

func recvSample(t *testing.T, ch <-chan model.Sample) model.Sample {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample")
		return model.Sample{}
	}
}

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	sinks := map[string]<-chan model.Sample{
		"sqlite": fo.Subscribe("sqlite"),
		"health": fo.Subscribe("health"),
	}

	input := make(chan model.Sample, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Sample{Symbol: "WAVE_A", Seq: 42, Value: 105}

	for name, ch := range sinks {
		s := recvSample(t, ch)
		if s.Symbol != "WAVE_A" || s.Seq != 42 {
			t.Errorf("%s sink: got %s seq=%d, want WAVE_A seq=42", name, s.Symbol, s.Seq)
		}
	}
}

func TestFanOut_DropReportsName(t *testing.T) {
	fo := New(1)
	slow := fo.Subscribe("sqlite")
	fast := fo.Subscribe("health")

	dropped := make(chan string, 4)
	fo.OnDrop = func(name string) { dropped <- name }

	input := make(chan model.Sample, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	// Nobody reads slow, so its one-slot buffer fills on the first
	// sample and the second is discarded for it only.
	input <- model.Sample{Seq: 1}
	input <- model.Sample{Seq: 2}

	select {
	case name := <-dropped:
		if name != "sqlite" {
			t.Fatalf("drop reported for %q, want sqlite", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drop callback")
	}

	// The lagging sink keeps its buffered sample, and the healthy sink
	// saw both.
	if s := recvSample(t, slow); s.Seq != 1 {
		t.Fatalf("slow sink buffered seq=%d, want 1", s.Seq)
	}
	if s := recvSample(t, fast); s.Seq != 1 {
		t.Fatalf("fast sink first seq=%d, want 1", s.Seq)
	}
	if s := recvSample(t, fast); s.Seq != 2 {
		t.Fatalf("fast sink second seq=%d, want 2", s.Seq)
	}
}

func TestFanOut_ClosesSinksOnCancel(t *testing.T) {
	fo := New(2)
	out := fo.Subscribe("sqlite")

	input := make(chan model.Sample)
	ctx, cancel := context.WithCancel(context.Background())
	go fo.Run(ctx, input)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("received a sample after cancel, expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("sink channel not closed after cancel")
	}
}

func TestFanOut_ChannelStats(t *testing.T) {
	fo := New(4)
	fo.Subscribe("sqlite")
	fo.Subscribe("health")

	fo.publish(model.Sample{Seq: 1})
	fo.publish(model.Sample{Seq: 2})

	stats := fo.ChannelStats()
	if len(stats) != 2 {
		t.Fatalf("ChannelStats returned %d entries, want 2", len(stats))
	}
	for _, cs := range stats {
		if cs.Name != "sqlite" && cs.Name != "health" {
			t.Errorf("unexpected subscriber name %q", cs.Name)
		}
		if cs.Len != 2 || cs.Cap != 4 {
			t.Errorf("%s: Len=%d Cap=%d, want Len=2 Cap=4", cs.Name, cs.Len, cs.Cap)
		}
	}
}
