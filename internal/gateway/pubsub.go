package gateway

import (
	"context"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// PubSubRouter moves Redis pub/sub traffic into the broadcaster. Two
// subscriptions run side by side: an explicit one for the channels known at
// startup and a pattern one that catches channels born later (indicators
// added through a config reload). The pattern loop skips channels the
// explicit loop covers so each message is broadcast exactly once.
type PubSubRouter struct {
	hub *Hub
}

// NewPubSubRouter creates a router bound to the hub.
func NewPubSubRouter(hub *Hub) *PubSubRouter {
	return &PubSubRouter{hub: hub}
}

// RunExplicit subscribes to the startup channel list and routes until ctx
// ends.
func (r *PubSubRouter) RunExplicit(ctx context.Context) {
	channels := r.hub.buildChannels()
	if len(channels) == 0 {
		log.Println("[gateway] WARNING: no explicit channels to subscribe to")
		return
	}

	pubsub := r.hub.Rdb.Subscribe(ctx, channels...)
	defer pubsub.Close()
	log.Printf("[gateway] subscribed to %d PubSub channels", len(channels))

	r.route(ctx, pubsub, nil)
}

// RunPattern subscribes to the data channel wildcards and routes everything
// the explicit subscription does not already cover. Runs until ctx ends.
func (r *PubSubRouter) RunPattern(ctx context.Context) {
	covered := make(map[string]bool)
	for _, c := range r.hub.buildChannels() {
		covered[c] = true
	}

	pubsub := r.hub.Rdb.PSubscribe(ctx, "pub:ti:*", "pub:sample:*")
	defer pubsub.Close()

	r.route(ctx, pubsub, covered)
}

// route drains one subscription into the broadcaster, dropping channels in
// skip.
func (r *PubSubRouter) route(ctx context.Context, pubsub *goredis.PubSub, skip map[string]bool) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if skip[msg.Channel] {
				continue
			}
			r.hub.broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
