package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ActiveConfig is the dashboard's indicator panel layout.
type ActiveConfig struct {
	Entries []IndicatorEntry `json:"entries"`
}

// IndicatorEntry is one configured indicator panel.
type IndicatorEntry struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

const activeConfigKey = "gateway:active_config"

// ConfigStore owns the active panel configuration: it survives restarts via
// a Redis key and every change is pushed to connected clients.
type ConfigStore struct {
	hub *Hub
	rdb *goredis.Client
}

// NewConfigStore creates a ConfigStore bound to the hub's client set.
func NewConfigStore(hub *Hub, rdb *goredis.Client) *ConfigStore {
	return &ConfigStore{hub: hub, rdb: rdb}
}

// Load restores the persisted config during startup. Reports whether a
// stored config was found.
func (cs *ConfigStore) Load(ctx context.Context) bool {
	raw, err := cs.rdb.Get(ctx, activeConfigKey).Bytes()
	if err != nil {
		return false
	}
	var cfg ActiveConfig
	if json.Unmarshal(raw, &cfg) != nil {
		return false
	}

	cs.hub.mu.Lock()
	cs.hub.activeConfig = cfg
	cs.hub.mu.Unlock()

	log.Printf("[config_store] restored active config from Redis: %d entries", len(cfg.Entries))
	return true
}

// Get returns the current active configuration.
func (cs *ConfigStore) Get() ActiveConfig {
	cs.hub.mu.RLock()
	defer cs.hub.mu.RUnlock()
	return cs.hub.activeConfig
}

// Set replaces the active configuration and persists it, then notifies
// every connected client.
func (cs *ConfigStore) Set(cfg ActiveConfig) {
	cs.hub.mu.Lock()
	cs.hub.activeConfig = cfg
	cs.hub.mu.Unlock()

	cs.persist(cfg)
	cs.announce(cfg)
}

// persist writes the config to Redis, fire-and-forget. The frontend remains
// the source of truth for panel layout.
func (cs *ConfigStore) persist(cfg ActiveConfig) {
	if cs.rdb == nil {
		return
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cs.rdb.Set(ctx, activeConfigKey, raw, 0).Err(); err != nil {
		log.Printf("[config_store] WARNING: active config persist failed: %v", err)
	}
}

// announce pushes a config_update frame to all clients.
func (cs *ConfigStore) announce(cfg ActiveConfig) {
	frame, err := json.Marshal(map[string]interface{}{
		"type":    "config_update",
		"entries": cfg.Entries,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	cs.hub.sendAll(frame)
}
