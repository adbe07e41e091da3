package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	streamConnected bool
	lastSampleTime  time.Time
	redisConnected  bool
	sqliteOK        bool
	engineOK        bool
	indicators      []string

	redisLatencyMs  float64
	sqliteLatencyMs float64
	lastCheckAt     time.Time
	startedAt       time.Time
}

// NewHealthStatus returns a health tracker anchored at now.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{startedAt: time.Now()}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.streamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSampleTime(t time.Time) {
	h.mu.Lock()
	h.lastSampleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.redisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.sqliteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEngineOK(v bool) {
	h.mu.Lock()
	h.engineOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetIndicators(names []string) {
	h.mu.Lock()
	h.indicators = names
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	took := time.Since(start)

	h.mu.Lock()
	h.redisConnected = err == nil
	h.redisLatencyMs = float64(took.Microseconds()) / 1000.0
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	took := time.Since(start)

	h.mu.Lock()
	h.sqliteOK = err == nil
	h.sqliteLatencyMs = float64(took.Microseconds()) / 1000.0
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the dependencies every interval until ctx
// ends. Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// healthReport is the /healthz response body.
type healthReport struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	StreamConnected bool     `json:"stream_connected"`
	LastSampleTime  string   `json:"last_sample_time"`
	SampleAge       string   `json:"sample_age"`
	RedisConnected  bool     `json:"redis_connected"`
	RedisLatencyMs  float64  `json:"redis_latency_ms"`
	SQLiteOK        bool     `json:"sqlite_ok"`
	SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
	EngineOK        bool     `json:"engine_ok"`
	Indicators      []string `json:"indicators"`
	LastCheckAt     string   `json:"last_check_at"`
}

// snapshot assembles the report and the HTTP code it should ship with.
func (h *HealthStatus) snapshot() (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.streamConnected || !h.redisConnected || !h.sqliteOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.redisConnected && !h.sqliteOK {
		status = "unhealthy"
	}

	sampleAge := ""
	if !h.lastSampleTime.IsZero() {
		sampleAge = time.Since(h.lastSampleTime).Round(time.Millisecond).String()
	}

	return healthReport{
		Status:          status,
		Uptime:          time.Since(h.startedAt).Round(time.Second).String(),
		StreamConnected: h.streamConnected,
		LastSampleTime:  h.lastSampleTime.Format(time.RFC3339),
		SampleAge:       sampleAge,
		RedisConnected:  h.redisConnected,
		RedisLatencyMs:  h.redisLatencyMs,
		SQLiteOK:        h.sqliteOK,
		SQLiteLatencyMs: h.sqliteLatencyMs,
		EngineOK:        h.engineOK,
		Indicators:      h.indicators,
		LastCheckAt:     h.lastCheckAt.Format(time.RFC3339),
	}, code
}

// ServeHTTP answers /healthz.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.snapshot()

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}
