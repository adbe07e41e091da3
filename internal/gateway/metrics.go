package gateway

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// SystemMetrics is the resource usage snapshot pushed to WS clients and
// served on /api/metrics.
type SystemMetrics struct {
	CPULoad1    float64 `json:"cpu_load_1"`
	CPULoad5    float64 `json:"cpu_load_5"`
	CPULoad15   float64 `json:"cpu_load_15"`
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	MemUsedMB   float64 `json:"mem_used_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	MemPercent  float64 `json:"mem_percent"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   int64   `json:"uptime_sec"`
	ComputeMs   float64 `json:"compute_ms"`
	LatencyP50  float64 `json:"latency_p50_ms"`
	LatencyP95  float64 `json:"latency_p95_ms"`
	LatencyP99  float64 `json:"latency_p99_ms"`
	TS          string  `json:"ts"`
}

// computeLatencyKey is where the engine publishes its per-sample compute
// EWMA for the gateway to surface.
const computeLatencyKey = "metrics:tiengine:compute_ms"

// cpuTimes tracks the previous /proc/stat reading so CPUPercent can be
// derived from the delta. Guarded because both the metrics broadcast loop
// and /api/metrics requests collect.
var (
	cpuMu     sync.Mutex
	prevIdle  uint64
	prevTotal uint64
)

// cpuPercent reads /proc/stat and derives utilization from the movement
// since the previous call. The first call reports 0.
func cpuPercent() float64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer f.Close()

	var idle, total uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, fv := range fields[1:] {
			v, _ := strconv.ParseUint(fv, 10, 64)
			total += v
			if i == 3 { // idle column
				idle = v
			}
		}
		break
	}

	cpuMu.Lock()
	defer cpuMu.Unlock()
	var pct float64
	if prevTotal > 0 && total > prevTotal {
		dTotal := float64(total - prevTotal)
		dIdle := float64(idle - prevIdle)
		pct = (1.0 - dIdle/dTotal) * 100.0
	}
	prevIdle, prevTotal = idle, total
	return pct
}

// loadAverages reads the 1/5/15 minute load from /proc/loadavg.
func loadAverages() (l1, l5, l15 float64) {
	f, err := os.Open("/proc/loadavg")
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return
	}
	fields := strings.Fields(sc.Text())
	if len(fields) < 3 {
		return
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return
}

// memInfo reads total and available memory in KiB from /proc/meminfo.
func memInfo() (totalKB, availKB uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			availKB, _ = strconv.ParseUint(fields[1], 10, 64)
		}
		if totalKB > 0 && availKB > 0 {
			return
		}
	}
	return
}

// CollectMetrics assembles the system resource snapshot.
func CollectMetrics(start time.Time) SystemMetrics {
	m := SystemMetrics{
		CPUCores:   runtime.NumCPU(),
		CPUPercent: cpuPercent(),
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(start).Seconds()),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
	}
	m.CPULoad1, m.CPULoad5, m.CPULoad15 = loadAverages()

	if totalKB, availKB := memInfo(); totalKB > 0 {
		usedKB := totalKB - availKB
		m.MemTotalMB = float64(totalKB) / 1024
		m.MemUsedMB = float64(usedKB) / 1024
		m.MemPercent = float64(usedKB) / float64(totalKB) * 100
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	m.SysMB = float64(ms.Sys) / 1024 / 1024
	m.GCRuns = ms.NumGC

	return m
}

// ReadComputeLatency fetches the engine's published compute EWMA from Redis.
func ReadComputeLatency(ctx context.Context, rdb *goredis.Client) (float64, bool) {
	if rdb == nil {
		return 0, false
	}
	cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	val, err := rdb.Get(cctx, computeLatencyKey).Result()
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
