package tiengine

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"ti-systemv1/internal/ti"
)

// Spec identifies one configured indicator: a kernel plus its packed integer
// parameter.
type Spec struct {
	ID    ti.ID
	Param int
}

// Name returns the label+param form used in stream keys, e.g. "RSI_14".
func (s Spec) Name() string {
	return s.ID.String() + "_" + strconv.Itoa(s.Param)
}

// ConfigString returns the colon form used in config strings, e.g. "RSI:14".
func (s Spec) ConfigString() string {
	return s.ID.String() + ":" + strconv.Itoa(s.Param)
}

// Config holds all env-parsed configuration for the indicator engine service.
type Config struct {
	RedisAddr         string
	RedisPassword     string
	SQLitePath        string
	ConsumerGroup     string
	ConsumerName      string
	Symbols           []string // empty means discover from the series registry
	Specs             []Spec
	MaxHistory        int
	SnapshotIntervalS int
	SnapshotKey       string
	HTTPAddr          string
	MetricsAddr       string
	PELIntervalS      int
	PELMinIdleMs      int64
	Workers           int
	ReloadTOTPSecret  string
	LogLevel          string

	AlertRules      string
	AlertWebhookURL string
	TelegramToken   string
	TelegramChatID  string
	AlertCooldownS  int
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")
	sqlitePath := getEnv("SQLITE_PATH", "data/ti.db")
	consumerGroup := getEnv("CONSUMER_GROUP", "tiengine")
	consumerName := getEnv("CONSUMER_NAME", "worker-1")
	symbolsStr := getEnv("SYMBOLS", "")
	snapshotIntervalStr := getEnv("SNAPSHOT_INTERVAL_SEC", "30")
	snapshotKey := getEnv("SNAPSHOT_KEY", "ti:snapshot:engine")
	httpAddr := getEnv("TIENGINE_HTTP_ADDR", ":9095")
	metricsAddr := getEnv("METRICS_ADDR", ":9105")
	pelIntervalStr := getEnv("PEL_RECLAIM_INTERVAL_SEC", "30")
	pelMinIdleStr := getEnv("PEL_MIN_IDLE_MS", "60000")
	maxHistoryStr := getEnv("MAX_HISTORY", "16384")
	workersStr := getEnv("WORKERS", "0")

	pelInterval, _ := strconv.Atoi(pelIntervalStr)
	if pelInterval <= 0 {
		pelInterval = 30
	}
	pelMinIdle, _ := strconv.ParseInt(pelMinIdleStr, 10, 64)
	if pelMinIdle <= 0 {
		pelMinIdle = 60000
	}

	snapshotInterval, _ := strconv.Atoi(snapshotIntervalStr)
	if snapshotInterval <= 0 {
		snapshotInterval = 30
	}

	maxHistory, _ := strconv.Atoi(maxHistoryStr)
	if maxHistory <= 0 {
		maxHistory = 16384
	}

	workers, _ := strconv.Atoi(workersStr)
	if workers < 0 {
		workers = 0
	}

	alertCooldown, _ := strconv.Atoi(getEnv("ALERT_COOLDOWN_SEC", "300"))
	if alertCooldown <= 0 {
		alertCooldown = 300
	}

	return Config{
		RedisAddr:         redisAddr,
		RedisPassword:     redisPassword,
		SQLitePath:        sqlitePath,
		ConsumerGroup:     consumerGroup,
		ConsumerName:      consumerName,
		Symbols:           parseSymbols(symbolsStr),
		Specs:             ParseIndicatorSpecs(getEnv("INDICATOR_CONFIGS", "")),
		MaxHistory:        maxHistory,
		SnapshotIntervalS: snapshotInterval,
		SnapshotKey:       snapshotKey,
		HTTPAddr:          httpAddr,
		MetricsAddr:       metricsAddr,
		PELIntervalS:      pelInterval,
		PELMinIdleMs:      pelMinIdle,
		Workers:           workers,
		ReloadTOTPSecret:  getEnv("RELOAD_TOTP_SECRET", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),

		AlertRules:      getEnv("ALERT_RULES", ""),
		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:  getEnv("TELEGRAM_CHAT_ID", ""),
		AlertCooldownS:  alertCooldown,
	}
}

// ParseIndicatorSpecs parses "TYPE:PARAM,..." into []Spec. TYPE is a kernel
// label and PARAM its packed integer parameter; for LR_EXP_DEV the thousands
// digits carry the projection distance, so "LR_EXP_DEV:4010" is period 10
// projected 4 ahead. Invalid entries are skipped, duplicates collapse.
// Returns defaults if input is empty.
func ParseIndicatorSpecs(s string) []Spec {
	if s == "" {
		return []Spec{
			{ti.PcntChID, 10},
			{ti.RSIID, 14},
			{ti.BBID, 20},
			{ti.AroonID, 25},
			{ti.WilliamOCID, 14},
			{ti.MabopOCID, 20},
			{ti.LRSlopeID, 14},
			{ti.LRExpDevID, ti.PackPeriods(10, 4)},
		}
	}

	var specs []Spec
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec, err := ParseSpec(part)
		if err != nil {
			log.Printf("[tiengine] skipping invalid indicator spec: %q (%v)", part, err)
			continue
		}
		if seen[spec.Name()] {
			continue
		}
		seen[spec.Name()] = true
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		log.Println("[tiengine] WARNING: no valid indicators parsed, using defaults")
		return ParseIndicatorSpecs("")
	}
	log.Printf("[tiengine] loaded %d indicator specs from INDICATOR_CONFIGS", len(specs))
	return specs
}

// ParseSpec parses a single "TYPE:PARAM" entry.
func ParseSpec(s string) (Spec, error) {
	tokens := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(tokens) != 2 {
		return Spec{}, fmt.Errorf("want TYPE:PARAM, got %q", s)
	}
	id, ok := ti.ParseID(strings.ToUpper(strings.TrimSpace(tokens[0])))
	if !ok || id == ti.None {
		return Spec{}, fmt.Errorf("unknown indicator type %q", tokens[0])
	}
	param, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
	if err != nil || param <= 0 {
		return Spec{}, fmt.Errorf("bad parameter %q", tokens[1])
	}
	if id == ti.LRExpDevID {
		if period, _ := ti.SplitPeriods(param); period < 2 {
			return Spec{}, fmt.Errorf("packed parameter %d has period %d, want >= 2", param, period)
		}
	} else if param < 2 {
		return Spec{}, fmt.Errorf("period %d out of range, want >= 2", param)
	}
	return Spec{ID: id, Param: param}, nil
}

func parseSymbols(s string) []string {
	if s == "" {
		return nil
	}
	var symbols []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbols = append(symbols, part)
	}
	return symbols
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
