package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the server.
type Config struct {
	Port       string
	CORSOrigin string

	// Data sources
	DatabaseURL   string // optional persisted bar store (read path)
	MarketSource  string // "sim" | "vendor"
	VendorAPIKey  string
	VendorBaseURL string
	VendorWSURL   string
	SimSeed       int64

	// Pipeline
	Symbols          []string
	HistoryInitLimit int
	HistoryInitTF    string
	ToolTimeout      time.Duration
	RingBufferCap    int
	MicrobarInterval time.Duration
	Session          string // "RTH" | "RTH_EXT"
	MockHistory      bool
	MarketAudit      bool
	TimeframeRollups bool
}

// Load reads configuration from environment variables, applying defaults and
// clamping the tunables to their supported ranges.
func Load() *Config {
	cfg := &Config{
		Port:       getEnvOrDefault("PORT", "8080"),
		CORSOrigin: getEnvOrDefault("CORS_ORIGIN", "*"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MarketSource:  getEnvOrDefault("MARKET_SOURCE", "sim"),
		VendorAPIKey:  os.Getenv("VENDOR_API_KEY"),
		VendorBaseURL: getEnvOrDefault("VENDOR_BASE_URL", "https://api.polygon.io"),
		VendorWSURL:   getEnvOrDefault("VENDOR_WS_URL", "wss://socket.polygon.io/stocks"),
		SimSeed:       envInt64("SIM_SEED", 0),

		Symbols:          splitCSV(getEnvOrDefault("SYMBOLS", "SPY")),
		HistoryInitLimit: clampInt(envInt("HISTORY_INIT_LIMIT", 300), 50, 1000),
		HistoryInitTF:    getEnvOrDefault("HISTORY_INIT_TIMEFRAME", "1m"),
		RingBufferCap:    clampInt(envInt("RING_BUFFER_CAP", 5000), 1000, 10000),
		Session:          getEnvOrDefault("SESSION", "RTH"),
		MockHistory:      envBool("MOCK_HISTORY", false),
		MarketAudit:      envBool("MARKET_AUDIT", false),
		TimeframeRollups: envBool("TIMEFRAME_ROLLUPS", true),
	}

	cfg.ToolTimeout = time.Duration(clampInt(envInt("TOOL_TIMEOUT_MS", 1500), 500, 5000)) * time.Millisecond
	cfg.MicrobarInterval = time.Duration(clampInt(envInt("MICROBAR_MS", 200), 50, 1000)) * time.Millisecond

	if cfg.MarketSource != "vendor" && cfg.MarketSource != "sim" {
		panic(fmt.Sprintf("invalid MARKET_SOURCE %q (want sim or vendor)", cfg.MarketSource))
	}
	if cfg.MarketSource == "vendor" && cfg.VendorAPIKey == "" {
		panic("MARKET_SOURCE=vendor requires VENDOR_API_KEY")
	}
	if cfg.Session != "RTH" && cfg.Session != "RTH_EXT" {
		panic(fmt.Sprintf("invalid SESSION %q (want RTH or RTH_EXT)", cfg.Session))
	}
	switch cfg.HistoryInitTF {
	case "1m", "2m", "5m", "15m", "30m", "1h":
	default:
		panic(fmt.Sprintf("invalid HISTORY_INIT_TIMEFRAME %q", cfg.HistoryInitTF))
	}

	return cfg
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitCSV(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
