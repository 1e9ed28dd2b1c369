// internal/platform/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the runtime knobs shared by the quickbill binaries.
type Config struct {
	Port              string
	DatabaseURL       string
	StoreTimeout      time.Duration
	CatalogURL        string
	BillingURL        string
	OTLPEndpoint      string
	ServiceName       string
	LogLevel          string
	LogPretty         bool
	DrainRatePerSec   float64
	DrainBurst        int
	DrainRetryEvery   time.Duration
	JournalPath       string
	ShutdownTimeout   time.Duration
	ClientTimeout     time.Duration
	BreakerFailures   uint32
	BreakerOpenPeriod time.Duration
	GatewayRate       float64
	GatewayBurst      int
}

// Load collects configuration from the environment. defaultPort differs per
// service so every binary can run side by side without extra setup.
func Load(serviceName, defaultPort string) Config {
	return Config{
		Port:              getEnv("PORT", defaultPort),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		StoreTimeout:      durationMs("STORE_TIMEOUT_MS", 3000),
		CatalogURL:        getEnv("CATALOG_SERVICE_URL", "http://localhost:8081"),
		BillingURL:        getEnv("BILLING_SERVICE_URL", "http://localhost:8082"),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       getEnv("OTEL_SERVICE_NAME", serviceName),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogPretty:         getBool("LOG_PRETTY", false),
		DrainRatePerSec:   getFloat("DRAIN_RATE_PER_SEC", 20),
		DrainBurst:        getInt("DRAIN_BURST", 5),
		DrainRetryEvery:   durationMs("DRAIN_RETRY_INTERVAL_MS", 5000),
		JournalPath:       getEnv("JOURNAL_PATH", "quickbill-journal.json"),
		ShutdownTimeout:   durationMs("SHUTDOWN_TIMEOUT_MS", 15000),
		ClientTimeout:     durationMs("CLIENT_TIMEOUT_MS", 5000),
		BreakerFailures:   uint32(getInt("BREAKER_FAILURES", 5)),
		BreakerOpenPeriod: durationMs("BREAKER_OPEN_MS", 10000),
		GatewayRate:       positive(getFloat("GATEWAY_RATE_PER_SEC", 500), 500),
		GatewayBurst:      int(positive(float64(getInt("GATEWAY_BURST", 200)), 200)),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durationMs(key string, defMs int) time.Duration {
	return time.Duration(getInt(key, defMs)) * time.Millisecond
}

func positive(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
