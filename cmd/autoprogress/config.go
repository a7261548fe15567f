package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Config holds all autoprogress configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string   `json:"db_path"`
	LogLevel          string   `json:"log_level"`
	RedisAddr         string   `json:"redis_addr"`
	ThresholdCacheTTL Duration `json:"threshold_cache_ttl"`
	SweepCron         string   `json:"sweep_cron"`
	ChainLimit        int      `json:"chain_limit"`
	RiskEntities      []string `json:"risk_entities"`
	MetricsAddr       string   `json:"metrics_addr"`
	RecordsDir        string   `json:"records_dir"`
}

// Duration reads either a Go duration string ("5m") or seconds from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if f, ok := v.(float64); ok {
		*d = Duration(time.Duration(f) * time.Second)
		return nil
	}
	parsed, err := cast.ToDurationE(v)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(appDir(), "autoprogress.db"),
		LogLevel:          "info",
		ThresholdCacheTTL: Duration(5 * time.Minute),
		SweepCron:         "*/15 * * * *",
		ChainLimit:        1,
		RiskEntities:      []string{"Risk"},
		RecordsDir:        filepath.Join(appDir(), "records"),
	}
}

func appDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoprogress"
	}
	return filepath.Join(home, ".autoprogress")
}

func settingsPath() string {
	return filepath.Join(appDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("AUTOPROGRESS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("AUTOPROGRESS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("AUTOPROGRESS_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := getenv("AUTOPROGRESS_THRESHOLD_CACHE_TTL"); v != "" {
		if d, err := cast.ToDurationE(v); err == nil {
			cfg.ThresholdCacheTTL = Duration(d)
		}
	}
	if v := getenv("AUTOPROGRESS_SWEEP_CRON"); v != "" {
		cfg.SweepCron = v
	}
	if v := getenv("AUTOPROGRESS_CHAIN_LIMIT"); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			cfg.ChainLimit = n
		}
	}
	if v := getenv("AUTOPROGRESS_RISK_ENTITIES"); v != "" {
		cfg.RiskEntities = splitList(v)
	}
	if v := getenv("AUTOPROGRESS_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv("AUTOPROGRESS_RECORDS_DIR"); v != "" {
		cfg.RecordsDir = v
	}

	if cfg.ChainLimit < 1 {
		cfg.ChainLimit = 1
	}
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
