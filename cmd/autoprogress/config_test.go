package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"), noEnv)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1, cfg.ChainLimit)
	assert.Equal(t, Duration(5*time.Minute), cfg.ThresholdCacheTTL)
	assert.Equal(t, []string{"Risk"}, cfg.RiskEntities)
	assert.Equal(t, "*/15 * * * *", cfg.SweepCron)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "autoprogress.db", filepath.Base(cfg.DBPath))
}

func TestLoadConfig_SettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"log_level": "debug",
		"chain_limit": 3,
		"threshold_cache_ttl": "30s",
		"risk_entities": ["Risk", "Hazard"],
		"redis_addr": "localhost:6379"
	}`), 0o644))

	cfg := loadConfigFrom(path, noEnv)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.ChainLimit)
	assert.Equal(t, Duration(30*time.Second), cfg.ThresholdCacheTTL)
	assert.Equal(t, []string{"Risk", "Hazard"}, cfg.RiskEntities)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "info", defaultConfig().LogLevel)
}

func TestLoadConfig_SecondsTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"threshold_cache_ttl": 90}`), 0o644))

	cfg := loadConfigFrom(path, noEnv)
	assert.Equal(t, Duration(90*time.Second), cfg.ThresholdCacheTTL)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level": "debug", "chain_limit": 3}`), 0o644))

	cfg := loadConfigFrom(path, envMap(map[string]string{
		"AUTOPROGRESS_LOG_LEVEL":           "warn",
		"AUTOPROGRESS_CHAIN_LIMIT":         "5",
		"AUTOPROGRESS_DB_PATH":             "/tmp/x.db",
		"AUTOPROGRESS_REDIS_ADDR":          "redis:6379",
		"AUTOPROGRESS_THRESHOLD_CACHE_TTL": "1m",
		"AUTOPROGRESS_SWEEP_CRON":          "@hourly",
		"AUTOPROGRESS_RISK_ENTITIES":       "Risk, Issue ,",
		"AUTOPROGRESS_METRICS_ADDR":        ":9100",
		"AUTOPROGRESS_RECORDS_DIR":         "/data/records",
	}))

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 5, cfg.ChainLimit)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, Duration(time.Minute), cfg.ThresholdCacheTTL)
	assert.Equal(t, "@hourly", cfg.SweepCron)
	assert.Equal(t, []string{"Risk", "Issue"}, cfg.RiskEntities)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, "/data/records", cfg.RecordsDir)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantChain int
	}{
		{"non-numeric chain limit", map[string]string{"AUTOPROGRESS_CHAIN_LIMIT": "abc"}, 1},
		{"zero chain limit", map[string]string{"AUTOPROGRESS_CHAIN_LIMIT": "0"}, 1},
		{"negative chain limit", map[string]string{"AUTOPROGRESS_CHAIN_LIMIT": "-2"}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"), envMap(tc.env))
			assert.Equal(t, tc.wantChain, cfg.ChainLimit)
		})
	}

	cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"),
		envMap(map[string]string{"AUTOPROGRESS_THRESHOLD_CACHE_TTL": "soon"}))
	assert.Equal(t, Duration(5*time.Minute), cfg.ThresholdCacheTTL)
}

func TestDuration_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in).String(), in)
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/a.db", dsn("/tmp/a.db"))
	assert.Equal(t, "file:/tmp/a.db", dsn("file:/tmp/a.db"))
	assert.Equal(t, "libsql://db.example.com", dsn("libsql://db.example.com"))
}
