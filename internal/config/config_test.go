package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var envMu sync.Mutex

const testPostgresURL = "postgres://u:p@localhost:5432/db?sslmode=disable"

func TestLoadAll_HappyPath_NoRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("POSTGRES_URL", testPostgresURL)

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if cfg.Database.PostgresURL != testPostgresURL {
		t.Fatalf("unexpected PostgresURL: %q", cfg.Database.PostgresURL)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected Server.Address default: %q", cfg.Server.Address)
	}
	if cfg.Scheduler.QueueInterval != time.Minute {
		t.Fatalf("unexpected Scheduler.QueueInterval default: %v", cfg.Scheduler.QueueInterval)
	}
	if cfg.Scheduler.SyncCron != "0 1 * * *" {
		t.Fatalf("unexpected Scheduler.SyncCron default: %q", cfg.Scheduler.SyncCron)
	}
	if cfg.Queue.PageSize != 500 {
		t.Fatalf("unexpected Queue.PageSize default: %d", cfg.Queue.PageSize)
	}
	if cfg.Sync.BatchSize != 50 {
		t.Fatalf("unexpected Sync.BatchSize default: %d", cfg.Sync.BatchSize)
	}
	if cfg.Dispatch.FallbackZone != "America/New_York" {
		t.Fatalf("unexpected Dispatch.FallbackZone default: %q", cfg.Dispatch.FallbackZone)
	}
	if cfg.Dispatch.DefaultProvider != "lime" {
		t.Fatalf("unexpected Dispatch.DefaultProvider default: %q", cfg.Dispatch.DefaultProvider)
	}
	if !cfg.Database.Migrate {
		t.Fatalf("expected migrations on by default")
	}

	rules := cfg.Sync.KeywordRules()
	if len(rules) != 2 || rules[0] != (KeywordRule{Keyword: "STOCK", Brand: "WSWD"}) {
		t.Fatalf("unexpected keyword rules: %+v", rules)
	}

	if cfg.Redis.Enabled {
		t.Fatalf("expected Redis disabled when REDIS_ADDR not set")
	}
}

func TestLoadAll_HappyPath_WithRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("POSTGRES_URL", testPostgresURL)
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TTL", "42s")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if !cfg.Redis.Enabled {
		t.Fatalf("expected Redis enabled")
	}
	if cfg.Redis.Address != "localhost:6379" {
		t.Fatalf("unexpected Redis.Address: %q", cfg.Redis.Address)
	}
	if cfg.Redis.Password != "secret" {
		t.Fatalf("unexpected Redis.Password: %q", cfg.Redis.Password)
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("unexpected Redis.DB: %d", cfg.Redis.DB)
	}
	if cfg.Redis.TTL != 42*time.Second {
		t.Fatalf("unexpected Redis.TTL: %v", cfg.Redis.TTL)
	}
}

func TestLoadAll_EnvLists(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("POSTGRES_URL", testPostgresURL)
	t.Setenv("SYNC_KEYWORDS", "BUY=TA, SELL=WSWD")
	t.Setenv("SYNC_DEFAULT_BRANDS", "WSWD")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	rules := cfg.Sync.KeywordRules()
	if len(rules) != 2 || rules[1] != (KeywordRule{Keyword: "SELL", Brand: "WSWD"}) {
		t.Fatalf("unexpected keyword rules: %+v", rules)
	}
	if len(cfg.Sync.DefaultBrands) != 1 || cfg.Sync.DefaultBrands[0] != "WSWD" {
		t.Fatalf("unexpected default brands: %v", cfg.Sync.DefaultBrands)
	}
}

func TestLoadAll_FileThenEnv(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "queue:\n  page_size: 250\nsync:\n  batch_size: 25\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("POSTGRES_URL", testPostgresURL)
	t.Setenv("QUEUE_PAGE_SIZE", "300")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	if cfg.Queue.PageSize != 300 {
		t.Fatalf("expected env to win, got page size %d", cfg.Queue.PageSize)
	}
	if cfg.Sync.BatchSize != 25 {
		t.Fatalf("expected file value, got batch size %d", cfg.Sync.BatchSize)
	}
}

func TestLoadAll_MissingConfigFile(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("POSTGRES_URL", testPostgresURL)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	if _, err := LoadAll(); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestLoadAll_RequiredEnvMissing(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	_, err := LoadAll()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "POSTGRES_URL") {
		t.Fatalf("expected error mentioning POSTGRES_URL, got: %v", err)
	}
}

func TestLoadAll_InvalidValues(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"invalid QUEUE_PAGE_SIZE", "QUEUE_PAGE_SIZE", "abc"},
		{"invalid QUEUE_INTERVAL", "QUEUE_INTERVAL", "nope"},
		{"invalid REDIS_DB", "REDIS_DB", "bad"},
		{"invalid LIME_RATE", "LIME_RATE", "fast"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)

			t.Setenv("POSTGRES_URL", testPostgresURL)
			t.Setenv(tc.key, tc.val)

			if _, err := LoadAll(); err == nil {
				t.Fatalf("expected error for %s=%s, got nil", tc.key, tc.val)
			}
		})
	}
}

func TestLoadAll_ValidationFailures(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"page size <= 0", "QUEUE_PAGE_SIZE", "0"},
		{"interval <= 0", "QUEUE_INTERVAL", "0s"},
		{"sync concurrency <= 0", "SYNC_CONCURRENCY", "0"},
		{"keyword without brand", "SYNC_KEYWORDS", "STOCK"},
		{"unknown provider", "DEFAULT_PROVIDER", "fax"},
		{"unknown zone", "FALLBACK_TIMEZONE", "Mars/Olympus"},
		{"bad log level", "LOG_LEVEL", "loud"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)

			t.Setenv("POSTGRES_URL", testPostgresURL)
			t.Setenv(tc.key, tc.val)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.key, err)
			}
		})
	}
}

func TestLoadAll_ValidationErrorsAreJoined(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("QUEUE_PAGE_SIZE", "0")
	t.Setenv("SYNC_BATCH_SIZE", "0")

	_, err := LoadAll()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	for _, want := range []string{"POSTGRES_URL", "QUEUE_PAGE_SIZE", "SYNC_BATCH_SIZE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error mentioning %s, got: %v", want, err)
		}
	}
}

// clearTestEnv unsets every variable the loader reads and restores them
// when the test ends.
func clearTestEnv(t *testing.T) {
	t.Helper()
	keys := []string{"CONFIG_FILE"}
	for k := range envKeys {
		keys = append(keys, k)
	}
	for _, k := range keys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}
