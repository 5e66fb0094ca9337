package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Queue     QueueConfig     `koanf:"queue"`
	Sync      SyncConfig      `koanf:"sync"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Lime      LimeConfig      `koanf:"lime"`
	Trackly   TracklyConfig   `koanf:"trackly"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Address         string        `koanf:"address" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	PostgresURL string `koanf:"postgres_url" validate:"required"`
	Migrate     bool   `koanf:"migrate"`
}

// RedisConfig is disabled when no address is set.
type RedisConfig struct {
	Enabled  bool          `koanf:"-"`
	Address  string        `koanf:"address"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db" validate:"gte=0"`
	TTL      time.Duration `koanf:"ttl" validate:"gt=0"`
}

type SchedulerConfig struct {
	QueueInterval time.Duration `koanf:"queue_interval" validate:"gt=0"`
	SyncCron      string        `koanf:"sync_cron" validate:"required"`
	CronTimezone  string        `koanf:"cron_timezone" validate:"required,timezone"`
	AutoStart     bool          `koanf:"autostart"`
}

type QueueConfig struct {
	PageSize int           `koanf:"page_size" validate:"gt=0"`
	Yield    time.Duration `koanf:"yield" validate:"gte=0"`
}

type SyncConfig struct {
	BatchSize     int    `koanf:"batch_size" validate:"gt=0"`
	Concurrency   int    `koanf:"concurrency" validate:"gt=0"`
	DefaultListID string `koanf:"list_id"`
	// Keywords are KEYWORD=BRAND pairs, matched in order.
	Keywords      []string `koanf:"keywords" validate:"dive,keyword_rule"`
	DefaultBrands []string `koanf:"default_brands" validate:"min=1,dive,required"`
}

type DispatchConfig struct {
	FallbackZone    string `koanf:"fallback_zone" validate:"required,timezone"`
	HistoryDays     int    `koanf:"history_days" validate:"gt=0"`
	DefaultProvider string `koanf:"default_provider" validate:"oneof=lime trackly"`
	// APIKey guards the direct-send endpoint. Empty rejects every request.
	APIKey string `koanf:"api_key"`
}

type LimeConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	User    string        `koanf:"user"`
	APIID   string        `koanf:"api_id"`
	Rate    float64       `koanf:"rate" validate:"gt=0"`
	Burst   int           `koanf:"burst" validate:"gt=0"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

type TracklyConfig struct {
	BaseURL       string        `koanf:"base_url" validate:"required,url"`
	APIKey        string        `koanf:"api_key"`
	PhoneNumberID string        `koanf:"phone_number_id"`
	PageSize      int           `koanf:"page_size" validate:"gt=0"`
	Rate          float64       `koanf:"rate" validate:"gt=0"`
	Burst         int           `koanf:"burst" validate:"gt=0"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// envKeys maps the supported environment variables onto config keys.
var envKeys = map[string]string{
	"SERVER_ADDRESS":          "server.address",
	"SHUTDOWN_TIMEOUT":        "server.shutdown_timeout",
	"POSTGRES_URL":            "database.postgres_url",
	"DB_MIGRATE":              "database.migrate",
	"REDIS_ADDR":              "redis.address",
	"REDIS_PASSWORD":          "redis.password",
	"REDIS_DB":                "redis.db",
	"REDIS_TTL":               "redis.ttl",
	"QUEUE_INTERVAL":          "scheduler.queue_interval",
	"SYNC_CRON":               "scheduler.sync_cron",
	"CRON_TIMEZONE":           "scheduler.cron_timezone",
	"SCHEDULER_AUTOSTART":     "scheduler.autostart",
	"QUEUE_PAGE_SIZE":         "queue.page_size",
	"QUEUE_YIELD":             "queue.yield",
	"SYNC_BATCH_SIZE":         "sync.batch_size",
	"SYNC_CONCURRENCY":        "sync.concurrency",
	"SYNC_LIST_ID":            "sync.list_id",
	"SYNC_KEYWORDS":           "sync.keywords",
	"SYNC_DEFAULT_BRANDS":     "sync.default_brands",
	"FALLBACK_TIMEZONE":       "dispatch.fallback_zone",
	"HISTORY_DAYS":            "dispatch.history_days",
	"DEFAULT_PROVIDER":        "dispatch.default_provider",
	"DIRECT_SEND_API_KEY":     "dispatch.api_key",
	"LIME_BASE_URL":           "lime.base_url",
	"LIME_USER":               "lime.user",
	"LIME_API_ID":             "lime.api_id",
	"LIME_RATE":               "lime.rate",
	"LIME_BURST":              "lime.burst",
	"LIME_TIMEOUT":            "lime.timeout",
	"TRACKLY_BASE_URL":        "trackly.base_url",
	"TRACKLY_API_KEY":         "trackly.api_key",
	"TRACKLY_PHONE_NUMBER_ID": "trackly.phone_number_id",
	"TRACKLY_PAGE_SIZE":       "trackly.page_size",
	"TRACKLY_RATE":            "trackly.rate",
	"TRACKLY_BURST":           "trackly.burst",
	"TRACKLY_TIMEOUT":         "trackly.timeout",
	"LOG_LEVEL":               "log.level",
	"LOG_FORMAT":              "log.format",
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Migrate: true},
		Redis:    RedisConfig{TTL: 24 * time.Hour},
		Scheduler: SchedulerConfig{
			QueueInterval: time.Minute,
			SyncCron:      "0 1 * * *",
			CronTimezone:  "America/New_York",
			AutoStart:     true,
		},
		Queue: QueueConfig{
			PageSize: 500,
			Yield:    100 * time.Millisecond,
		},
		Sync: SyncConfig{
			BatchSize:     50,
			Concurrency:   10,
			Keywords:      []string{"STOCK=WSWD", "TRADE=TA"},
			DefaultBrands: []string{"WSWD", "TA"},
		},
		Dispatch: DispatchConfig{
			FallbackZone:    "America/New_York",
			HistoryDays:     30,
			DefaultProvider: "lime",
		},
		Lime: LimeConfig{
			BaseURL: "https://mcpn.us",
			Rate:    5,
			Burst:   5,
			Timeout: 10 * time.Second,
		},
		Trackly: TracklyConfig{
			BaseURL:  "https://tracklysms.com/api/v1",
			PageSize: 100,
			Rate:     10,
			Burst:    10,
			Timeout:  10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// LoadAll layers struct defaults, the optional YAML file named by
// CONFIG_FILE and the environment, then validates the result.
func LoadAll() (*Config, error) {
	k := koanf.New(".")

	def := defaults()
	if err := k.Load(structs.Provider(&def, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Redis.Enabled = cfg.Redis.Address != ""
	cfg.Sync.Keywords = splitList(cfg.Sync.Keywords)
	cfg.Sync.DefaultBrands = splitList(cfg.Sync.DefaultBrands)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// KeywordRule is one parsed sync.keywords entry.
type KeywordRule struct {
	Keyword string
	Brand   string
}

func (c SyncConfig) KeywordRules() []KeywordRule {
	out := make([]KeywordRule, 0, len(c.Keywords))
	for _, kv := range c.Keywords {
		kw, brand, _ := strings.Cut(kv, "=")
		out = append(out, KeywordRule{Keyword: strings.TrimSpace(kw), Brand: strings.TrimSpace(brand)})
	}
	return out
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("keyword_rule", func(fl validator.FieldLevel) bool {
		kw, brand, ok := strings.Cut(fl.Field().String(), "=")
		return ok && strings.TrimSpace(kw) != "" && strings.TrimSpace(brand) != ""
	})

	err := v.Struct(cfg)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q validation (value %v)", describe(fe), fe.Tag(), fe.Value()))
	}
	return errors.Join(errs...)
}

// describe names a failing field by its env variable when it has one.
func describe(fe validator.FieldError) string {
	_, key, _ := strings.Cut(fe.Namespace(), ".")
	base := key
	if i := strings.IndexByte(base, '['); i >= 0 {
		base = base[:i]
	}
	for name, k := range envKeys {
		if k == base {
			return fmt.Sprintf("%s (%s)", name, key)
		}
	}
	return key
}
