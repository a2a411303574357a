package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cron      CronConfig      `mapstructure:"cron"`
	Blizzard  BlizzardConfig  `mapstructure:"blizzard"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Report    ReportConfig    `mapstructure:"report"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	// BulkCopy opens a pgx pool next to gorm for COPY-based commodity loads.
	BulkCopy bool `mapstructure:"bulk_copy"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockKey  string        `mapstructure:"lock_key"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type CronConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Ingest  string `mapstructure:"ingest"`
}

type BlizzardConfig struct {
	Region             string        `mapstructure:"region"`
	Locale             string        `mapstructure:"locale"`
	BaseURL            string        `mapstructure:"base_url"`
	TokenURL           string        `mapstructure:"token_url"`
	ClientID           string        `mapstructure:"client_id"`
	ClientSecret       string        `mapstructure:"client_secret"`
	Timeout            time.Duration `mapstructure:"timeout"`
	TokenRefreshMargin time.Duration `mapstructure:"token_refresh_margin"`
}

type RateLimitConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
	LowWaterMark      int           `mapstructure:"low_water_mark"`
	SlowdownFactor    float64       `mapstructure:"slowdown_factor"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	RetryAfterBuffer  time.Duration `mapstructure:"retry_after_buffer"`
}

type IngestConfig struct {
	ItemsFile            string        `mapstructure:"items_file"`
	BatchSize            int           `mapstructure:"batch_size"`
	BatchDelay           time.Duration `mapstructure:"batch_delay"`
	ItemRetryPasses      int           `mapstructure:"item_retry_passes"`
	RealmConcurrency     int           `mapstructure:"realm_concurrency"`
	RealmRetryPasses     int           `mapstructure:"realm_retry_passes"`
	StageTimeout         time.Duration `mapstructure:"stage_timeout"`
	CommodityLockRetries int           `mapstructure:"commodity_lock_retries"`
	CommodityLockDelay   time.Duration `mapstructure:"commodity_lock_delay"`
}

type ReportConfig struct {
	Dir  string `mapstructure:"dir"`
	XLSX bool   `mapstructure:"xlsx"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	_ = v.BindEnv("blizzard.client_id", "BLIZZARD_CLIENT_ID", "WOW_BLIZZARD_CLIENT_ID")
	_ = v.BindEnv("blizzard.client_secret", "BLIZZARD_CLIENT_SECRET", "WOW_BLIZZARD_CLIENT_SECRET")
	_ = v.BindEnv("db.dsn", "WOW_DB_DSN", "DATABASE_URL")

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.bulk_copy", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_key", "wowmarket:ingest:lock")
	v.SetDefault("redis.lock_ttl", "2h")
	v.SetDefault("cron.enabled", true)
	// Auction snapshots refresh hourly upstream.
	v.SetDefault("cron.ingest", "0 5 * * * *")

	v.SetDefault("blizzard.region", "eu")
	v.SetDefault("blizzard.locale", "en_GB")
	v.SetDefault("blizzard.base_url", "")
	v.SetDefault("blizzard.token_url", "https://oauth.battle.net/token")
	v.SetDefault("blizzard.timeout", "30s")
	v.SetDefault("blizzard.token_refresh_margin", "2m")

	v.SetDefault("rate_limit.max_concurrent", 20)
	v.SetDefault("rate_limit.requests_per_second", 100)
	v.SetDefault("rate_limit.max_retries", 3)
	v.SetDefault("rate_limit.low_water_mark", 5)
	v.SetDefault("rate_limit.slowdown_factor", 1.2)
	v.SetDefault("rate_limit.base_delay", "1s")
	v.SetDefault("rate_limit.max_delay", "30s")
	v.SetDefault("rate_limit.retry_after_buffer", "500ms")

	v.SetDefault("ingest.items_file", "items.txt")
	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.batch_delay", "1s")
	v.SetDefault("ingest.item_retry_passes", 1)
	v.SetDefault("ingest.realm_concurrency", 10)
	v.SetDefault("ingest.realm_retry_passes", 3)
	v.SetDefault("ingest.stage_timeout", "30m")
	v.SetDefault("ingest.commodity_lock_retries", 3)
	v.SetDefault("ingest.commodity_lock_delay", "2s")

	v.SetDefault("report.dir", "output")
	v.SetDefault("report.xlsx", false)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ErrMissingCredentials is returned when either upstream credential is unset.
var ErrMissingCredentials = errors.New("missing Blizzard API credentials (BLIZZARD_CLIENT_ID, BLIZZARD_CLIENT_SECRET)")

func (c BlizzardConfig) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return ErrMissingCredentials
	}
	return nil
}
