package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Scraper  ScraperConfig
	JWT      JWTConfig
}

type AppConfig struct {
	AppName     string
	Environment string
	HTTPPort    string
}

type DatabaseConfig struct {
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	ConnectTimeout        time.Duration
	PoolMaxConns          int32
	PoolMinConns          int32
	PoolMaxConnLifetime   time.Duration
	PoolMaxConnIdleTime   time.Duration
	PoolHealthCheckPeriod time.Duration
}

// Enabled reports whether enough settings are present to dial Postgres.
func (c DatabaseConfig) Enabled() bool {
	return c.DBHost != "" && c.DBName != ""
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c RedisConfig) Addr() string {
	port := c.Port
	if port == "" {
		port = "6379"
	}
	return c.Host + ":" + port
}

type ScraperConfig struct {
	BaseURL         string
	UserAgent       string
	DefaultCurrency string

	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration

	CacheTTL   time.Duration
	CacheScope string

	LaneConcurrency int
	LaneRPS         int
	StaleAfter      time.Duration

	// FetchModes maps a target type name (NAVIGATION, CATEGORY, ...) to
	// "static" or "rendered".
	FetchModes map[string]string
}

type JWTConfig struct {
	Secret    string
	ExpiresIn time.Duration
}

func (c JWTConfig) Enabled() bool {
	return c.Secret != ""
}

var (
	errMissingRequiredEnv = errors.New("missing required environment variables")
	errInvalidEnv         = errors.New("invalid environment variables")
)

var targetTypeNames = []string{"NAVIGATION", "CATEGORY", "PRODUCT", "PRODUCT_DETAIL"}

func Load() (Config, error) {
	cfg := Config{}

	var missing []string
	var invalid []string
	req := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	opt := func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	}
	optInt := func(key string, def int) int {
		raw := opt(key)
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			invalid = append(invalid, key)
			return def
		}
		return v
	}
	optMillis := func(key string, def time.Duration) time.Duration {
		raw := opt(key)
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			invalid = append(invalid, key)
			return def
		}
		return time.Duration(v) * time.Millisecond
	}

	cfg.App = AppConfig{
		AppName:     req("APP_NAME"),
		Environment: req("APP_ENV"),
		HTTPPort:    req("HTTP_PORT"),
	}

	cfg.Database = DatabaseConfig{
		DBHost:                opt("DB_HOST"),
		DBPort:                opt("DB_PORT"),
		DBName:                opt("DB_NAME"),
		DBUser:                opt("DB_USER"),
		DBPassword:            opt("DB_PASSWORD"),
		DBSSLMode:             opt("DB_SSL_MODE"),
		ConnectTimeout:        optMillis("DB_CONNECT_TIMEOUT_MS", 5*time.Second),
		PoolMaxConns:          int32(optInt("DB_POOL_MAX_CONNS", 0)),
		PoolMinConns:          int32(optInt("DB_POOL_MIN_CONNS", 0)),
		PoolMaxConnLifetime:   optMillis("DB_POOL_MAX_CONN_LIFETIME_MS", 0),
		PoolMaxConnIdleTime:   optMillis("DB_POOL_MAX_CONN_IDLE_MS", 0),
		PoolHealthCheckPeriod: optMillis("DB_POOL_HEALTH_CHECK_MS", 0),
	}
	if cfg.Database.DBSSLMode == "" {
		cfg.Database.DBSSLMode = "disable"
	}

	cfg.Redis = RedisConfig{
		Host:     opt("REDIS_HOST"),
		Port:     opt("REDIS_PORT"),
		Password: opt("REDIS_PASSWORD"),
	}

	cfg.Scraper = ScraperConfig{
		BaseURL:         opt("WOB_BASE_URL"),
		UserAgent:       opt("USER_AGENT"),
		DefaultCurrency: strings.ToUpper(opt("DEFAULT_CURRENCY")),
		MaxAttempts:     optInt("WOB_RETRY_ATTEMPTS", 3),
		RetryDelay:      optMillis("WOB_RETRY_DELAY", 2000*time.Millisecond),
		Timeout:         optMillis("WOB_TIMEOUT", 30000*time.Millisecond),
		CacheTTL:        time.Duration(optInt("CACHE_TTL_HOURS", 24)) * time.Hour,
		CacheScope:      strings.ToLower(opt("CACHE_SCOPE")),
		LaneConcurrency: optInt("LANE_CONCURRENCY", 0),
		LaneRPS:         optInt("LANE_RPS", 0),
		StaleAfter:      optMillis("STALE_RUNNING_AFTER_MS", 15*time.Minute),
		FetchModes:      map[string]string{},
	}
	if cfg.Scraper.BaseURL == "" {
		cfg.Scraper.BaseURL = "https://www.worldofbooks.com"
	}
	if cfg.Scraper.UserAgent == "" {
		cfg.Scraper.UserAgent = "CatalogScraper/0.1"
	}
	if cfg.Scraper.DefaultCurrency == "" {
		cfg.Scraper.DefaultCurrency = "GBP"
	}
	switch cfg.Scraper.CacheScope {
	case "":
		cfg.Scraper.CacheScope = "type"
	case "type", "target":
	default:
		invalid = append(invalid, "CACHE_SCOPE")
	}
	for _, name := range targetTypeNames {
		key := "FETCH_MODE_" + name
		mode := strings.ToLower(opt(key))
		switch mode {
		case "":
		case "static", "rendered":
			cfg.Scraper.FetchModes[name] = mode
		default:
			invalid = append(invalid, key)
		}
	}

	cfg.JWT = JWTConfig{
		Secret:    opt("JWT_SECRET"),
		ExpiresIn: optMillis("JWT_EXPIRES_IN_MS", 12*time.Hour),
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", errMissingRequiredEnv, strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("%w: %s", errInvalidEnv, strings.Join(invalid, ", "))
	}

	return cfg, nil
}
