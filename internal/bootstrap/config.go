package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/infra/setup"
	redisstate "collaborative-editor/internal/infra/state/redis"
)

// 自动保存驱动
const (
	AutosaveDriverTicker = "ticker" // 进程内 time.Ticker
	AutosaveDriverAsynq  = "asynq"  // asynq Scheduler + Worker
)

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	ServerPort int

	AutosaveInterval time.Duration
	AutosaveDriver   string
	CacheTTL         time.Duration
	CacheCompression bool
	HistoryCap       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	DB setup.DBOptions

	LogLevel          string
	AppEnv            string // development / production
	CORSAllowedOrigin string
	RateLimitMax      int
	RateLimitWindow   time.Duration
}

// LoadConfig 从环境变量加载配置，.env 文件存在时先加载它
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	cfg := &Config{
		ServerPort:        envInt("SERVER_PORT", 4000),
		AutosaveInterval:  envDuration("AUTOSAVE_INTERVAL", 5*time.Second),
		AutosaveDriver:    envString("AUTOSAVE_DRIVER", AutosaveDriverTicker),
		CacheTTL:          envDuration("CACHE_TTL", redisstate.DefaultCodeTTL),
		CacheCompression:  envBool("CACHE_COMPRESSION", true),
		HistoryCap:        envInt("HISTORY_CAP", domain.DefaultHistoryCap),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		KeyPrefix:         envString("REDIS_KEY_PREFIX", "ce:"),
		LogLevel:          envString("LOG_LEVEL", "info"),
		AppEnv:            envString("APP_ENV", "development"),
		CORSAllowedOrigin: envString("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		RateLimitMax:      envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", 1*time.Second),
		DB: setup.DBOptions{
			Driver:   envString("DB_DRIVER", setup.DriverMySQL),
			DSN:      os.Getenv("DB_DSN"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     os.Getenv("DB_HOST"),
			Port:     os.Getenv("DB_PORT"),
			Name:     os.Getenv("DB_NAME"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查必填项并修正非法值
func (cfg *Config) Validate() error {
	if cfg.RedisAddr == "" {
		return fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.AutosaveDriver != AutosaveDriverTicker && cfg.AutosaveDriver != AutosaveDriverAsynq {
		return fmt.Errorf("unsupported AUTOSAVE_DRIVER '%s' (want %s or %s)", cfg.AutosaveDriver, AutosaveDriverTicker, AutosaveDriverAsynq)
	}
	if cfg.DB.Driver != setup.DriverMySQL && cfg.DB.Driver != setup.DriverSQLite {
		return fmt.Errorf("unsupported DB_DRIVER '%s'", cfg.DB.Driver)
	}
	if cfg.AutosaveInterval <= 0 {
		return fmt.Errorf("AUTOSAVE_INTERVAL must be positive, got %s", cfg.AutosaveInterval)
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = domain.DefaultHistoryCap
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %d", key, v, def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %t", key, v, def)
		return def
	}
	return b
}

// envDuration 接受 time.ParseDuration 格式，纯数字按秒处理
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	logrus.Warnf("Invalid %s '%s', using default %s", key, v, def)
	return def
}
