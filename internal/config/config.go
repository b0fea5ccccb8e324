package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultJWTSecret = "dev-secret-change-me"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port                  string   `yaml:"port"`
	DatabaseDSN           string   `yaml:"database_dsn"`
	JWTSecret             string   `yaml:"jwt_secret"`
	Env                   string   `yaml:"env"`
	AccessTokenTTLMinutes int      `yaml:"access_token_ttl_minutes"`
	StoreDriver           string   `yaml:"store_driver"`
	WSSendBuffer          int      `yaml:"ws_send_buffer"`
	RateLimitRPS          float64  `yaml:"rate_limit_rps"`
	RateLimitBurst        int      `yaml:"rate_limit_burst"`
	AllowedOrigins        []string `yaml:"allowed_origins"`
	HistoryLimit          int      `yaml:"history_limit"`
	LogLevel              string   `yaml:"log_level"`
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 在值无效或为负数时回退到默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
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

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=relaychat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", DefaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		StoreDriver:           getenv("STORE_DRIVER", DriverPostgres),
		WSSendBuffer:          getenvInt("WS_SEND_BUFFER", 256),
		RateLimitRPS:          getenvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:        getenvInt("RATE_LIMIT_BURST", 20),
		AllowedOrigins:        splitList(getenv("ALLOWED_ORIGINS", "")),
		HistoryLimit:          getenvInt("HISTORY_LIMIT", 50),
		LogLevel:              getenv("LOG_LEVEL", "info"),
	}
}

// LoadFile 把 YAML 文件覆盖到 base 上；文件中未出现的字段保持 base 的值。
func LoadFile(path string, base Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate 检查启动所需的最小配置；非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	switch cfg.StoreDriver {
	case "", DriverPostgres:
		if cfg.DatabaseDSN == "" {
			return errors.New("config: database dsn is required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", cfg.StoreDriver)
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == "" || cfg.JWTSecret == DefaultJWTSecret) {
		return errors.New("config: JWT_SECRET must be set outside dev")
	}
	return nil
}
