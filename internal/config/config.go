package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port           string
	StorageDriver  string
	DatabaseURL    string
	JWTSecret      string
	JWTIssuer      string
	JWTTTL         time.Duration
	CORSOrigins    []string
	InitBalance    decimal.Decimal
	AllowOverdraft bool
	AdjustTimeout  time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
	RedisAddr      string
	RedisChannel   string
	LogLevel       slog.Level
}

// Storage is the subset of Config needed to open the store and seed accounts.
type Storage struct {
	Driver      string
	DatabaseURL string
	InitBalance decimal.Decimal
}

// LoadStorage reads and validates STORAGE_DRIVER, DATABASE_URL and INIT_BALANCE.
func LoadStorage() (Storage, error) {
	st := Storage{
		Driver:      strings.ToLower(fallback(os.Getenv("STORAGE_DRIVER"), "postgres")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}

	balance, err := decimal.NewFromString(fallback(os.Getenv("INIT_BALANCE"), "1000"))
	if err != nil || balance.Exponent() > 22 || balance.Exponent() < -24 || balance.IsNegative() || balance.GreaterThanOrEqual(decimal.New(1, 22)) {
		return Storage{}, errors.New("INIT_BALANCE must be a non-negative decimal below 1e22")
	}
	st.InitBalance = balance.Round(2)

	switch st.Driver {
	case "postgres", "gorm":
		if st.DatabaseURL == "" {
			return Storage{}, errors.New("DATABASE_URL is required")
		}
	case "memory":
	default:
		return Storage{}, fmt.Errorf("STORAGE_DRIVER %q is not one of postgres, gorm, memory", st.Driver)
	}
	return st, nil
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	st, err := LoadStorage()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Port:          fallback(os.Getenv("PORT"), "8080"),
		StorageDriver: st.Driver,
		DatabaseURL:   st.DatabaseURL,
		InitBalance:   st.InitBalance,
		JWTSecret:     strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:     fallback(os.Getenv("JWT_ISSUER"), "all-in-backend"),
		CORSOrigins:   parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
		KafkaBrokers:  parseCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    fallback(os.Getenv("KAFKA_TOPIC"), "balance_changed"),
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisChannel:  fallback(os.Getenv("REDIS_CHANNEL"), "balance:changed"),
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	cfg.JWTTTL = minutes(os.Getenv("JWT_TTL_MINUTES"), 24*60)
	cfg.AdjustTimeout = time.Duration(positiveInt(os.Getenv("ADJUST_TIMEOUT_SECONDS"), 5)) * time.Second

	overdraft, err := strconv.ParseBool(fallback(os.Getenv("ALLOW_OVERDRAFT"), "true"))
	if err != nil {
		return Config{}, fmt.Errorf("ALLOW_OVERDRAFT: %w", err)
	}
	cfg.AllowOverdraft = overdraft

	if err := cfg.LogLevel.UnmarshalText([]byte(fallback(os.Getenv("LOG_LEVEL"), "info"))); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func positiveInt(value string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n > 0 {
		return n
	}
	return def
}

func minutes(value string, def int) time.Duration {
	return time.Duration(positiveInt(value, def)) * time.Minute
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
