// Package config собирает конфигурацию из флагов с fallback на переменные окружения.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerConfig конфигурация сервера синхронизации
type ServerConfig struct {
	Addr        string
	DatabaseDSN string
	MediaDir    string
	TokenSecret string
	TokenTTL    time.Duration
	LogLevel    string
	RateLimit   int
	RateWindow  time.Duration
}

// ClientConfig конфигурация клиента
type ClientConfig struct {
	ServerURL    string
	DatabasePath string
	Token        string
	ClientID     string
	BatchSize    int
	SyncInterval time.Duration
	LogLevel     string
}

// LoadServer парсит флаги сервера; значения по умолчанию берутся из окружения
func LoadServer(args []string) (*ServerConfig, error) {
	fs := flag.NewFlagSet("fieldsync-server", flag.ContinueOnError)

	cfg := &ServerConfig{}
	fs.StringVar(&cfg.Addr, "addr", envString("FIELDSYNC_ADDR", ":8080"), "listen address")
	fs.StringVar(&cfg.DatabaseDSN, "db", envString("FIELDSYNC_DB", "fieldsync.db"), "sqlite database path")
	fs.StringVar(&cfg.MediaDir, "media-dir", envString("FIELDSYNC_MEDIA_DIR", "media"), "media blob directory")
	fs.StringVar(&cfg.TokenSecret, "secret", envString("FIELDSYNC_SECRET", ""), "JWT and upload URL signing secret")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", envDuration("FIELDSYNC_TOKEN_TTL", 24*time.Hour), "device token TTL")
	fs.StringVar(&cfg.LogLevel, "log-level", envString("FIELDSYNC_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.IntVar(&cfg.RateLimit, "rate-limit", envInt("FIELDSYNC_RATE_LIMIT", 120), "requests per window per device")
	fs.DurationVar(&cfg.RateWindow, "rate-window", envDuration("FIELDSYNC_RATE_WINDOW", time.Minute), "rate limit window")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("token secret is required (-secret or FIELDSYNC_SECRET)")
	}

	return cfg, nil
}

// LoadClient парсит флаги клиента до первой команды
func LoadClient(fs *flag.FlagSet) *ClientConfig {
	cfg := &ClientConfig{}
	fs.StringVar(&cfg.ServerURL, "server", envString("FIELDSYNC_SERVER", "http://localhost:8080"), "server URL")
	fs.StringVar(&cfg.DatabasePath, "db", envString("FIELDSYNC_CLIENT_DB", "fieldsync-client.db"), "local database path")
	fs.StringVar(&cfg.Token, "token", envString("FIELDSYNC_TOKEN", ""), "device access token")
	fs.StringVar(&cfg.ClientID, "client-id", envString("FIELDSYNC_CLIENT_ID", ""), "device identifier")
	fs.IntVar(&cfg.BatchSize, "batch-size", envInt("FIELDSYNC_BATCH_SIZE", 100), "max changes per sync batch")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", envDuration("FIELDSYNC_SYNC_INTERVAL", 30*time.Second), "background sync interval")
	fs.StringVar(&cfg.LogLevel, "log-level", envString("FIELDSYNC_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
