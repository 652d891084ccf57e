// config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	MinCheckInterval     = 5 * time.Second
	MaxCheckInterval     = 300 * time.Second
	DefaultCheckInterval = 30 * time.Second
)

var ErrMissingGatewayToken = errors.New("GAME_SERVICE_TOKEN is not set")

type DatabaseConfig struct {
	URL              string
	Host             string
	Port             int
	Name             string
	User             string
	Password         string
	SSLMode          string
	MaxConns         int
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// DSN returns DATABASE_URL when set, otherwise a postgres URL built from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.Host + ":" + strconv.Itoa(d.Port),
		Path:   "/" + d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	if d.StatementTimeout > 0 {
		q.Set("statement_timeout", strconv.FormatInt(d.StatementTimeout.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.Bucket != "" && r.AccessKeyID != ""
}

type Config struct {
	ServerID      string
	ServiceName   string
	HTTPAddr      string
	GatewayToken  string
	LogLevel      string
	ElasticURL    string
	MqURL         string
	RewardStore   string
	CheckEnabled  bool
	CheckInterval time.Duration
	ClaimCooldown time.Duration
	Database      DatabaseConfig
	R2            R2Config
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ServerID:      envString("SERVER_ID", "shop-1"),
		ServiceName:   envString("SERVICE_NAME", "shop-reward-system"),
		HTTPAddr:      envString("HTTP_ADDR", ":5300"),
		GatewayToken:  envString("GAME_SERVICE_TOKEN", ""),
		LogLevel:      envString("LOG_LEVEL", "info"),
		ElasticURL:    envString("ELASTIC_URL", ""),
		MqURL:         envString("MQ_URL", ""),
		RewardStore:   envString("REWARD_STORE", "postgres"),
		CheckEnabled:  envBool("REWARD_CHECK_ENABLED", true),
		CheckInterval: ClampCheckInterval(envDuration("REWARD_CHECK_INTERVAL", DefaultCheckInterval)),
		ClaimCooldown: envDuration("CLAIM_COOLDOWN", 3*time.Second),
		Database: DatabaseConfig{
			URL:              envString("DATABASE_URL", ""),
			Host:             envString("SHOP_DB_HOST", "127.0.0.1"),
			Port:             envInt("SHOP_DB_PORT", 5432),
			Name:             envString("SHOP_DB_NAME", "arffornia"),
			User:             envString("SHOP_DB_USER", "laravel"),
			Password:         envString("SHOP_DB_PASSWORD", "laravel"),
			SSLMode:          envString("SHOP_DB_SSLMODE", "disable"),
			MaxConns:         envInt("SHOP_DB_MAX_CONNS", 5),
			StatementTimeout: envDuration("SHOP_DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      envBool("SHOP_DB_AUTOMIGRATE", false),
		},
		R2: R2Config{
			AccountID:       envString("CLOUDFLARE_ACCOUNT_ID", ""),
			AccessKeyID:     envString("R2_ACCESS_KEY_ID", ""),
			AccessKeySecret: envString("R2_ACCESS_KEY_SECRET", ""),
			Bucket:          envString("R2_BUCKET_NAME", ""),
			CDNBaseURL:      envString("CDN_BASE_URL", ""),
		},
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.GatewayToken == "" {
		return ErrMissingGatewayToken
	}
	switch c.RewardStore {
	case "postgres", "memory":
	default:
		return fmt.Errorf("REWARD_STORE must be postgres or memory, got %q", c.RewardStore)
	}
	return nil
}

// ClampCheckInterval bounds the periodic reward check to [5s, 300s].
func ClampCheckInterval(d time.Duration) time.Duration {
	if d < MinCheckInterval {
		return MinCheckInterval
	}
	if d > MaxCheckInterval {
		return MaxCheckInterval
	}
	return d
}
