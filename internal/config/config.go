package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir    string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	SessionTTL       time.Duration `mapstructure:"SESSION_TTL"`
	SessionLockTTL   time.Duration `mapstructure:"SESSION_LOCK_TTL"`
	JWTSigningKey    string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTTTL           time.Duration `mapstructure:"JWT_TTL"`
	DemoPassword     string        `mapstructure:"DEMO_PASSWORD"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	OCRMode          string        `mapstructure:"OCR_MODE"`
	OCRURL           string        `mapstructure:"OCR_URL"`
	OCRStepInterval  time.Duration `mapstructure:"OCR_STEP_INTERVAL"`
	OCRCompleteDelay time.Duration `mapstructure:"OCR_COMPLETE_DELAY"`
	MatchMode        string        `mapstructure:"MATCH_MODE"`
	MatchSeed        int64         `mapstructure:"MATCH_SEED"`
	BlobBackend      string        `mapstructure:"BLOB_BACKEND"`
	S3Bucket         string        `mapstructure:"S3_BUCKET"`
	S3Region         string        `mapstructure:"S3_REGION"`
	S3Endpoint       string        `mapstructure:"S3_ENDPOINT"`
	AMQPURL          string        `mapstructure:"AMQP_URL"`
	AMQPExchange     string        `mapstructure:"AMQP_EXCHANGE"`
	AssistantDelay   time.Duration `mapstructure:"ASSISTANT_DELAY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("SESSION_LOCK_TTL", "5s")
	v.SetDefault("JWT_TTL", "8h")
	v.SetDefault("DEMO_PASSWORD", "demo123")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("OCR_MODE", "stub")
	v.SetDefault("OCR_STEP_INTERVAL", "800ms")
	v.SetDefault("OCR_COMPLETE_DELAY", "1s")
	v.SetDefault("MATCH_MODE", "registry")
	v.SetDefault("BLOB_BACKEND", "memory")
	v.SetDefault("S3_REGION", "ap-southeast-1")
	v.SetDefault("AMQP_EXCHANGE", "mediscan.events")
	v.SetDefault("ASSISTANT_DELAY", "1500ms")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
		"REDIS_URL", "SESSION_TTL", "SESSION_LOCK_TTL",
		"JWT_SIGNING_KEY", "JWT_TTL", "DEMO_PASSWORD",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"OCR_MODE", "OCR_URL", "OCR_STEP_INTERVAL", "OCR_COMPLETE_DELAY",
		"MATCH_MODE", "MATCH_SEED",
		"BLOB_BACKEND", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT",
		"AMQP_URL", "AMQP_EXCHANGE", "ASSISTANT_DELAY",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsDev() && cfg.JWTSigningKey == "" {
		log.Println("WARNING: JWT_SIGNING_KEY is not set, using the development signing key.")
		log.Println("WARNING: Set ENV=production and JWT_SIGNING_KEY before exposing this server.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// devSigningKey is only used when ENV=development and no key is configured.
var devSigningKey = []byte("mediscan-development-signing-key")

// SigningKey returns the decoded HMAC key used for bearer tokens.
func (c *Config) SigningKey() ([]byte, error) {
	if c.JWTSigningKey == "" {
		if c.IsProduction() {
			return nil, fmt.Errorf("JWT_SIGNING_KEY is required in production")
		}
		return devSigningKey, nil
	}
	key, err := hex.DecodeString(c.JWTSigningKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if _, err := c.SigningKey(); err != nil {
		return err
	}

	switch c.OCRMode {
	case "stub":
	case "remote":
		if c.OCRURL == "" {
			return fmt.Errorf("OCR_URL is required when OCR_MODE is \"remote\"")
		}
	default:
		return fmt.Errorf("OCR_MODE must be \"stub\" or \"remote\", got %q", c.OCRMode)
	}

	if c.MatchMode != "registry" && c.MatchMode != "demo" {
		return fmt.Errorf("MATCH_MODE must be \"registry\" or \"demo\", got %q", c.MatchMode)
	}
	if c.IsProduction() && c.MatchMode == "demo" {
		return fmt.Errorf("MATCH_MODE=demo is not allowed in production")
	}

	switch c.BlobBackend {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND is \"s3\"")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be \"memory\" or \"s3\", got %q", c.BlobBackend)
	}

	if c.OCRStepInterval <= 0 || c.OCRCompleteDelay < 0 {
		return fmt.Errorf("OCR_STEP_INTERVAL must be positive and OCR_COMPLETE_DELAY non-negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	return nil
}
