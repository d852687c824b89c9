package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	JWTAccessSecret  string   `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string   `mapstructure:"JWT_REFRESH_SECRET"`
	SecretsKey       string   `mapstructure:"SECRETS_KEY"`
	UploadDir        string   `mapstructure:"UPLOAD_DIR"`
	SMTPHost         string   `mapstructure:"SMTP_HOST"`
	SMTPPort         int      `mapstructure:"SMTP_PORT"`
	SMTPUser         string   `mapstructure:"SMTP_USER"`
	SMTPPassword     string   `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom         string   `mapstructure:"SMTP_FROM"`
	RateLimitRPS     float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("JWT_ACCESS_SECRET")
	v.BindEnv("JWT_REFRESH_SECRET")
	v.BindEnv("SECRETS_KEY")
	v.BindEnv("UPLOAD_DIR")
	v.BindEnv("SMTP_HOST")
	v.BindEnv("SMTP_PORT")
	v.BindEnv("SMTP_USER")
	v.BindEnv("SMTP_PASSWORD")
	v.BindEnv("SMTP_FROM")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

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

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTAccessSecret == "" {
		log.Println("WARNING: JWT_ACCESS_SECRET not set; using an insecure development secret.")
		cfg.JWTAccessSecret = "dev-access-secret"
		cfg.JWTRefreshSecret = "dev-refresh-secret"
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

// Validate checks that the configuration is safe to run. Outside development
// both JWT secrets must be set and must differ, so that refresh tokens cannot
// be replayed as access tokens. SECRETS_KEY, when present, must be a valid
// 64-character hex string (32 bytes when decoded).
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
			return fmt.Errorf(
				"JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required when ENV=%q. "+
					"Refusing to start without signing secrets", c.Env)
		}
		if c.JWTAccessSecret == c.JWTRefreshSecret {
			return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
		}
	}

	if c.IsProduction() && c.SecretsKey == "" {
		return fmt.Errorf("SECRETS_KEY is required in production")
	}
	if c.SecretsKey != "" {
		keyBytes, err := hex.DecodeString(c.SecretsKey)
		if err != nil {
			return fmt.Errorf("SECRETS_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("SECRETS_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}

	return nil
}
