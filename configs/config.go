package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	SignatureModeHMAC              = "hmac"
	SignatureModeInsecureAcceptAll = "insecure_accept_all"

	minJWTSecretLength = 32
)

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
		// Timezone decides where the dashboard's business day starts.
		Timezone string `koanf:"timezone"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout    time.Duration `koanf:"read_timeout"`
		WriteTimeout   time.Duration `koanf:"write_timeout"`
		IdleTimeout    time.Duration `koanf:"idle_timeout"`
		AllowedOrigins []string      `koanf:"allowed_origins"`
	} `koanf:"http"`

	Postgres struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"postgres"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Kafka struct {
		Brokers      []string `koanf:"brokers"`
		Topic        string   `koanf:"topic"`
		AuditGroupID string   `koanf:"audit_group_id"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret string        `koanf:"jwt_secret"`
		TokenTTL  time.Duration `koanf:"token_ttl"`
		// BootstrapAdmin, when Email is set, is created on startup if no
		// account with that email exists yet.
		BootstrapAdmin struct {
			Email    string `koanf:"email"`
			Password string `koanf:"password"`
			Name     string `koanf:"name"`
		} `koanf:"bootstrap_admin"`
	} `koanf:"security"`

	Gateway struct {
		BaseURL       string        `koanf:"base_url"`
		KeyID         string        `koanf:"key_id"`
		KeySecret     string        `koanf:"key_secret"`
		Timeout       time.Duration `koanf:"timeout"`
		SignatureMode string        `koanf:"signature_mode"`
	} `koanf:"gateway"`

	Orders struct {
		AllowPaidDeletion bool `koanf:"allow_paid_deletion"`
		EnforceTotals     bool `koanf:"enforce_totals"`
		RecentLimit       int  `koanf:"recent_limit"`
	} `koanf:"orders"`

	Storage struct {
		Bucket        string `koanf:"bucket"`
		Region        string `koanf:"region"`
		AccessKey     string `koanf:"access_key"`
		SecretKey     string `koanf:"secret_key"`
		PublicBaseURL string `koanf:"public_base_url"`
		// Endpoint points at an S3-compatible server (MinIO, LocalStack).
		Endpoint     string `koanf:"endpoint"`
		UsePathStyle bool   `koanf:"use_path_style"`
	} `koanf:"storage"`

	RateLimit struct {
		LoginRPS   float64 `koanf:"login_rps"`
		LoginBurst int     `koanf:"login_burst"`
	} `koanf:"ratelimit"`
}

// Load reads base.yaml, an optional <envName>.yaml, then POSAPI_ environment
// variables, where a double underscore separates nested keys
// (POSAPI_SECURITY__JWT_SECRET -> security.jwt_secret).
func Load(pathDir, envName string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load base: %w", err)
	}

	if envName != "" {
		_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())
	}

	if err := k.Load(env.Provider("POSAPI_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "POSAPI_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn required")
	}
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("security.jwt_secret must be at least %d characters", minJWTSecretLength)
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("security.token_ttl must be positive")
	}
	if c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" {
		return fmt.Errorf("gateway.key_id and gateway.key_secret required")
	}
	switch c.Gateway.SignatureMode {
	case SignatureModeHMAC, SignatureModeInsecureAcceptAll:
	default:
		return fmt.Errorf("gateway.signature_mode must be %q or %q, got %q",
			SignatureModeHMAC, SignatureModeInsecureAcceptAll, c.Gateway.SignatureMode)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required")
	}
	return nil
}

// Location resolves app.timezone, defaulting to the host's zone.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || c.App.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.App.Timezone)
}
