// Package config loads gateway configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config holds all gateway settings.
type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"GATEWAY_LISTEN_ADDR,default=:3000"`
	LogLevel   string `yaml:"log_level" env:"GATEWAY_LOG_LEVEL,default=info"`
	LogFormat  string `yaml:"log_format" env:"GATEWAY_LOG_FORMAT,default=text"`

	// JWTSecret signs and verifies API tokens. Required.
	JWTSecret string `yaml:"jwt_secret" env:"GATEWAY_JWT_SECRET"`

	// DatabaseDSN points at the Postgres instance holding both the
	// whatsmeow device session and the gateway's group records. Required.
	DatabaseDSN string `yaml:"database_dsn" env:"GATEWAY_DATABASE_DSN"`

	AuditLogPath string `yaml:"audit_log_path" env:"GATEWAY_AUDIT_LOG_PATH,default=logs/whatsapp.log"`

	// DefaultCountryCode is prepended to bare 10-digit phone numbers.
	DefaultCountryCode string `yaml:"default_country_code" env:"GATEWAY_DEFAULT_COUNTRY_CODE,default=1"`
	// AddressSuffix is the transport contact-identifier domain.
	AddressSuffix string `yaml:"address_suffix" env:"GATEWAY_ADDRESS_SUFFIX,default=c.us"`

	// Broad admission window, applied to every gateway route.
	BroadLimit  int           `yaml:"broad_limit" env:"GATEWAY_BROAD_LIMIT,default=100"`
	BroadWindow time.Duration `yaml:"broad_window" env:"GATEWAY_BROAD_WINDOW,default=15m"`

	// Mutation admission window, applied to group-mutating routes only.
	MutationLimit  int           `yaml:"mutation_limit" env:"GATEWAY_MUTATION_LIMIT,default=10"`
	MutationWindow time.Duration `yaml:"mutation_window" env:"GATEWAY_MUTATION_WINDOW,default=5m"`

	// CredentialWait bounds the single deferred retry on QR retrieval.
	CredentialWait time.Duration `yaml:"credential_wait" env:"GATEWAY_CREDENTIAL_WAIT,default=2s"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"GATEWAY_CORS_ALLOWED_ORIGINS,default=*"`
}

// Load reads the YAML file at path (when it exists), applies environment
// overrides, and validates required settings. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	// envdecode fills defaults and environment overrides; values already
	// set from YAML are only replaced when the variable is present.
	if err := decodeEnv(&cfg); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret (GATEWAY_JWT_SECRET) is required")
	}
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("database_dsn (GATEWAY_DATABASE_DSN) is required")
	}
	return &cfg, nil
}

func decodeEnv(cfg *Config) error {
	// Preserve YAML-provided values that envdecode defaults would clobber.
	fromFile := *cfg

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return fmt.Errorf("decode environment: %w", err)
	}

	restore := func(envVar string, dst, fileVal interface{}) {
		if _, set := os.LookupEnv(envVar); set {
			return
		}
		switch d := dst.(type) {
		case *string:
			if v := fileVal.(string); v != "" {
				*d = v
			}
		case *int:
			if v := fileVal.(int); v != 0 {
				*d = v
			}
		case *time.Duration:
			if v := fileVal.(time.Duration); v != 0 {
				*d = v
			}
		case *[]string:
			if v := fileVal.([]string); len(v) > 0 {
				*d = v
			}
		}
	}

	restore("GATEWAY_LISTEN_ADDR", &cfg.ListenAddr, fromFile.ListenAddr)
	restore("GATEWAY_LOG_LEVEL", &cfg.LogLevel, fromFile.LogLevel)
	restore("GATEWAY_LOG_FORMAT", &cfg.LogFormat, fromFile.LogFormat)
	restore("GATEWAY_JWT_SECRET", &cfg.JWTSecret, fromFile.JWTSecret)
	restore("GATEWAY_DATABASE_DSN", &cfg.DatabaseDSN, fromFile.DatabaseDSN)
	restore("GATEWAY_AUDIT_LOG_PATH", &cfg.AuditLogPath, fromFile.AuditLogPath)
	restore("GATEWAY_DEFAULT_COUNTRY_CODE", &cfg.DefaultCountryCode, fromFile.DefaultCountryCode)
	restore("GATEWAY_ADDRESS_SUFFIX", &cfg.AddressSuffix, fromFile.AddressSuffix)
	restore("GATEWAY_BROAD_LIMIT", &cfg.BroadLimit, fromFile.BroadLimit)
	restore("GATEWAY_BROAD_WINDOW", &cfg.BroadWindow, fromFile.BroadWindow)
	restore("GATEWAY_MUTATION_LIMIT", &cfg.MutationLimit, fromFile.MutationLimit)
	restore("GATEWAY_MUTATION_WINDOW", &cfg.MutationWindow, fromFile.MutationWindow)
	restore("GATEWAY_CREDENTIAL_WAIT", &cfg.CredentialWait, fromFile.CredentialWait)
	restore("GATEWAY_CORS_ALLOWED_ORIGINS", &cfg.CORSAllowedOrigins, fromFile.CORSAllowedOrigins)
	return nil
}
