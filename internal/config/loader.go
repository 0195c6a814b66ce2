package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "LINECHAT"
	envConfigDefaultPath = "LINECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
// Nested keys map to env vars with "_", e.g. LINECHAT_DATABASE_DSN.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}
	return cfg, configPath, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("idle_timeout", cfg.IdleTimeout)
	v.SetDefault("max_line_bytes", cfg.MaxLineBytes)
	v.SetDefault("outbound_buffer", cfg.OutboundBuffer)
	v.SetDefault("history_limit", cfg.HistoryLimit)
	v.SetDefault("time_zone", cfg.TimeZone)
	v.SetDefault("admin_username", cfg.AdminUsername)
	v.SetDefault("admin_password", cfg.AdminPassword)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	v.SetDefault("tls.addr", cfg.TLS.Addr)
	v.SetDefault("tls.cert_file", cfg.TLS.CertFile)
	v.SetDefault("tls.key_file", cfg.TLS.KeyFile)

	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.dsn", cfg.Database.DSN)

	v.SetDefault("admin_http.addr", cfg.AdminHTTP.Addr)
	v.SetDefault("admin_http.read_header_timeout", cfg.AdminHTTP.ReadHeaderTimeout)
	v.SetDefault("admin_http.jwt_secret", cfg.AdminHTTP.JWTSecret)
	v.SetDefault("admin_http.jwt_issuer", cfg.AdminHTTP.JWTIssuer)
	v.SetDefault("admin_http.jwt_audience", cfg.AdminHTTP.JWTAudience)
	v.SetDefault("admin_http.token_ttl", cfg.AdminHTTP.TokenTTL)
	v.SetDefault("admin_http.websocket", cfg.AdminHTTP.WebSocket)
	v.SetDefault("admin_http.origin_patterns", cfg.AdminHTTP.OriginPatterns)

	v.SetDefault("attachments.max_bytes", cfg.Attachments.MaxBytes)
	v.SetDefault("attachments.s3.bucket", cfg.Attachments.S3.Bucket)
	v.SetDefault("attachments.s3.region", cfg.Attachments.S3.Region)
	v.SetDefault("attachments.s3.endpoint", cfg.Attachments.S3.Endpoint)
	v.SetDefault("attachments.s3.access_key", cfg.Attachments.S3.AccessKey)
	v.SetDefault("attachments.s3.secret_key", cfg.Attachments.S3.SecretKey)

	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)
	v.SetDefault("rate_limit.interval", cfg.RateLimit.Interval)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Addr == "" {
		return errors.New("listen address is required")
	}
	if c.MaxLineBytes < 1024 {
		return fmt.Errorf("max_line_bytes too small: %d", c.MaxLineBytes)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls needs both cert_file and key_file")
	}
	if c.TLS.Addr != "" && !c.TLS.Enabled() {
		return errors.New("tls addr set without cert_file and key_file")
	}
	if c.TLS.Addr != "" && c.TLS.Addr == c.Addr {
		return errors.New("tls addr must differ from addr")
	}
	return nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
