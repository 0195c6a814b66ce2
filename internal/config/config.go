package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxLineBytes    int           `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	OutboundBuffer  int           `mapstructure:"outbound_buffer" yaml:"outbound_buffer"`
	HistoryLimit    int           `mapstructure:"history_limit" yaml:"history_limit"`
	TimeZone        string        `mapstructure:"time_zone" yaml:"time_zone"`
	AdminUsername   string        `mapstructure:"admin_username" yaml:"admin_username"`
	AdminPassword   string        `mapstructure:"admin_password" yaml:"admin_password"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string        `mapstructure:"log_format" yaml:"log_format"`

	TLS         TLSConfig         `mapstructure:"tls" yaml:"tls"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	AdminHTTP   AdminHTTPConfig   `mapstructure:"admin_http" yaml:"admin_http"`
	Attachments AttachmentsConfig `mapstructure:"attachments" yaml:"attachments"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// TLSConfig enables an encrypted chat listener. With Addr empty the main
// listener speaks TLS; otherwise TLS is served on Addr next to the plain one.
type TLSConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
}

// Enabled reports whether a certificate and key are configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// AdminHTTPConfig configures the operator HTTP API and the WebSocket bridge.
type AdminHTTPConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"` // empty disables the API
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	WebSocket         bool          `mapstructure:"websocket" yaml:"websocket"`
	// OriginPatterns lists extra browser origins allowed on /ws, e.g.
	// "chat.example.com". Same-origin requests are always allowed.
	OriginPatterns []string `mapstructure:"origin_patterns" yaml:"origin_patterns"`
}

// AttachmentsConfig configures file transfers.
type AttachmentsConfig struct {
	MaxBytes int64    `mapstructure:"max_bytes" yaml:"max_bytes"`
	S3       S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config points at an S3-compatible bucket. An empty bucket keeps files in memory.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// RateLimitConfig bounds chat commands per connection. Burst 0 disables limiting.
type RateLimitConfig struct {
	Burst    int           `mapstructure:"burst" yaml:"burst"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:            ":5000",
		ShutdownTimeout: 5 * time.Second,
		MaxLineBytes:    16 << 20,
		OutboundBuffer:  256,
		HistoryLimit:    50,
		TimeZone:        "Local",
		AdminUsername:   "admin",
		LogLevel:        "info",
		LogFormat:       "console",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "linechat.db",
		},
		AdminHTTP: AdminHTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			JWTSecret:         "change-me-in-production",
			JWTIssuer:         "linechat",
			JWTAudience:       "linechat-admin",
			TokenTTL:          time.Hour,
			WebSocket:         true,
		},
		Attachments: AttachmentsConfig{
			MaxBytes: 10 << 20,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		RateLimit: RateLimitConfig{
			Burst:    20,
			Interval: 100 * time.Millisecond,
		},
	}
}

// UpdateFrom overwrites non-zero command-line values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Database.Driver != "" {
		c.Database.Driver = other.Database.Driver
	}
	if other.Database.DSN != "" {
		c.Database.DSN = other.Database.DSN
	}
	if other.AdminHTTP.Addr != "" {
		c.AdminHTTP.Addr = other.AdminHTTP.Addr
	}
}
