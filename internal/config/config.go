package config

import "time"

// Backend kinds.
const (
	BackendNone    = "none"
	BackendWS      = "ws"
	BackendRedis   = "redis"
	BackendJournal = "journal"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// MaxMessageBytes caps a single inbound watcher frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	// BatchInterval is how long the writer waits to coalesce queued events
	// into one batch frame.
	BatchInterval time.Duration `mapstructure:"batch_interval" yaml:"batch_interval"`
	// MaxQueuedEvents caps the events waiting for one watcher's writer. A
	// watcher that overflows it is disconnected. Zero disables the cap.
	MaxQueuedEvents int `mapstructure:"max_queued_events" yaml:"max_queued_events"`
	// ClientRateLimit is the number of inbound frames per second a watcher may
	// send. Zero disables the limit.
	ClientRateLimit int `mapstructure:"client_rate_limit" yaml:"client_rate_limit"`

	Shards            int  `mapstructure:"shards" yaml:"shards"`
	BackID            int  `mapstructure:"back_id" yaml:"back_id"`
	KeepWatchedSpaces bool `mapstructure:"keep_watched_spaces" yaml:"keep_watched_spaces"`

	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
}

// BackendConfig selects and configures the upstream link.
type BackendConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind"`

	// ws
	URL         string        `mapstructure:"url" yaml:"url"`
	TokenSecret string        `mapstructure:"token_secret" yaml:"token_secret"`
	TokenIssuer string        `mapstructure:"token_issuer" yaml:"token_issuer"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	// redis
	RedisURL     string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisChannel string `mapstructure:"redis_channel" yaml:"redis_channel"`

	// journal
	JournalPath string `mapstructure:"journal_path" yaml:"journal_path"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		MaxMessageBytes:   64 << 10,
		BatchInterval:     50 * time.Millisecond,
		MaxQueuedEvents:   1024,
		ClientRateLimit:   50,
		Shards:            4,
		Backend: BackendConfig{
			Kind:         BackendNone,
			TokenIssuer:  "spacerelay",
			TokenTTL:     time.Hour,
			RedisURL:     "redis://localhost:6379/0",
			RedisChannel: "spacerelay",
			JournalPath:  "spacerelay.db",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.BatchInterval != 0 {
		c.BatchInterval = other.BatchInterval
	}
	if other.MaxQueuedEvents != 0 {
		c.MaxQueuedEvents = other.MaxQueuedEvents
	}
	if other.ClientRateLimit != 0 {
		c.ClientRateLimit = other.ClientRateLimit
	}
	if other.Shards != 0 {
		c.Shards = other.Shards
	}
	if other.BackID != 0 {
		c.BackID = other.BackID
	}
	if other.KeepWatchedSpaces {
		c.KeepWatchedSpaces = true
	}
	c.Backend.updateFrom(other.Backend)
}

func (b *BackendConfig) updateFrom(other BackendConfig) {
	if other.Kind != "" {
		b.Kind = other.Kind
	}
	if other.URL != "" {
		b.URL = other.URL
	}
	if other.TokenSecret != "" {
		b.TokenSecret = other.TokenSecret
	}
	if other.TokenIssuer != "" {
		b.TokenIssuer = other.TokenIssuer
	}
	if other.TokenTTL != 0 {
		b.TokenTTL = other.TokenTTL
	}
	if other.RedisURL != "" {
		b.RedisURL = other.RedisURL
	}
	if other.RedisChannel != "" {
		b.RedisChannel = other.RedisChannel
	}
	if other.JournalPath != "" {
		b.JournalPath = other.JournalPath
	}
}
