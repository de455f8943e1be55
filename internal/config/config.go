package config

import "time"

// Config is the root configuration for an ingestion instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Data     DataConfig     `yaml:"data"`
	API      APIConfig      `yaml:"api"`
	Symbols  []SymbolConfig `yaml:"symbols"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Feed     FeedConfig     `yaml:"feed"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Poller   PollerConfig   `yaml:"poller"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// DataConfig locates the trade logs.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// APIConfig holds exchange API settings.
type APIConfig struct {
	RestURL     string        `yaml:"rest_url"`
	WSURL       string        `yaml:"ws_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffUnit time.Duration `yaml:"backoff_unit"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	Burst       int           `yaml:"burst"` // Consecutive unpaced REST requests
}

// SymbolConfig is one symbol, or a group of symbols sharing settings.
type SymbolConfig struct {
	Name    string         `yaml:"name"`
	Market  string         `yaml:"market"`
	Time    string         `yaml:"time"`  // IANA zone
	Start   string         `yaml:"start"` // Year, date, naive date-time or RFC 3339
	Symbols []SymbolConfig `yaml:"symbols"`
}

// IngestConfig holds orchestrator settings.
type IngestConfig struct {
	Warmup          time.Duration `yaml:"warmup"`
	BufferMax       int           `yaml:"buffer_max"`
	BufferRetain    int           `yaml:"buffer_retain"`
	LoadConcurrency int           `yaml:"load_concurrency"`
	InboxSize       int           `yaml:"inbox_size"`
}

// FeedConfig holds downstream feed server settings.
type FeedConfig struct {
	Addr         string        `yaml:"addr"`
	Path         string        `yaml:"path"`
	QueueSize    int           `yaml:"queue_size"`
	PingInterval time.Duration `yaml:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MirrorConfig holds the optional SQL mirror settings.
type MirrorConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	ApplicationName string `yaml:"application_name"`
	MaxConns        int    `yaml:"max_conns"`
	MinConns        int    `yaml:"min_conns"`
}

// PollerConfig holds REST backfill settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"` // 0: run once
	Concurrency int           `yaml:"concurrency"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds log level and optional file rotation settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}
