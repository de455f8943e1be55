package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDataDir          = "data"
	DefaultRestURL          = "https://api.kraken.com"
	DefaultWSURL            = "wss://ws.kraken.com/v2"
	DefaultAPITimeout       = 30 * time.Second
	DefaultMaxRetries       = 5
	DefaultBackoffUnit      = time.Second
	DefaultBackoffMax       = 5 * time.Second
	DefaultBurst            = 22
	DefaultMarket           = "Kraken"
	DefaultWarmup           = 6 * time.Hour
	DefaultBufferMax        = 300_000
	DefaultBufferRetain     = 250_000
	DefaultLoadConcurrency  = 4
	DefaultInboxSize        = 1024
	DefaultFeedAddr         = ":8765"
	DefaultFeedPath         = "/"
	DefaultFeedQueueSize    = 16
	DefaultFeedPingInterval = 30 * time.Second
	DefaultFeedWriteTimeout = 10 * time.Second
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultBatchSize        = 1000
	DefaultFlushInterval    = 5 * time.Second
	DefaultPollConcurrency  = 1
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogMaxSizeMB     = 100
	DefaultLogMaxBackups    = 5
	DefaultLogMaxAgeDays    = 28
)

func (c *Config) applyDefaults() {
	if c.Data.Dir == "" {
		c.Data.Dir = DefaultDataDir
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.BackoffUnit == 0 {
		c.API.BackoffUnit = DefaultBackoffUnit
	}
	if c.API.BackoffMax == 0 {
		c.API.BackoffMax = DefaultBackoffMax
	}
	if c.API.Burst == 0 {
		c.API.Burst = DefaultBurst
	}

	// Ingest defaults
	if c.Ingest.Warmup == 0 {
		c.Ingest.Warmup = DefaultWarmup
	}
	if c.Ingest.BufferMax == 0 {
		c.Ingest.BufferMax = DefaultBufferMax
	}
	if c.Ingest.BufferRetain == 0 {
		c.Ingest.BufferRetain = min(DefaultBufferRetain, c.Ingest.BufferMax)
	}
	if c.Ingest.LoadConcurrency == 0 {
		c.Ingest.LoadConcurrency = DefaultLoadConcurrency
	}
	if c.Ingest.InboxSize == 0 {
		c.Ingest.InboxSize = DefaultInboxSize
	}

	// Feed defaults
	if c.Feed.Addr == "" {
		c.Feed.Addr = DefaultFeedAddr
	}
	if c.Feed.Path == "" {
		c.Feed.Path = DefaultFeedPath
	}
	if c.Feed.QueueSize == 0 {
		c.Feed.QueueSize = DefaultFeedQueueSize
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultFeedPingInterval
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultFeedWriteTimeout
	}

	// Mirror defaults
	applyDBDefaults(&c.Mirror.Database, c.Instance.ID)
	if c.Mirror.BatchSize == 0 {
		c.Mirror.BatchSize = DefaultBatchSize
	}
	if c.Mirror.FlushInterval == 0 {
		c.Mirror.FlushInterval = DefaultFlushInterval
	}

	// Poller defaults
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

func applyDBDefaults(db *DBConfig, instance string) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.ApplicationName == "" {
		db.ApplicationName = instance
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
