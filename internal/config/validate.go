package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Data.Dir == "" {
		return errors.New("data.dir is required")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.Burst < 1 {
		return errors.New("api.burst must be >= 1")
	}
	if c.API.BackoffMax < c.API.BackoffUnit {
		return fmt.Errorf("api.backoff_max (%s) cannot be less than backoff_unit (%s)", c.API.BackoffMax, c.API.BackoffUnit)
	}

	if len(c.Symbols) == 0 {
		return errors.New("symbols must list at least one symbol")
	}
	zones, err := c.Zones()
	if err != nil {
		return err
	}
	if _, err := c.Instruments(zones); err != nil {
		return err
	}

	if c.Ingest.Warmup <= 0 {
		return errors.New("ingest.warmup must be > 0")
	}
	if c.Ingest.BufferRetain < 1 {
		return errors.New("ingest.buffer_retain must be >= 1")
	}
	if c.Ingest.BufferRetain > c.Ingest.BufferMax {
		return fmt.Errorf("ingest.buffer_retain (%d) cannot exceed buffer_max (%d)", c.Ingest.BufferRetain, c.Ingest.BufferMax)
	}
	if c.Ingest.LoadConcurrency < 1 {
		return errors.New("ingest.load_concurrency must be >= 1")
	}
	if c.Ingest.InboxSize < 1 {
		return errors.New("ingest.inbox_size must be >= 1")
	}

	if c.Feed.QueueSize < 1 {
		return errors.New("feed.queue_size must be >= 1")
	}
	if !strings.HasPrefix(c.Feed.Path, "/") {
		return fmt.Errorf("feed.path must start with /, got %q", c.Feed.Path)
	}

	if c.Mirror.Enabled {
		if err := c.Mirror.Database.validate("mirror.database"); err != nil {
			return err
		}
		if c.Mirror.BatchSize < 1 {
			return errors.New("mirror.batch_size must be >= 1")
		}
	}

	if c.Poller.Interval < 0 {
		return errors.New("poller.interval must be >= 0")
	}
	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
