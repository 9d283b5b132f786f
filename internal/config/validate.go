package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	if !isHTTPURL(c.API.BaseURL) {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if !isHTTPURL(c.Build.BaseURL) {
		return fmt.Errorf("build.base_url must be an http(s) URL, got %q", c.Build.BaseURL)
	}
	return nil
}

func (c *Config) validateTimings() error {
	return ensurePositiveMap(map[string]int{
		"api.request_timeout":          c.API.RequestTimeout,
		"api.upload_timeout":           c.API.UploadTimeout,
		"build.request_timeout":        c.Build.RequestTimeout,
		"build.part_size_mib":          c.Build.PartSizeMiB,
		"build.concurrency":            c.Build.Concurrency,
		"coordinator.poll_interval":    c.Coordinator.PollInterval,
		"coordinator.mailbox_size":     c.Coordinator.MailboxSize,
		"coordinator.port_buffer_size": c.Coordinator.PortBufferSize,
		"upload.progress_interval_ms":  c.Upload.ProgressIntervalMillis,
		"upload.speed_window_seconds":  c.Upload.SpeedWindowSeconds,
		"retention.sweep_interval":     c.Retention.SweepInterval,
	})
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageAuto, StorageFilesystem, StorageBolt:
	default:
		return fmt.Errorf("storage.backend must be one of auto, filesystem, bolt; got %q", c.Storage.Backend)
	}
	if c.Storage.MinFreeMiB < 0 {
		return errors.New("storage.min_free_mib must not be negative")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.MaxAgeHours < 0 {
		return errors.New("retention.max_age_hours must not be negative")
	}
	if c.Retention.MaxMiB < 0 {
		return errors.New("retention.max_mib must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json; got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error; got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
