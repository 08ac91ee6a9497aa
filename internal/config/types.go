package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the daemon configuration file.
//
// The file may be YAML or JSON; either way it is decoded strictly
// (unknown keys are rejected) so typos surface at startup or reload
// instead of being silently ignored.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Ingest    IngestConfig    `json:"ingest"`
	Telegram  TelegramConfig  `json:"telegram"`
	Capture   CaptureConfig   `json:"capture,omitempty"`
	Retention RetentionConfig `json:"retention,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite database holding captured events
// and runtime settings.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// IngestConfig controls the notification ingestion HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8710").
//   - If you bind to a non-loopback address, set a token or explicitly
//     allow_insecure.
type IngestConfig struct {
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8710"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// TelegramConfig controls the outbound message channel used to forward
// captured events to the configured destinations.
//
// If Token is empty the daemon still captures and stores events, but
// every event is recorded with forwarded=false (the equivalent of the
// send permission being unavailable).
type TelegramConfig struct {
	Token      string `json:"token,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default: 3
	// SendTimeout bounds a single delivery attempt.
	SendTimeout string `json:"send_timeout,omitempty"` // default: "10s"
}

// CaptureConfig tunes the capture pipeline.
//
// Defaults (when fields are omitted/zero):
//   - dedup_window: "30s"
//   - dedup_max_entries: 10
//   - keywords: the built-in Yape keyword list
type CaptureConfig struct {
	DedupWindow     string   `json:"dedup_window,omitempty"`
	DedupMaxEntries int      `json:"dedup_max_entries,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
}

// RetentionConfig controls the optional age-based sweep of stored
// events. The 500-row cap is always enforced on append regardless of
// this section.
//
// Example:
//
//	retention:
//	  sweep_schedule: "0 4 * * *"
//	  max_age: "720h"
type RetentionConfig struct {
	SweepSchedule string `json:"sweep_schedule,omitempty"` // cron spec; empty disables the sweep
	MaxAge        string `json:"max_age,omitempty"`
}

// Validate checks field formats that strict decoding cannot catch.
// It is installed as the manager's validator so a bad edit never
// replaces a good running config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"ingest.read_timeout", c.Ingest.ReadTimeout},
		{"ingest.write_timeout", c.Ingest.WriteTimeout},
		{"ingest.idle_timeout", c.Ingest.IdleTimeout},
		{"telegram.send_timeout", c.Telegram.SendTimeout},
		{"capture.dedup_window", c.Capture.DedupWindow},
		{"retention.max_age", c.Retention.MaxAge},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Capture.DedupMaxEntries < 0 {
		return errors.New("capture.dedup_max_entries must be >= 0")
	}
	if c.Telegram.RatePerSec < 0 {
		return errors.New("telegram.rate_per_sec must be >= 0")
	}
	if c.Retention.SweepSchedule != "" && strings.TrimSpace(c.Retention.MaxAge) == "" {
		return fmt.Errorf("retention.max_age is required when retention.sweep_schedule is set")
	}
	return nil
}
