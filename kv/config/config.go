package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/tinycc/log"
	"github.com/pingcap/errors"
)

type Config struct {
	LogLevel string `toml:"log-level"`
	// LogFile is the path of the process log. Empty means stderr.
	LogFile string `toml:"log-file"`

	// LogDir is the directory of the durable log channel, created if missing.
	// Empty means the log channel only keeps records in memory.
	LogDir string `toml:"log-dir"`
	// Recover replays the log channel found in LogDir before the engine accepts sessions.
	Recover bool `toml:"recover"`
	// LogSyncWrites makes every flush of the log channel fsync.
	LogSyncWrites bool `toml:"log-sync-writes"`
	// LogWriteBytesPerSec throttles log flushes. 0 means unlimited.
	LogWriteBytesPerSec int `toml:"log-write-bytes-per-sec"`
	// LogCompression is "none" or "lz4".
	LogCompression string `toml:"log-compression"`

	// Interval between two global epoch advances.
	EpochInterval Duration `toml:"epoch-interval"`
	// Interval between two garbage collection rounds.
	GCInterval Duration `toml:"gc-interval"`
	// Interval at which waiting long transactions are retried in the background.
	LtxResolveInterval Duration `toml:"ltx-resolve-interval"`

	// MaxSessions is the size of the session table.
	MaxSessions int `toml:"max-sessions"`
	// SpinRetryLimit bounds busy waits on locked records before reporting a conflict.
	SpinRetryLimit int `toml:"spin-retry-limit"`

	MetricsEnabled bool `toml:"metrics-enabled"`
}

// Duration is a time.Duration that decodes from strings such as "40ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Trace(err)
}

func (c *Config) Validate() error {
	if c.EpochInterval.Duration <= 0 {
		return fmt.Errorf("epoch interval must be greater than 0")
	}
	if c.GCInterval.Duration <= 0 {
		return fmt.Errorf("gc interval must be greater than 0")
	}
	if c.LtxResolveInterval.Duration <= 0 {
		return fmt.Errorf("ltx resolve interval must be greater than 0")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be greater than 0")
	}
	if c.SpinRetryLimit <= 0 {
		return fmt.Errorf("spin retry limit must be greater than 0")
	}
	if c.LogWriteBytesPerSec < 0 {
		return fmt.Errorf("log write rate must not be negative")
	}
	switch c.LogCompression {
	case "", CompressionNone, CompressionLZ4:
	default:
		return fmt.Errorf("unknown log compression %q", c.LogCompression)
	}
	if c.Recover && c.LogDir == "" {
		return fmt.Errorf("recover requires a log dir")
	}
	if c.GCInterval.Duration < c.EpochInterval.Duration {
		log.Warnf("gc interval %v is shorter than the epoch interval %v, most gc rounds will find nothing to do",
			c.GCInterval.Duration, c.EpochInterval.Duration)
	}
	return nil
}

const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
)

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:           getLogLevel(),
		LogCompression:     CompressionNone,
		EpochInterval:      Duration{40 * time.Millisecond},
		GCInterval:         Duration{200 * time.Millisecond},
		LtxResolveInterval: Duration{10 * time.Millisecond},
		MaxSessions:        112,
		SpinRetryLimit:     1 << 12,
		MetricsEnabled:     true,
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel:           getLogLevel(),
		LogCompression:     CompressionNone,
		EpochInterval:      Duration{time.Millisecond},
		GCInterval:         Duration{5 * time.Millisecond},
		LtxResolveInterval: Duration{time.Millisecond},
		MaxSessions:        16,
		SpinRetryLimit:     1 << 10,
	}
}

// LoadFromFile overlays the toml file at path onto the default config.
func LoadFromFile(path string) (*Config, error) {
	c := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Annotatef(err, "decode config file %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("config file %s contains unknown items %v", path, undecoded)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}
