package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
	PortSocket string `toml:"port_socket"`
	EnvFile    string `toml:"env_file"`
}

// API contains the remote replay API used by the coordinator.
type API struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
	UploadTimeout  int    `toml:"upload_timeout"`
}

// Build contains the build-artifact API and object storage transfer settings.
type Build struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
	PartSizeMiB    int    `toml:"part_size_mib"`
	Concurrency    int    `toml:"concurrency"`
}

// Coordinator contains drain scheduling settings.
type Coordinator struct {
	PollInterval   int `toml:"poll_interval"`
	MailboxSize    int `toml:"mailbox_size"`
	PortBufferSize int `toml:"port_buffer_size"`
}

// Storage controls blob backend selection.
type Storage struct {
	Backend    string `toml:"backend"`
	MinFreeMiB int    `toml:"min_free_mib"`
}

// Retention controls eviction of uploaded segment blobs.
type Retention struct {
	MaxAgeHours   int `toml:"max_age_hours"`
	MaxMiB        int `toml:"max_mib"`
	SweepInterval int `toml:"sweep_interval"`
}

// Upload contains progress reporting knobs for build uploads.
type Upload struct {
	ProgressIntervalMillis int `toml:"progress_interval_ms"`
	SpeedWindowSeconds     int `toml:"speed_window_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for relay.
//
// Configuration sections by subsystem:
//   - Paths: data directory, logs and sockets
//   - API: remote replay API consumed by the coordinator
//   - Build: build-artifact API and S3 transfer tuning
//   - Coordinator: drain polling and mailbox sizing
//   - Storage: blob backend selection and probing thresholds
//   - Retention: uploaded blob eviction policy
//   - Upload: build upload progress reporting
//   - Logging: log format, level, and retention
type Config struct {
	Paths       Paths       `toml:"paths"`
	API         API         `toml:"api"`
	Build       Build       `toml:"build"`
	Coordinator Coordinator `toml:"coordinator"`
	Storage     Storage     `toml:"storage"`
	Retention   Retention   `toml:"retention"`
	Upload      Upload      `toml:"upload"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadEnvFile(cfg.Paths.EnvFile); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadEnvFile populates unset environment variables from a dotenv file. A
// missing default file is not an error; an explicitly configured one is.
func loadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(expanded); err != nil {
		return fmt.Errorf("load env file %s: %w", expanded, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("relay.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.SegmentDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath is the SQLite database holding pending records and segment metadata.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// SegmentDir is the root of the filesystem blob tier.
func (c *Config) SegmentDir() string {
	return filepath.Join(c.Paths.DataDir, "segments")
}

// BoltPath is the key-value fallback blob tier.
func (c *Config) BoltPath() string {
	return filepath.Join(c.Paths.DataDir, "segments.bolt")
}

// LockPath is the flock file guarding single-instance execution.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "relayd.lock")
}

// PollInterval returns the coordinator's periodic drain interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Coordinator.PollInterval) * time.Second
}

// RetentionMaxAge returns the age after which uploaded blobs may be evicted.
// Zero disables age-based eviction.
func (c *Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeHours) * time.Hour
}

// RetentionMaxBytes returns the blob byte budget. Zero disables size-based eviction.
func (c *Config) RetentionMaxBytes() int64 {
	return int64(c.Retention.MaxMiB) * 1024 * 1024
}

// RetentionSweepInterval returns how often the daemon runs retention.
func (c *Config) RetentionSweepInterval() time.Duration {
	return time.Duration(c.Retention.SweepInterval) * time.Minute
}

// RetentionEnabled reports whether any eviction rule is configured.
func (c *Config) RetentionEnabled() bool {
	return c.Retention.MaxAgeHours > 0 || c.Retention.MaxMiB > 0
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
