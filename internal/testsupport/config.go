package testsupport

import (
	"path/filepath"
	"testing"

	"relay/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "relayd.sock")
	cfgVal.Paths.PortSocket = filepath.Join(base, "relayd-port.sock")
	cfgVal.API.Token = "test-token"
	cfgVal.Build.BaseURL = cfgVal.API.BaseURL
	cfgVal.Build.Token = cfgVal.API.Token
	cfgVal.Storage.MinFreeMiB = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAPIBaseURL points both remote clients at url (typically an httptest server).
func WithAPIBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.BaseURL = url
		b.cfg.Build.BaseURL = url
	}
}

// WithStorageBackend overrides storage.backend.
func WithStorageBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Backend = backend
	}
}

// WithRetention enables blob eviction rules.
func WithRetention(maxAgeHours, maxMiB int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retention.MaxAgeHours = maxAgeHours
		b.cfg.Retention.MaxMiB = maxMiB
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
