package config

const (
	defaultConfigPath             = "~/.config/relay/config.toml"
	defaultDataDir                = "~/.local/share/relay"
	defaultAPIBaseURL             = "http://127.0.0.1:8000/api"
	defaultAPIRequestTimeout      = 15
	defaultAPIUploadTimeout       = 300
	defaultBuildRequestTimeout    = 30
	defaultBuildPartSizeMiB       = 16
	defaultBuildConcurrency       = 4
	defaultCoordinatorPoll        = 30
	defaultCoordinatorMailbox     = 64
	defaultPortBufferSize         = 32
	defaultStorageBackend         = StorageAuto
	defaultStorageMinFreeMiB      = 256
	defaultRetentionSweepInterval = 15
	defaultProgressIntervalMillis = 250
	defaultSpeedWindowSeconds     = 5
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
)

// Storage backend selectors accepted by storage.backend.
const (
	StorageAuto       = "auto"
	StorageFilesystem = "filesystem"
	StorageBolt       = "bolt"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		API: API{
			BaseURL:        defaultAPIBaseURL,
			RequestTimeout: defaultAPIRequestTimeout,
			UploadTimeout:  defaultAPIUploadTimeout,
		},
		Build: Build{
			RequestTimeout: defaultBuildRequestTimeout,
			PartSizeMiB:    defaultBuildPartSizeMiB,
			Concurrency:    defaultBuildConcurrency,
		},
		Coordinator: Coordinator{
			PollInterval:   defaultCoordinatorPoll,
			MailboxSize:    defaultCoordinatorMailbox,
			PortBufferSize: defaultPortBufferSize,
		},
		Storage: Storage{
			Backend:    defaultStorageBackend,
			MinFreeMiB: defaultStorageMinFreeMiB,
		},
		Retention: Retention{
			SweepInterval: defaultRetentionSweepInterval,
		},
		Upload: Upload{
			ProgressIntervalMillis: defaultProgressIntervalMillis,
			SpeedWindowSeconds:     defaultSpeedWindowSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
