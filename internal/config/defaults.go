package config

// Default values applied before the config file is read.
const (
	DefaultParallelChunks = 5
	DefaultParallelFiles  = 3
	DefaultChunkSize      = "8 MiB"
	DefaultBandwidthLimit = "0"
	DefaultEncryptMethod  = "none"
	DefaultWatchDebounce  = "2s"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultDataTimeout    = "5m"
)

// Defaults returns a Config populated with default values.
func Defaults() Config {
	return Config{
		Transfers: TransfersConfig{
			ParallelChunks: DefaultParallelChunks,
			ParallelFiles:  DefaultParallelFiles,
			ChunkSize:      DefaultChunkSize,
			BandwidthLimit: DefaultBandwidthLimit,
		},
		Encrypt: EncryptConfig{
			Method: DefaultEncryptMethod,
		},
		Sync: SyncConfig{
			WatchDebounce: DefaultWatchDebounce,
		},
		Logging: LoggingConfig{
			LogLevel:  DefaultLogLevel,
			LogFormat: DefaultLogFormat,
		},
		Network: NetworkConfig{
			DataTimeout: DefaultDataTimeout,
		},
	}
}
