package config

const (
	defaultConfigPath     = "~/.config/migrate/config.toml"
	defaultOutputDir      = "."
	defaultLogDir         = "~/.local/share/migrate/logs"
	defaultHistoryDB      = "~/.local/share/migrate/history.db"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultConcurrent     = 5
	defaultRequestTimeout = 30
	defaultUserAgent      = "migrate/dev (+https://ghost.org/docs/migration/)"
	defaultHistoryKeep    = 200
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir:  defaultCacheDir(),
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			HistoryDB: defaultHistoryDB,
		},
		Scrape: Scrape{
			Categories:     []string{"all"},
			Concurrent:     defaultConcurrent,
			RequestTimeout: defaultRequestTimeout,
			FixLinks:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			Enabled: true,
			Keep:    defaultHistoryKeep,
		},
	}
}
