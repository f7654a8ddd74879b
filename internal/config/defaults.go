package config

import "path/filepath"

// Defaults returns a config with sensible default values. Load unmarshals
// the file on top of this, so absent keys keep their defaults.
func Defaults() *Config {
	dir := DefaultConfigDir()
	return &Config{
		General: GeneralConfig{
			ProfilesDir: filepath.Join(dir, "profiles"),
			LogLevel:    "info",
		},
		Daemon: DaemonConfig{
			SocketPath:            filepath.Join(dir, "burrowd.sock"),
			RequestTimeoutSeconds: 30,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  filepath.Join(dir, "burrow.db"),
			Limit:   50,
		},
	}
}
