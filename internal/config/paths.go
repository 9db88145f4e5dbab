package config

import "path/filepath"

const (
	// Layout under TURNROUTER_HOME.
	ConfigFilePath  = "config.toml"
	DataDirPath     = "data"
	LogsDirPath     = "logs"
	ProfilesDirPath = "profiles"

	DBFileName    = "turnrouter.db"
	CostsFileName = "usage.jsonl"
)

func homeConfigPath(home string) string {
	return filepath.Join(home, ConfigFilePath)
}

func defaultHomePath(home string) string {
	return filepath.Join(home, ".turnrouter")
}

func (c *Config) ConfigPath() string {
	return homeConfigPath(c.HomeDir)
}

func (c *Config) DataDir() string {
	return filepath.Join(c.HomeDir, DataDirPath)
}

func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir(), LogsDirPath)
}

// DBPath returns the configured database path or the default under DataDir.
func (c *Config) DBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(c.DataDir(), DBFileName)
}

func (c *Config) CostsPath() string {
	return filepath.Join(c.LogsDir(), CostsFileName)
}

// ProfilesDir returns the configured profile directory or the default under HomeDir.
func (c *Config) ProfilesDir() string {
	if c.Profiles.Dir != "" {
		return c.Profiles.Dir
	}
	return filepath.Join(c.HomeDir, ProfilesDirPath)
}
