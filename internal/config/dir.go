package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvConfigDir    = "RESTRUN_CONFIG_DIR"
	appDirName      = "restrun"
	databaseFile    = "restrun.db"
	historyFileName = "history.json"
)

// Dir is where settings, the database and history live. RESTRUN_CONFIG_DIR
// overrides the platform config directory.
func Dir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvConfigDir)); dir != "" {
		return dir
	}
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, appDirName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "."+appDirName)
	}
	return "." + appDirName
}

func DBPath() string {
	return filepath.Join(Dir(), databaseFile)
}

func HistoryPath() string {
	return filepath.Join(Dir(), historyFileName)
}
