package utils

import (
	"os"
	"path/filepath"
)

const appDirName = "ankisnap"

// GetDefaultStateDir returns the per-user directory holding the shared state file.
func GetDefaultStateDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Without a config dir fall back to the temp dir so the store still works.
		return filepath.Join(os.TempDir(), appDirName)
	}
	return filepath.Join(configDir, appDirName)
}

func GetDefaultStateFile() string {
	return filepath.Join(GetDefaultStateDir(), "state.json")
}
