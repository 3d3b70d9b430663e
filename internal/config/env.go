package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env then .env.local from dir. Variables already set
// in the environment are never overridden.
func LoadEnvFiles(dir string) {
	envFiles := []string{
		filepath.Join(dir, ".env"),
		filepath.Join(dir, ".env.local"),
	}

	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				// Log warning but don't fail
				fmt.Fprintf(os.Stderr, "Warning: Failed to load %s: %v\n", envFile, err)
			}
		}
	}
}
