package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and "~/" home shortcuts.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := resolveHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if expanded == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
		}
	}

	return filepath.Clean(expanded), nil
}

// EnsureDir expands path and creates it if missing.
func EnsureDir(path string) (string, error) {
	expanded, err := Expand(path)
	if err != nil {
		return "", err
	}
	if expanded == "" {
		return "", fmt.Errorf("directory path is empty")
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return "", fmt.Errorf("create dir %s: %w", expanded, err)
	}
	return expanded, nil
}

func resolveHomeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil {
		if resolved(home) {
			return strings.TrimSpace(home), nil
		}
	}

	if current, err := user.Current(); err == nil {
		if resolved(current.HomeDir) {
			return strings.TrimSpace(current.HomeDir), nil
		}
	}

	envHome := strings.TrimSpace(os.Getenv("HOME"))
	if envHome == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	if !resolved(envHome) {
		return "", fmt.Errorf("HOME is not fully resolved: %s", envHome)
	}
	return envHome, nil
}

func resolved(home string) bool {
	trimmed := strings.TrimSpace(home)
	return trimmed != "" && trimmed != "~" && !strings.HasPrefix(trimmed, "~/")
}
