package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/etat/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Cache      CacheConfig      `koanf:"cache"`
	Reference  ReferenceConfig  `koanf:"reference"`
	Reconciler ReconcilerConfig `koanf:"reconciler"`
	Navigation NavigationConfig `koanf:"navigation"`
	Report     ReportConfig     `koanf:"report"`
	Janitor    JanitorConfig    `koanf:"janitor"`
	Daemon     DaemonConfig     `koanf:"daemon"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	DataDir      string `koanf:"data_dir"`
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
	InboxSize    int    `koanf:"inbox_size"`
}

// CacheConfig mirrors the cache policy: hours are kept as durations.
type CacheConfig struct {
	MaxAge                 string `koanf:"max_age"`
	RevalidateAfter        string `koanf:"revalidate_after"`
	BackgroundRevalidation bool   `koanf:"background_revalidation"`
	Strategy               string `koanf:"strategy"`
}

type ReferenceConfig struct {
	BaseURL      string `koanf:"base_url"`
	Timeout      string `koanf:"timeout"`
	MaxRetries   int    `koanf:"max_retries"`
	RetryBackoff string `koanf:"retry_backoff"`
}

type ReconcilerConfig struct {
	PollInterval string `koanf:"poll_interval"`
	SnapshotTTL  string `koanf:"snapshot_ttl"`
	SettleDelay  string `koanf:"settle_delay"`
}

type NavigationConfig struct {
	MaxRedirectAttempts int               `koanf:"max_redirect_attempts"`
	Routes              map[string]string `koanf:"routes"`
}

type ReportConfig struct {
	SlackWebhookURL string `koanf:"slack_webhook_url"`
	OutputDir       string `koanf:"output_dir"`
	Timeout         string `koanf:"timeout"`
}

type JanitorConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout"`
	StaleLockTTL           string `koanf:"stale_lock_ttl"`
}

const (
	DefaultServerPort                = 8080
	DefaultServerLogLevel            = "info"
	DefaultServerReadTimeout         = "10s"
	DefaultServerWriteTimeout        = "30s"
	DefaultServerIdleTimeout         = "60s"
	DefaultServerShutdownTimeout     = "5s"
	DefaultStoreDataDir              = "~/.etat/data"
	DefaultStoreLockTimeout          = "30s"
	DefaultStoreLockRetry            = "100ms"
	DefaultStoreLockMaxRetry         = 300
	DefaultStoreInboxSize            = 100
	DefaultCacheMaxAge               = "24h"
	DefaultCacheRevalidateAfter      = "20h"
	DefaultCacheBackgroundRevalidate = true
	DefaultCacheStrategy             = "cache-first"
	DefaultReferenceBaseURL          = "http://localhost:9000/api"
	DefaultReferenceTimeout          = "30s"
	DefaultReferenceMaxRetries       = 2
	DefaultReferenceRetryBackoff     = "500ms"
	DefaultReconcilerPollInterval    = "500ms"
	DefaultReconcilerSnapshotTTL     = "24h"
	DefaultReconcilerSettleDelay     = "50ms"
	DefaultNavigationMaxRedirects    = 3
	DefaultReportTimeout             = "10s"
	DefaultJanitorEnabled            = true
	DefaultJanitorSchedule           = "@every 1h"
	DefaultDaemonShutdownTimeout     = "30s"
	DefaultDaemonHealthCheckInterval = "30s"
	DefaultDaemonStartupShutdown     = "10s"
	DefaultDaemonStaleLockTTL        = "15m"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                      DefaultServerPort,
		"server.log_level":                 DefaultServerLogLevel,
		"server.read_timeout":              DefaultServerReadTimeout,
		"server.write_timeout":             DefaultServerWriteTimeout,
		"server.idle_timeout":              DefaultServerIdleTimeout,
		"server.shutdown_timeout":          DefaultServerShutdownTimeout,
		"store.data_dir":                   DefaultStoreDataDir,
		"store.lock_timeout":               DefaultStoreLockTimeout,
		"store.lock_retry":                 DefaultStoreLockRetry,
		"store.lock_max_retry":             DefaultStoreLockMaxRetry,
		"store.inbox_size":                 DefaultStoreInboxSize,
		"cache.max_age":                    DefaultCacheMaxAge,
		"cache.revalidate_after":           DefaultCacheRevalidateAfter,
		"cache.background_revalidation":    DefaultCacheBackgroundRevalidate,
		"cache.strategy":                   DefaultCacheStrategy,
		"reference.base_url":               DefaultReferenceBaseURL,
		"reference.timeout":                DefaultReferenceTimeout,
		"reference.max_retries":            DefaultReferenceMaxRetries,
		"reference.retry_backoff":          DefaultReferenceRetryBackoff,
		"reconciler.poll_interval":         DefaultReconcilerPollInterval,
		"reconciler.snapshot_ttl":          DefaultReconcilerSnapshotTTL,
		"reconciler.settle_delay":          DefaultReconcilerSettleDelay,
		"navigation.max_redirect_attempts": DefaultNavigationMaxRedirects,
		"report.timeout":                   DefaultReportTimeout,
		"janitor.enabled":                  DefaultJanitorEnabled,
		"janitor.schedule":                 DefaultJanitorSchedule,
		"daemon.shutdown_timeout":          DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":     DefaultDaemonHealthCheckInterval,
		"daemon.startup_shutdown_timeout":  DefaultDaemonStartupShutdown,
		"daemon.stale_lock_ttl":            DefaultDaemonStaleLockTTL,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".etat", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables: ETAT_CACHE_MAX_AGE -> cache.max_age
	k.Load(env.Provider("ETAT_", ".", func(s string) string {
		return envKey(strings.TrimPrefix(s, "ETAT_"))
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey splits only the first underscore so multi-word leaf keys survive.
func envKey(s string) string {
	lower := strings.ToLower(s)
	section, rest, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + rest
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	dataDir, err := expandConfiguredPath(cfg.Store.DataDir)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}

	outputDir, err := expandConfiguredPath(cfg.Report.OutputDir)
	if err != nil {
		return err
	}
	if outputDir != "" {
		cfg.Report.OutputDir = outputDir
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	return pathutil.Expand(trimmed)
}
