package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config holds all configuration settings for the application
type Config struct {
	// ListenAddr is the address and port for the web server
	ListenAddr string `toml:"listen_addr" validate:"required"`

	// DatabasePath is the path to the SQLite database file
	DatabasePath string `toml:"database_path" validate:"required"`

	// ProjectRoot is the Composer-managed site that projects are installed into
	ProjectRoot string `toml:"project_root" validate:"required"`

	// StagingRoot holds one directory per in-flight stage
	StagingRoot string `toml:"staging_root" validate:"required"`

	ComposerBinary string `toml:"composer_binary" validate:"required"`
	DrushBinary    string `toml:"drush_binary" validate:"required"`

	// CatalogURL is the remote catalog endpoint; empty disables the remote source
	CatalogURL string `toml:"catalog_url" validate:"omitempty,url"`

	// CatalogFile is a local YAML catalog, typically the site's recipes
	CatalogFile string `toml:"catalog_file"`

	CacheBackend string        `toml:"cache_backend" validate:"oneof=sqlite memory"`
	CacheTTL     time.Duration `toml:"cache_ttl" validate:"gt=0"`

	// SessionKey signs session cookies that carry unlock tokens and flash messages
	SessionKey string `toml:"session_key" validate:"required,min=32"`

	// AdminTokenHash is a bcrypt hash of the admin bearer token; empty disables auth
	AdminTokenHash string `toml:"admin_token_hash"`

	MinFreeDiskMB uint64 `toml:"min_free_disk_mb"`
	GCSchedule    string `toml:"gc_schedule" validate:"required"`

	// CacheClearSchedule optionally drops all catalog storage on a cron schedule
	CacheClearSchedule string `toml:"cache_clear_schedule"`

	LockOwner string `toml:"lock_owner" validate:"required"`

	LogLevel string `toml:"log_level" validate:"oneof=debug info warn error"`
	LogDir   string `toml:"log_dir"`
}

// defaultConfig returns the default configuration
func defaultConfig() *Config {
	return &Config{
		ListenAddr:     DefaultPort,
		DatabasePath:   "projectbrowser.db",
		ProjectRoot:    ".",
		StagingRoot:    filepath.Join(os.TempDir(), "projectbrowser-stage"),
		ComposerBinary: "composer",
		DrushBinary:    "vendor/bin/drush",
		CacheBackend:   CacheBackendSQLite,
		CacheTTL:       DefaultCacheTTL,
		SessionKey:     DefaultSessionKey,
		MinFreeDiskMB:  DefaultMinFreeDiskMB,
		GCSchedule:     DefaultGCSchedule,
		LockOwner:      DefaultLockOwner,
		LogLevel:       "info",
	}
}

// configPath returns the config file location, overridable for tests
func configPath() string {
	if p := os.Getenv("PB_CONFIG_PATH"); p != "" {
		return p
	}
	return "config.toml"
}

// Load loads the configuration from file and environment variables
func Load() (*Config, error) {
	// Start with default configuration
	config := defaultConfig()

	// Try to load from config.toml if it exists
	path := configPath()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	// Override with environment variables if set
	if err := applyEnv(config); err != nil {
		return nil, err
	}

	addr, err := normalizeListenAddr(config.ListenAddr)
	if err != nil {
		return nil, err
	}
	config.ListenAddr = addr

	// Ensure directories are absolute
	for _, p := range []*string{&config.ProjectRoot, &config.StagingRoot} {
		if filepath.IsAbs(*p) {
			continue
		}
		absPath, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for %s: %w", *p, err)
		}
		*p = absPath
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnv(config *Config) error {
	strs := map[string]*string{
		"PB_LISTEN_ADDR":          &config.ListenAddr,
		"PB_DATABASE_PATH":        &config.DatabasePath,
		"PB_PROJECT_ROOT":         &config.ProjectRoot,
		"PB_STAGING_ROOT":         &config.StagingRoot,
		"PB_COMPOSER_BINARY":      &config.ComposerBinary,
		"PB_DRUSH_BINARY":         &config.DrushBinary,
		"PB_CATALOG_URL":          &config.CatalogURL,
		"PB_CATALOG_FILE":         &config.CatalogFile,
		"PB_CACHE_BACKEND":        &config.CacheBackend,
		"PB_SESSION_KEY":          &config.SessionKey,
		"PB_ADMIN_TOKEN_HASH":     &config.AdminTokenHash,
		"PB_GC_SCHEDULE":          &config.GCSchedule,
		"PB_CACHE_CLEAR_SCHEDULE": &config.CacheClearSchedule,
		"PB_LOCK_OWNER":           &config.LockOwner,
		"PB_LOG_LEVEL":            &config.LogLevel,
		"PB_LOG_DIR":              &config.LogDir,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("PB_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PB_CACHE_TTL %q: %w", v, err)
		}
		config.CacheTTL = d
	}

	if v := os.Getenv("PB_MIN_FREE_DISK_MB"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PB_MIN_FREE_DISK_MB %q: %w", v, err)
		}
		config.MinFreeDiskMB = n
	}

	config.LogLevel = strings.ToLower(config.LogLevel)
	return nil
}

// normalizeListenAddr accepts a bare port ("3000") or host:port and returns
// an address net/http can listen on.
func normalizeListenAddr(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("listen address is empty")
	}
	if !strings.Contains(addr, ":") {
		if err := validatePort(addr); err != nil {
			return "", err
		}
		return ":" + addr, nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if err := validatePort(port); err != nil {
		return "", err
	}
	return addr, nil
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q", port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d out of range", n)
	}
	return nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("ListenAddr: %s", c.ListenAddr))
	parts = append(parts, fmt.Sprintf("DatabasePath: %s", c.DatabasePath))
	parts = append(parts, fmt.Sprintf("ProjectRoot: %s", c.ProjectRoot))
	parts = append(parts, fmt.Sprintf("StagingRoot: %s", c.StagingRoot))
	parts = append(parts, fmt.Sprintf("CacheBackend: %s", c.CacheBackend))
	return strings.Join(parts, ", ")
}
