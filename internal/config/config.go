package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"
)

const postgresDefaultPort = 5432

// Config holds all configuration options
type Config struct {
	// Version information
	Version   string
	BuildTime string
	GitCommit string

	// Config file path (--config flag)
	ConfigPath string

	// Engine connection, handed to the external tools
	Host     string
	Port     int
	User     string
	Database string
	Password string

	// Vault layout. Snapshots live under <Root>/base, archived WAL under
	// <Root>/wal_archive, the catalog ledger at <Root>/catalog.db.
	Root        string
	CatalogPath string
	SpoolDir    string

	// Engine tool location (empty = PATH lookup)
	BinDir string

	// Backup options
	WALMethod        string // fetch | stream
	KeepCount        int
	Compression      string // none | gzip | zstd, applied to archived segments
	CompressionLevel int
	HooksDir         string // operator scripts around backup runs, empty = none

	// Recovery options
	ReplayTimeout time.Duration // 0 waits indefinitely
	PollInterval  time.Duration
	TargetAction  string // promote | pause | shutdown

	// Archiving pipeline
	SpoolPollInterval    time.Duration
	SpoolStabilityWindow time.Duration

	// Cloud sync
	CloudEnabled   bool
	CloudProvider  string // s3 | sftp
	CloudBucket    string
	CloudRegion    string
	CloudEndpoint  string
	CloudAccessKey string
	CloudSecretKey string
	CloudPrefix    string
	CloudBandwidth string // upload rate cap, e.g. "10MB/s"; empty = unlimited
	SFTPHost       string
	SFTPPort       int
	SFTPUser       string
	SFTPKeyFile    string
	SFTPDir        string

	// Prometheus textfile (empty = disabled)
	MetricsFile string

	// Output options
	NoColor   bool
	Debug     bool
	LogLevel  string
	LogFormat string
	LogFile   string
}

// New builds a Config from environment defaults
func New() *Config {
	root := getEnvString("WALVAULT_ROOT", getDefaultRoot())

	cfg := &Config{
		Host:     getEnvString("PG_HOST", "localhost"),
		Port:     getEnvInt("PG_PORT", postgresDefaultPort),
		User:     getEnvString("PG_USER", getCurrentUser()),
		Database: getEnvString("PG_DATABASE", "postgres"),
		Password: getEnvString("PGPASSWORD", ""),

		Root:        root,
		CatalogPath: getEnvString("WALVAULT_CATALOG", filepath.Join(root, "catalog.db")),
		SpoolDir:    getEnvString("WALVAULT_SPOOL", filepath.Join(root, "spool")),
		BinDir:      getEnvString("WALVAULT_BIN_DIR", ""),

		WALMethod:        getEnvString("WALVAULT_WAL_METHOD", "fetch"),
		KeepCount:        getEnvInt("WALVAULT_KEEP", 7),
		Compression:      getEnvString("WALVAULT_COMPRESSION", "none"),
		CompressionLevel: getEnvInt("COMPRESS_LEVEL", 6),
		HooksDir:         getEnvString("WALVAULT_HOOKS_DIR", ""),

		ReplayTimeout: getEnvDuration("WALVAULT_REPLAY_TIMEOUT", 0),
		PollInterval:  getEnvDuration("WALVAULT_POLL_INTERVAL", 2*time.Second),
		TargetAction:  getEnvString("WALVAULT_TARGET_ACTION", "promote"),

		SpoolPollInterval:    getEnvDuration("WALVAULT_SPOOL_POLL", 5*time.Second),
		SpoolStabilityWindow: getEnvDuration("WALVAULT_SPOOL_STABILITY", 2*time.Second),

		CloudEnabled:   getEnvBool("CLOUD_ENABLED", false),
		CloudProvider:  getEnvString("CLOUD_PROVIDER", "s3"),
		CloudBucket:    getEnvString("CLOUD_BUCKET", ""),
		CloudRegion:    getEnvString("CLOUD_REGION", "us-east-1"),
		CloudEndpoint:  getEnvString("CLOUD_ENDPOINT", ""),
		CloudAccessKey: getEnvString("CLOUD_ACCESS_KEY", getEnvString("AWS_ACCESS_KEY_ID", "")),
		CloudSecretKey: getEnvString("CLOUD_SECRET_KEY", getEnvString("AWS_SECRET_ACCESS_KEY", "")),
		CloudPrefix:    getEnvString("CLOUD_PREFIX", ""),
		CloudBandwidth: getEnvString("CLOUD_BANDWIDTH", ""),
		SFTPHost:       getEnvString("SFTP_HOST", ""),
		SFTPPort:       getEnvInt("SFTP_PORT", 22),
		SFTPUser:       getEnvString("SFTP_USER", getCurrentUser()),
		SFTPKeyFile:    getEnvString("SFTP_KEY_FILE", ""),
		SFTPDir:        getEnvString("SFTP_DIR", ""),

		MetricsFile: getEnvString("WALVAULT_METRICS_FILE", ""),

		NoColor:   getEnvBool("NO_COLOR", false),
		Debug:     getEnvBool("DEBUG", false),
		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "text"),
		LogFile:   getEnvString("LOG_FILE", ""),
	}

	return cfg
}

// BaseDir returns the snapshot directory
func (c *Config) BaseDir() string {
	return filepath.Join(c.Root, "base")
}

// ArchiveDir returns the WAL archive directory
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.Root, "wal_archive")
}

// LockPath returns the single-writer lock file
func (c *Config) LockPath() string {
	return filepath.Join(c.Root, ".walvault.lock")
}

// ToolPath resolves an engine tool name against BinDir
func (c *Config) ToolPath(name string) string {
	if c.BinDir == "" {
		return name
	}
	return filepath.Join(c.BinDir, name)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Root == "" {
		return &ConfigError{Field: "root", Value: "", Message: "backup root must be set"}
	}

	switch c.WALMethod {
	case "fetch", "stream":
	default:
		return &ConfigError{Field: "wal-method", Value: c.WALMethod, Message: "must be fetch or stream"}
	}

	if c.KeepCount < 1 {
		return &ConfigError{Field: "keep", Value: strconv.Itoa(c.KeepCount), Message: "must be at least 1"}
	}

	switch c.Compression {
	case "none", "gzip", "zstd":
	default:
		return &ConfigError{Field: "compression", Value: c.Compression, Message: "must be none, gzip or zstd"}
	}

	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return &ConfigError{Field: "compress-level", Value: strconv.Itoa(c.CompressionLevel), Message: "must be between 0-9"}
	}

	switch c.TargetAction {
	case "promote", "pause", "shutdown":
	default:
		return &ConfigError{Field: "target-action", Value: c.TargetAction, Message: "must be promote, pause or shutdown"}
	}

	switch c.CloudProvider {
	case "s3", "sftp":
	default:
		return &ConfigError{Field: "cloud-provider", Value: c.CloudProvider, Message: "must be s3 or sftp"}
	}

	return nil
}

// ConfigError describes an invalid configuration field
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getCurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if username := os.Getenv("USER"); username != "" {
		return username
	}
	return "postgres"
}

func getDefaultRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "walvault")
	}
	return filepath.Join(os.TempDir(), "walvault")
}
