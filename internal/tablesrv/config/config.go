// Package config loads and validates the floorbook configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the only config file format this build understands.
const Version = "0.1.0"

// EnvConfigFile names the environment variable holding the config path.
const EnvConfigFile = "FLOORBOOK_CONFIG"

// DefaultConfigFile is used when EnvConfigFile is unset.
const DefaultConfigFile = "floorbook.conf"

// DBConfig holds PostgreSQL connection settings
type DBConfig struct {
	Host             string `toml:"host"`              // Database host
	Port             int    `toml:"port"`              // Database port
	DBName           string `toml:"dbname"`            // Database name
	User             string `toml:"user"`              // Database user
	Password         string `toml:"password"`          // Database password
	SSLMode          string `toml:"sslmode"`           // SSL mode for database connection
	MaxOpenConns     int    `toml:"max_open_conns"`    // Upper bound of pooled connections
	StatementTimeout string `toml:"statement_timeout"` // Session statement_timeout, e.g. "10s"
	LockTimeout      string `toml:"lock_timeout"`      // Session lock_timeout, e.g. "3s"
}

// BlobStoreConfig holds the S3 compatible store used for file cells
type BlobStoreConfig struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`   // Custom endpoint for MinIO or localstack
	PathStyle       bool   `toml:"path_style"` // Path style addressing, required by most S3 clones
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	KeyPrefix       string `toml:"key_prefix"`     // Prepended to every object key
	PresignExpiry   string `toml:"presign_expiry"` // Lifetime of presigned URLs, e.g. "1h"
}

// GetPresignExpiry returns the presigned URL lifetime
func (b *BlobStoreConfig) GetPresignExpiry() (time.Duration, error) {
	return time.ParseDuration(b.PresignExpiry)
}

// EngineConfig holds limits of the table engine
type EngineConfig struct {
	MaxBulkRows int `toml:"max_bulk_rows"` // Rows accepted by one bulk insert
}

// ConfigParam holds all configuration parameters
type ConfigParam struct {
	FormatVersion string `toml:"format_version"` // Version of this configuration file format
	LogLevel      string `toml:"log_level"`      // zerolog level name

	DB        DBConfig        `toml:"db"`
	BlobStore BlobStoreConfig `toml:"blobstore"`
	Engine    EngineConfig    `toml:"engine"`
}

var cfg *ConfigParam

// Config returns the current configuration
func Config() *ConfigParam {
	return cfg
}

// SetConfig installs c as the current configuration after validating it.
func SetConfig(c *ConfigParam) error {
	if err := ValidateConfig(c); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}
	cfg = c
	return nil
}

// DSN returns the database connection string
func (c *ConfigParam) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.DBName, c.DB.SSLMode)
}

// ValidateConfig checks if all required configuration values are present and
// valid, filling in defaults for optional ones.
func ValidateConfig(cfg *ConfigParam) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if err := validateConfigFormatVersion(cfg); err != nil {
		return err
	}
	if err := validateLogLevel(cfg); err != nil {
		return err
	}
	if err := validateDBConfig(cfg); err != nil {
		return err
	}
	if err := validateBlobStoreConfig(cfg); err != nil {
		return err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return err
	}
	return nil
}

func validateConfigFormatVersion(cfg *ConfigParam) error {
	if cfg.FormatVersion != Version {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}
	return nil
}

func validateLogLevel(cfg *ConfigParam) error {
	switch strings.ToLower(cfg.LogLevel) {
	case "":
		cfg.LogLevel = "info"
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("invalid log_level: %s", cfg.LogLevel)
	}
	return nil
}

func validateDBConfig(cfg *ConfigParam) error {
	if cfg.DB.Host == "" {
		return fmt.Errorf("db.host is required")
	}
	if cfg.DB.Port <= 0 {
		return fmt.Errorf("db.port must be positive")
	}
	if cfg.DB.DBName == "" {
		return fmt.Errorf("db.dbname is required")
	}
	if cfg.DB.User == "" {
		return fmt.Errorf("db.user is required")
	}
	if cfg.DB.Password == "" {
		return fmt.Errorf("db.password is required")
	}
	if cfg.DB.SSLMode == "" {
		return fmt.Errorf("db.sslmode is required")
	}
	if cfg.DB.MaxOpenConns < 0 {
		return fmt.Errorf("db.max_open_conns must not be negative")
	}
	if cfg.DB.MaxOpenConns == 0 {
		cfg.DB.MaxOpenConns = 20
	}
	if cfg.DB.StatementTimeout == "" {
		cfg.DB.StatementTimeout = "10s"
	}
	if _, err := time.ParseDuration(cfg.DB.StatementTimeout); err != nil {
		return fmt.Errorf("invalid db.statement_timeout: %v", err)
	}
	if cfg.DB.LockTimeout == "" {
		cfg.DB.LockTimeout = "3s"
	}
	if _, err := time.ParseDuration(cfg.DB.LockTimeout); err != nil {
		return fmt.Errorf("invalid db.lock_timeout: %v", err)
	}
	return nil
}

// The blob store section is optional; without a bucket file cells cannot be
// written but everything else works.
func validateBlobStoreConfig(cfg *ConfigParam) error {
	b := &cfg.BlobStore
	if b.Bucket == "" {
		return nil
	}
	if b.Region == "" {
		return fmt.Errorf("blobstore.region is required when blobstore.bucket is set")
	}
	if (b.AccessKeyID == "") != (b.SecretAccessKey == "") {
		return fmt.Errorf("blobstore.access_key_id and blobstore.secret_access_key must be set together")
	}
	if b.PresignExpiry == "" {
		b.PresignExpiry = "1h"
	}
	d, err := b.GetPresignExpiry()
	if err != nil {
		return fmt.Errorf("invalid blobstore.presign_expiry: %v", err)
	}
	if d <= 0 || d > 7*24*time.Hour {
		return fmt.Errorf("blobstore.presign_expiry must be between 1s and 168h")
	}
	return nil
}

func validateEngineConfig(cfg *ConfigParam) error {
	if cfg.Engine.MaxBulkRows < 0 {
		return fmt.Errorf("engine.max_bulk_rows must not be negative")
	}
	if cfg.Engine.MaxBulkRows == 0 {
		cfg.Engine.MaxBulkRows = 50000
	}
	return nil
}

// ParseConfig decodes and validates a TOML document without installing it.
func ParseConfig(content string) (*ConfigParam, error) {
	c := &ConfigParam{}
	if _, err := toml.Decode(content, c); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}
	if err := ValidateConfig(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return c, nil
}

// LoadConfig loads configuration from a file
func LoadConfig(filename string) error {
	if filename == "" {
		return fmt.Errorf("config filename is required")
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	c, err := ParseConfig(string(content))
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// ConfigFile returns the config path named by EnvConfigFile, or
// DefaultConfigFile.
func ConfigFile() string {
	if f := os.Getenv(EnvConfigFile); f != "" {
		return f
	}
	return DefaultConfigFile
}

// EnvTestConfigFile names the config used by database integration tests.
const EnvTestConfigFile = "FLOORBOOK_TEST_CONFIG"

var isTest = false

func IsTest() bool {
	return isTest
}

func SetTestMode(test bool) {
	isTest = test
}

// TestInit loads the integration test config. It returns false when
// EnvTestConfigFile is unset so callers can skip tests needing a database.
// Relative paths are resolved from the project root (the directory holding
// go.mod).
func TestInit() bool {
	isTest = true
	name := os.Getenv(EnvTestConfigFile)
	if name == "" {
		return false
	}
	if !filepath.IsAbs(name) {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		projectRoot := wd
		for {
			if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
				break
			}
			parent := filepath.Dir(projectRoot)
			if parent == projectRoot {
				panic("could not find project root (go.mod)")
			}
			projectRoot = parent
		}
		name = filepath.Join(projectRoot, name)
	}
	if err := LoadConfig(name); err != nil {
		panic(fmt.Errorf("error loading config: %v", err))
	}
	return true
}
