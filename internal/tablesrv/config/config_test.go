package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
format_version = "0.1.0"
log_level = "debug"

[db]
host = "localhost"
port = 5432
dbname = "floorbook"
user = "floorbook"
password = "floorbook"
sslmode = "disable"

[blobstore]
bucket = "floor-files"
region = "us-east-1"
endpoint = "http://localhost:9000"
path_style = true
access_key_id = "minio"
secret_access_key = "minio123"

[engine]
max_bulk_rows = 1000
`

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig(validConfig)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "host=localhost port=5432 user=floorbook password=floorbook dbname=floorbook sslmode=disable", c.DSN())
	assert.Equal(t, 20, c.DB.MaxOpenConns)
	assert.Equal(t, "10s", c.DB.StatementTimeout)
	assert.Equal(t, "3s", c.DB.LockTimeout)
	assert.True(t, c.BlobStore.PathStyle)
	d, err := c.BlobStore.GetPresignExpiry()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)
	assert.Equal(t, 1000, c.Engine.MaxBulkRows)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ConfigParam)
		wantErr string
	}{
		{"bad version", func(c *ConfigParam) { c.FormatVersion = "9" }, "unsupported config file format version"},
		{"bad log level", func(c *ConfigParam) { c.LogLevel = "loud" }, "invalid log_level"},
		{"missing host", func(c *ConfigParam) { c.DB.Host = "" }, "db.host is required"},
		{"bad port", func(c *ConfigParam) { c.DB.Port = 0 }, "db.port must be positive"},
		{"bad timeout", func(c *ConfigParam) { c.DB.StatementTimeout = "soon" }, "invalid db.statement_timeout"},
		{"region required", func(c *ConfigParam) { c.BlobStore.Region = "" }, "blobstore.region is required"},
		{"half credentials", func(c *ConfigParam) { c.BlobStore.SecretAccessKey = "" }, "must be set together"},
		{"long presign", func(c *ConfigParam) { c.BlobStore.PresignExpiry = "200h" }, "presign_expiry must be between"},
		{"negative bulk", func(c *ConfigParam) { c.Engine.MaxBulkRows = -1 }, "max_bulk_rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseConfig(validConfig)
			require.NoError(t, err)
			tt.mutate(c)
			err = ValidateConfig(c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("blob store is optional", func(t *testing.T) {
		c, err := ParseConfig(validConfig)
		require.NoError(t, err)
		c.BlobStore = BlobStoreConfig{}
		assert.NoError(t, ValidateConfig(c))
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "floorbook.conf")
	require.NoError(t, os.WriteFile(name, []byte(validConfig), 0600))

	require.NoError(t, LoadConfig(name))
	assert.Equal(t, "floor-files", Config().BlobStore.Bucket)

	assert.Error(t, LoadConfig(""))
	assert.Error(t, LoadConfig(filepath.Join(dir, "missing.conf")))
}

func TestConfigFile(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	assert.Equal(t, DefaultConfigFile, ConfigFile())
	t.Setenv(EnvConfigFile, "/etc/floorbook/floorbook.conf")
	assert.Equal(t, "/etc/floorbook/floorbook.conf", ConfigFile())
}
