package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file into a fresh directory and chdirs
// there for the duration of the test.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	ResetConfig()
	dir := t.TempDir()
	path := filepath.Join(dir, "fmdata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Chdir(dir)
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	ResetConfig()
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIVersion, cfg.APIVersion)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "auto", cfg.OutputFormat)
	assert.Equal(t, "queries", cfg.QueriesDir)
	assert.False(t, cfg.Insecure)
	assert.Empty(t, GetConfigFileUsed())
}

func TestLoadConfigFromFile(t *testing.T) {
	writeConfig(t, `
host: https://fm.example.com
database: crm
username: api_user
timeout: 45s
output: json
`)
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://fm.example.com", cfg.Host)
	assert.Equal(t, "crm", cfg.Database)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, "fmdata.yaml", filepath.Base(GetConfigFileUsed()))
}

func TestLoadConfigUpwardSearch(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fmdata.yml"), []byte("database: crm\n"), 0o644))
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "crm", cfg.Database)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	writeConfig(t, "database: crm\nhost: https://file.example.com\n")
	t.Setenv("FMDATA_HOST", "https://env.example.com")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Host)
	assert.Equal(t, "crm", cfg.Database)
}

func TestLoadConfigFlagsWin(t *testing.T) {
	writeConfig(t, "database: crm\nhost: https://file.example.com\n")
	t.Setenv("FMDATA_HOST", "https://env.example.com")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("host", "", "")
	flags.String("api-version", "", "")
	require.NoError(t, flags.Parse([]string{"--host", "https://flag.example.com", "--api-version", "v2"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.com", cfg.Host)
	assert.Equal(t, "v2", cfg.APIVersion)
}

func TestLoadConfigUnchangedFlagIgnored(t *testing.T) {
	writeConfig(t, "host: https://file.example.com\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("host", "https://default.example.com", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.Host)
}

func TestLoadConfigTargets(t *testing.T) {
	writeConfig(t, `
host: https://dev.example.com
database: crm_dev
username: dev_user
targets:
  prod:
    host: https://prod.example.com
    database: crm
`)
	cfg, err := LoadConfigWithTarget("", "prod", nil)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.TargetName)
	assert.Equal(t, "https://prod.example.com", cfg.Host)
	assert.Equal(t, "crm", cfg.Database)
	// Fields the target leaves empty fall back to the top level.
	assert.Equal(t, "dev_user", cfg.Username)
}

func TestLoadConfigUnknownTarget(t *testing.T) {
	writeConfig(t, "database: crm\n")
	_, err := LoadConfigWithTarget("", "staging", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `target "staging" not found`)
}

func TestLoadConfigEnvVarExpansion(t *testing.T) {
	writeConfig(t, "database: crm\npassword: ${FM_TEST_SECRET}\n")
	t.Setenv("FM_TEST_SECRET", "hunter2")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Password)
}

func TestLoadConfigUnsetEnvVarKeptVerbatim(t *testing.T) {
	writeConfig(t, "database: crm\npassword: ${FM_TEST_MISSING_SECRET}\n")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "${FM_TEST_MISSING_SECRET}", cfg.Password)
}

func TestValidate(t *testing.T) {
	base := Config{
		Host:       "https://fm.example.com",
		Database:   "crm",
		APIVersion: "v1",
		Timeout:    time.Second,
		Retries:    1,
	}
	base.OutputFormat = "auto"

	tests := []struct {
		name      string
		mutate    func(*Config)
		errSubstr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing host", func(c *Config) { c.Host = "" }, "host is required"},
		{"bad scheme", func(c *Config) { c.Host = "ftp://x" }, "http or https"},
		{"missing database", func(c *Config) { c.Database = "" }, "database is required"},
		{"bad api version", func(c *Config) { c.APIVersion = "1" }, "api_version"},
		{"bad output", func(c *Config) { c.OutputFormat = "xml" }, "output"},
		{"negative retries", func(c *Config) { c.Retries = -1 }, "retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}
