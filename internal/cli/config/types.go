// Package config loads fmdata CLI configuration from a YAML file,
// environment variables and command-line flags, in that precedence order
// (flags highest). A config file can carry named targets, one per server
// or environment, selected with --target.
package config

import "time"

// Config holds all CLI configuration options. Connection fields at the
// top level act as the default target; entries in Targets override them
// when selected.
type Config struct {
	Host           string        `koanf:"host"`
	Database       string        `koanf:"database"`
	Username       string        `koanf:"username"`
	Password       string        `koanf:"password"`
	APIVersion     string        `koanf:"api_version"`
	Insecure       bool          `koanf:"insecure"`
	Timeout        time.Duration `koanf:"timeout"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	LoginCooldown  time.Duration `koanf:"login_cooldown"`
	Retries        int           `koanf:"retries"`
	Verbose        bool          `koanf:"verbose"`
	OutputFormat   string        `koanf:"output"`
	QueriesDir     string        `koanf:"queries_dir"`

	Targets map[string]Target `koanf:"targets"`

	// TargetName is the name of the applied target, "" when the
	// top-level fields were used as-is.
	TargetName string `koanf:"-"`
}

// Target is one named server entry in the config file. Empty fields fall
// back to the top-level values; Insecure can only turn TLS verification
// off, never back on.
type Target struct {
	Host       string `koanf:"host"`
	Database   string `koanf:"database"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
	APIVersion string `koanf:"api_version"`
	Insecure   bool   `koanf:"insecure"`
}

// Default configuration values.
const (
	DefaultAPIVersion     = "v1"
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultLoginCooldown  = time.Second
	DefaultRetries        = 2
	DefaultQueriesDir     = "queries"
	DefaultOutput         = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// applyTarget folds one named target's non-empty fields over the
// top-level connection settings.
func (c *Config) applyTarget(name string, t Target) {
	c.TargetName = name
	if t.Host != "" {
		c.Host = t.Host
	}
	if t.Database != "" {
		c.Database = t.Database
	}
	if t.Username != "" {
		c.Username = t.Username
	}
	if t.Password != "" {
		c.Password = t.Password
	}
	if t.APIVersion != "" {
		c.APIVersion = t.APIVersion
	}
	if t.Insecure {
		c.Insecure = true
	}
}
