package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that the configuration can open a connection. Commands
// that never talk to a server (init, version, completion) skip it.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required\nHint: set it in fmdata.yaml, FMDATA_HOST, or --host")
	}
	u, err := url.Parse(c.Host)
	if err != nil {
		return fmt.Errorf("invalid host %q: %w", c.Host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("host %q must use http or https", c.Host)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required\nHint: set it in fmdata.yaml, FMDATA_DATABASE, or --database")
	}
	if !strings.HasPrefix(c.APIVersion, "v") {
		return fmt.Errorf("api_version %q must look like v1, v2 or vLatest", c.APIVersion)
	}
	switch c.OutputFormat {
	case "auto", "text", "markdown", "json":
	default:
		return fmt.Errorf("output %q must be one of auto, text, markdown, json", c.OutputFormat)
	}
	if c.Timeout < 0 || c.ConnectTimeout < 0 || c.LoginCooldown < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}
