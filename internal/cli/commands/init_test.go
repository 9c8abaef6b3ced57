package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := runCommand(t, NewInitCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "fmdata.yaml")

	raw, err := os.ReadFile("fmdata.yaml")
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &cfg))
	assert.Equal(t, "${FMDATA_PASSWORD}", cfg["password"])
	assert.Contains(t, cfg, "targets")

	_, err = os.Stat(filepath.Join("queries", "adults.star"))
	require.NoError(t, err)
}

func TestInitCommandRefusesOverwrite(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("fmdata.yaml", []byte("host: keep"), 0o600))

	_, err := runCommand(t, NewInitCommand())
	require.Error(t, err)

	raw, err := os.ReadFile("fmdata.yaml")
	require.NoError(t, err)
	assert.Equal(t, "host: keep", string(raw))
}

func TestInitCommandForce(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("fmdata.yaml", []byte("host: old"), 0o600))

	_, err := runCommand(t, NewInitCommand(), "--force")
	require.NoError(t, err)

	raw, err := os.ReadFile("fmdata.yaml")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "host: old")
}
