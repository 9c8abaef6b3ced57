package macro

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeQueries(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoadMissingDirectory(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, s.Queries())
}

func TestLoadParsesMetadata(t *testing.T) {
	dir := writeQueries(t, map[string]string{
		"contacts.star": `def adults(min_age=18):
    """Contacts at or past min_age."""
    return {"age__gte": min_age}

def by_name(name):
    return {"name__startswith": name}

def _helper():
    return None
`,
	})

	s, err := Load(dir)
	require.NoError(t, err)

	infos := s.Queries()
	require.Len(t, infos, 2)

	adults := infos[0]
	assert.Equal(t, "adults", adults.Name)
	assert.Equal(t, "Contacts at or past min_age.", adults.Doc)
	require.Len(t, adults.Params, 1)
	assert.Equal(t, "min_age", adults.Params[0].Name)
	assert.Equal(t, "18", adults.Params[0].Default)
	assert.False(t, adults.Params[0].Required)
	assert.Equal(t, "adults(min_age=18)", adults.Signature())

	byName := infos[1]
	assert.True(t, byName.Params[0].Required)
	assert.Equal(t, "by_name(name)", byName.Signature())
}

func TestLoadDuplicateName(t *testing.T) {
	dir := writeQueries(t, map[string]string{
		"a.star": "def adults():\n    return {}\n",
		"b.star": "def adults():\n    return {}\n",
	})

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined")
}

func TestLoadSyntaxError(t *testing.T) {
	dir := writeQueries(t, map[string]string{"bad.star": "def broken(:\n"})
	_, err := Load(dir)
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestRunCoercesArguments(t *testing.T) {
	dir := writeQueries(t, map[string]string{
		"contacts.star": `def adults(min_age=18, active=False):
    q = {"age__gte": min_age, "sort": ["-age"], "limit": 5}
    if active:
        q["status"] = "active"
    return q
`,
	})

	s, err := Load(dir)
	require.NoError(t, err)

	shorthand, err := s.Run("adults", map[string]string{"min_age": "21", "active": "true"})
	require.NoError(t, err)
	assert.Equal(t, int64(21), shorthand["age__gte"])
	assert.Equal(t, "active", shorthand["status"])
	assert.Equal(t, []any{"-age"}, shorthand["sort"])
	assert.Equal(t, int64(5), shorthand["limit"])
}

func TestRunDefaults(t *testing.T) {
	dir := writeQueries(t, map[string]string{
		"contacts.star": "def adults(min_age=18):\n    return {\"age__gte\": min_age}\n",
	})

	s, err := Load(dir)
	require.NoError(t, err)

	shorthand, err := s.Run("adults", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(18), shorthand["age__gte"])
}

func TestRunUnknownQuery(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	_, err = s.Run("missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no saved query "missing"`)
}

func TestRunUnknownArgument(t *testing.T) {
	dir := writeQueries(t, map[string]string{
		"contacts.star": "def adults(min_age=18):\n    return {\"age__gte\": min_age}\n",
	})

	s, err := Load(dir)
	require.NoError(t, err)
	_, err = s.Run("adults", map[string]string{"oldest": "99"})
	require.Error(t, err)
}

func TestRunRejectsNonDictResult(t *testing.T) {
	dir := writeQueries(t, map[string]string{
		"contacts.star": "def adults():\n    return [1, 2]\n",
	})

	s, err := Load(dir)
	require.NoError(t, err)
	_, err = s.Run("adults", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a dict")
}
