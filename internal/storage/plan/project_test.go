package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProjectIDAcceptsGoodValues(t *testing.T) {
	for _, id := range []string{"my-project", "proj.1", "a", "ABC_123"} {
		assert.NoError(t, ValidateProjectID(id), id)
	}
}

func TestValidateProjectIDRejectsBadValues(t *testing.T) {
	cases := []string{
		"",
		".hidden",
		"_private",
		"-dash-start",
		"has..dots",
		"trailing-",
		"trailing.",
		"has/slash",
		"has\\backslash",
		"CON",
		"com1",
	}
	for _, id := range cases {
		assert.Error(t, ValidateProjectID(id), id)
	}
}

func TestValidateProjectIDLengthBounds(t *testing.T) {
	assert.Error(t, ValidateProjectID(""))
	ok := make([]byte, 50)
	for i := range ok {
		ok[i] = 'a'
	}
	assert.NoError(t, ValidateProjectID(string(ok)))

	tooLong := make([]byte, 51)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	assert.Error(t, ValidateProjectID(string(tooLong)))
}

func TestSaveAndLoadProjectConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := &ProjectConfig{ProjectID: "demo", Name: "Demo Project"}
	require.NoError(t, SaveProjectConfig(dir, cfg))

	loaded, err := LoadProjectConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", loaded.ProjectID)
	assert.Equal(t, "Demo Project", loaded.Name)
}

func TestLoadProjectConfigMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadProjectConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), dir)
}

func TestLoadProjectConfigMalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte("not json"), 0o644))

	_, err := LoadProjectConfig(dir)
	require.Error(t, err)
}

func TestLoadProjectConfigInvalidProjectIDErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(`{"projectId":".bad"}`), 0o644))

	_, err := LoadProjectConfig(dir)
	require.Error(t, err)
}

func TestSaveProjectConfigRejectsSymlinkedWorkspace(t *testing.T) {
	base := t.TempDir()
	real := filepath.Join(base, "real")
	require.NoError(t, os.MkdirAll(real, 0o755))
	link := filepath.Join(base, "link")
	require.NoError(t, os.Symlink(real, link))

	err := SaveProjectConfig(link, &ProjectConfig{ProjectID: "demo"})
	require.Error(t, err)
}

func TestSaveProjectConfigRejectsInvalidProjectID(t *testing.T) {
	dir := t.TempDir()
	err := SaveProjectConfig(dir, &ProjectConfig{ProjectID: ".bad"})
	require.Error(t, err)
}
