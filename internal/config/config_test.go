package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOptionsFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dash_args")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.LogLevel)
	assert.True(t, cfg.AllTracksMetered)
	assert.False(t, cfg.CurlGlobalLock)
}

func TestLoad_ParsesFlagsAndBooleans(t *testing.T) {
	path := writeOptionsFile(t, "--log-level=2\n--v=3\n--curl-global-lock\n# a comment\n\n--no-all-tracks-metered\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.LogLevel)
	assert.Equal(t, 3, cfg.Verbose)
	assert.True(t, cfg.CurlGlobalLock)
	assert.False(t, cfg.AllTracksMetered)
}

func TestLoad_NoFlagWinsOverFlag(t *testing.T) {
	path := writeOptionsFile(t, "--all-tracks-metered\n--no-all-tracks-metered\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.AllTracksMetered)
}

func TestLoad_RejectsNegativeLogLevel(t *testing.T) {
	path := writeOptionsFile(t, "--log-level=-1\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownFlag(t *testing.T) {
	path := writeOptionsFile(t, "--made-up-flag=1\n")
	_, err := Load(path)
	assert.Error(t, err)
}
