package scheduler

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5000, cfg.MaxBotsTotal)
	assert.Equal(t, 10, cfg.MaxCharactersPerAccount)
	assert.True(t, cfg.RespectPopulationCaps)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	require.NoError(t, ioutil.WriteFile(path, []byte(`{"max_bots_total": 42, "auto_create_characters": false}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.MaxBotsTotal)
	assert.False(t, cfg.AutoCreateCharacters)
	// Fields absent from the file keep DefaultConfig's value.
	assert.Equal(t, 200, cfg.MaxBotsPerZone)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, os.IsNotExist(err))
}
