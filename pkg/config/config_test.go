package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := &Config{}
	assert.Equal(t, 64, c.GetMaxDepth())
	assert.Equal(t, uint32(8192), c.GetStackSize())
	assert.True(t, c.GetColor())
	assert.Equal(t, 1024, c.GetSymbolCacheSize())
	assert.NoError(t, c.Validate())
}

func TestLoadConfigFromCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFile)
	c, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{}, c)

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig, string(data))
}

func TestLoadConfigFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFile)
	require.NoError(t, ioutil.WriteFile(path, []byte("max-depth: 10\nstack-size: 0x4000\ndisassemble: true\ncolor: false\nsymbol-cache-size: 7\n"), 0600))
	c, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 10, c.GetMaxDepth())
	assert.Equal(t, uint32(0x4000), c.GetStackSize())
	assert.True(t, c.Disassemble)
	assert.False(t, c.GetColor())
	assert.Equal(t, 7, c.GetSymbolCacheSize())
}

func TestLoadConfigFromErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, ioutil.WriteFile(bad, []byte("max-depth: [\n"), 0600))
	_, err := LoadConfigFrom(bad)
	assert.Error(t, err)

	odd := filepath.Join(dir, "odd.yml")
	require.NoError(t, ioutil.WriteFile(odd, []byte("stack-size: 3000\n"), 0600))
	_, err = LoadConfigFrom(odd)
	assert.Error(t, err)

	_, err = LoadConfigFrom(filepath.Join(dir, "missing", configFile))
	assert.Error(t, err)
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFile)
	depth := 12
	color := false
	require.NoError(t, SaveConfigTo(&Config{MaxDepth: &depth, Color: &color}, path))
	c, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 12, c.GetMaxDepth())
	assert.False(t, c.GetColor())
}

func TestGetConfigFilePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	path, err := GetConfigFilePath(configFile)
	require.NoError(t, err)
	assert.Equal(t, "/xdg/armbt/config.yml", path)
}
