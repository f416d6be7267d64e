package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadOrFail(t *testing.T, cfgString string) *Config {
	t.Helper()
	cfg, err := Unmarshal([]byte(cfgString))
	require.NoError(t, err)
	return cfg
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := loadOrFail(t, "")
	assert.Equal(t, 3, cfg.BackchannelFD)
	assert.Equal(t, "nobody", cfg.DefaultAuthor)
	assert.Equal(t, "local", cfg.DefaultDomain)
	assert.False(t, cfg.QuotePathFully)
	assert.False(t, cfg.VerifyDigests)
	assert.Empty(t, cfg.GraphEdgesFile)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestFullConfigOverridesDefaults(t *testing.T) {
	const cfgString = `
quotePathFully: true
verifyDigests: true
backchannelFD: 4
graphEdgesFile: /tmp/edges.txt
metricsAddr: :9090
defaultAuthor: alice
defaultDomain: example.org
`
	cfg := loadOrFail(t, cfgString)
	assert.True(t, cfg.QuotePathFully)
	assert.True(t, cfg.VerifyDigests)
	assert.Equal(t, 4, cfg.BackchannelFD)
	assert.Equal(t, "/tmp/edges.txt", cfg.GraphEdgesFile)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "alice", cfg.DefaultAuthor)
	assert.Equal(t, "example.org", cfg.DefaultDomain)
}

func TestNegativeBackchannelFDFailsValidation(t *testing.T) {
	_, err := Unmarshal([]byte("backchannelFD: -1\n"))
	require.Error(t, err)
}

func TestMalformedYAMLFails(t *testing.T) {
	_, err := Unmarshal([]byte("backchannelFD: [this is not an int\n"))
	require.Error(t, err)
}

func TestLoadConfigFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("defaultAuthor: bob\n"), 0o644))
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.DefaultAuthor)
}

func TestLoadConfigFileMissingFails(t *testing.T) {
	_, err := LoadConfigFile("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
