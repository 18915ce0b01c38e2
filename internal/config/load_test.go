package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.EWS.MimeThresholdMB)
	assert.Equal(t, 100, cfg.EWS.MaxChanges)
	assert.Contains(t, cfg.EWS.SkipFolders, "junk email")
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Graph.BaseURL)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[storage]
root = "/var/lib/deltabridge"

[azure]
tenant_id = "t"
client_id = "c"
client_secret = "s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/deltabridge", cfg.Storage.Root)
	assert.Equal(t, "t", cfg.Azure.TenantID)
	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.EWS.MimeThresholdMB)
	assert.Contains(t, cfg.EWS.SkipFolders, "sync issues")
}

func TestLoad_OverridesThresholdAndSkipList(t *testing.T) {
	path := writeConfig(t, `
[ews]
mime_threshold_mb = 10
skip_folders = ["drafts"]
max_changes = 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(10*1024*1024), cfg.EWS.MimeThresholdBytes())
	assert.Equal(t, []string{"drafts"}, cfg.EWS.SkipFolders)
	assert.Equal(t, 50, cfg.EWS.MaxChanges)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"zero threshold":   "[ews]\nmime_threshold_mb = 0\n",
		"huge batch":       "[ews]\nmax_changes = 5000\n",
		"bad graph url":    "[graph]\nbase_url = \"ftp://x\"\n",
		"empty store root": "[storage]\nroot = \"\"\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/deltabridge")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "deltabridge"), got)

	got, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}
