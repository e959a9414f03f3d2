package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points the config dir at a temp dir and clears overrides.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, k := range []string{"PYREVANCED_USER_AGENT", "PYREVANCED_JAVA", "JAVA_HOME", "GITHUB_TOKEN"} {
		t.Setenv(k, "")
	}
	return filepath.Join(dir, "pyrevanced")
}

func TestLoadConfigDefaults(t *testing.T) {
	isolateEnv(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "java", cfg.Java)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, "anything", cfg.UserAgent)
	assert.Equal(t, DefaultCatalog, cfg.Sources.CatalogURL)
	assert.Zero(t, cfg.HTTPTimeout())
	assert.Zero(t, cfg.HTTP.Retries)
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	isolateEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	isolateEnv(t)
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
java: /usr/lib/jvm/bin/java
output: out/yt.apk
concurrency: 2
sources:
  github_owner: fork
http:
  timeout_seconds: 30
publish:
  host: files.example.com
  user: deploy
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/jvm/bin/java", cfg.Java)
	assert.Equal(t, "out/yt.apk", cfg.Output)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, "fork", cfg.Sources.GitHubOwner)
	assert.Equal(t, "https://github.com", cfg.Sources.GitHubBase)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, "files.example.com", cfg.Publish.Host)
	assert.Equal(t, 22, cfg.Publish.Port)
}

func TestLoadConfigSecretsEnv(t *testing.T) {
	dir := isolateEnv(t)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.env"),
		[]byte("GITHUB_TOKEN=ghp_test\nJAVA_HOME=/opt/jdk\n"), 0o600))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "ghp_test", cfg.Sources.GitHubToken)
	assert.Equal(t, filepath.Join("/opt/jdk", "bin", "java"), cfg.Java)

	t.Setenv("PYREVANCED_JAVA", "/custom/java")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/custom/java", cfg.Java)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Concurrency = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Sources.CatalogURL = "not a url"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Output = ""
	assert.Error(t, bad.Validate())
}
