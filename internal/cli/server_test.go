package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen = "0.0.0.0:9000"
data_dir = "/srv/depot"

[log]
level = "debug"
format = "text"

[rate_limit]
requests_per_minute = 100
`), 0644))

	t.Setenv("DEPOT_CONFIG", "")
	t.Setenv("DEPOT_DATA_DIR", "/env/depot")
	t.Setenv("DEPOT_RATE_LIMIT", "200")

	cmd := newServerStartCmd("start")
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", path,
		"--rate-limit", "300",
		"--webhook-urls", "http://a.example/hook, http://b.example/hook",
	}))

	cfg, err := loadServerConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen, "file overrides default")
	assert.Equal(t, "/env/depot", cfg.DataDir, "env overrides file")
	assert.Equal(t, 300, cfg.RateLimit.RequestsPerMinute, "flag overrides env")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"http://a.example/hook", "http://b.example/hook"}, cfg.Webhooks.URLs)
}

func TestLoadServerConfig_UnsetFlagsKeepDefaults(t *testing.T) {
	t.Setenv("DEPOT_CONFIG", "")
	t.Setenv("DEPOT_LISTEN", "")

	cmd := newServerStartCmd("start")
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := loadServerConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8730", cfg.Listen)
	assert.Equal(t, 600, cfg.RateLimit.RequestsPerMinute)
}

func TestLoadServerConfig_Invalid(t *testing.T) {
	t.Setenv("DEPOT_CONFIG", "")

	cmd := newServerStartCmd("start")
	require.NoError(t, cmd.ParseFlags([]string{"--tls-cert", "server.crt"}))

	_, err := loadServerConfig(cmd)
	assert.Error(t, err)
}
