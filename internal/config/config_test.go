package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbt-portal/dbtsync/pkg/types"
)

// isolate points HOME and the XDG dirs at a temp dir and clears DBTSYNC_*.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	for _, key := range []string{
		"DBTSYNC_CONFIG", "DBTSYNC_CONFIG_CONTENT", "DBTSYNC_SERVER_URL", "DBTSYNC_DATA_DIR",
		"DBTSYNC_LOG_LEVEL", "DBTSYNC_USER_ID", "DBTSYNC_USER_ROLE", "DBTSYNC_USER_NAME",
		"DBTSYNC_CONNECT_TIMEOUT", "DBTSYNC_RECONNECT_DELAY", "DBTSYNC_MAX_RECONNECT_ATTEMPTS",
		"DBTSYNC_AUTO_RECONNECT", "DBTSYNC_RELAY_PORT",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := isolate(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, filepath.Join(tmpDir, "data", "dbtsync", "cache"), cfg.DataDir)
	assert.Equal(t, "citizen", cfg.Identity.Role)
	assert.Equal(t, DefaultConnectTimeout, cfg.Sync.ConnectTimeout.Std())
	assert.Equal(t, DefaultReconnectDelay, cfg.Sync.ReconnectDelay.Std())
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.Sync.MaxReconnectAttempts)
	assert.True(t, *cfg.Sync.AutoReconnect)
	assert.Equal(t, DefaultRelayPort, cfg.Relay.Port)
}

func TestLoadProjectJSONC(t *testing.T) {
	isolate(t)
	projectDir := t.TempDir()

	writeFile(t, filepath.Join(projectDir, "dbtsync.jsonc"), `{
		// block office relay
		"serverURL": "https://portal.example.gov.in",
		"dataDir": "cache",
		"identity": {"userId": "admin-1", "role": "admin", "name": "Block Officer"},
		/* slower retries on rural links */
		"sync": {"reconnectDelay": "2s", "maxReconnectAttempts": 10, "connectTimeout": 1500, "autoReconnect": false}
	}`)

	cfg, err := Load(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example.gov.in", cfg.ServerURL)
	assert.Equal(t, filepath.Join(projectDir, "cache"), cfg.DataDir)
	assert.Equal(t, types.Identity{UserID: "admin-1", Role: "admin", Name: "Block Officer"}, *cfg.Identity)
	assert.Equal(t, 2*time.Second, cfg.Sync.ReconnectDelay.Std())
	assert.Equal(t, 1500*time.Millisecond, cfg.Sync.ConnectTimeout.Std())
	assert.Equal(t, 10, cfg.Sync.MaxReconnectAttempts)
	assert.False(t, *cfg.Sync.AutoReconnect)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultRelayPort, cfg.Relay.Port)
}

func TestLoadPrecedence(t *testing.T) {
	tmpDir := isolate(t)
	projectDir := t.TempDir()

	writeFile(t, filepath.Join(tmpDir, "config", "dbtsync", "dbtsync.json"),
		`{"serverURL": "http://global:1", "logLevel": "WARN", "relay": {"port": 4000}}`)
	writeFile(t, filepath.Join(projectDir, ".dbtsync", "dbtsync.json"),
		`{"serverURL": "http://project:2"}`)
	override := filepath.Join(t.TempDir(), "override.json")
	writeFile(t, override, `{"relay": {"hostname": "0.0.0.0"}}`)

	t.Setenv("DBTSYNC_CONFIG", override)
	t.Setenv("DBTSYNC_CONFIG_CONTENT", `{"identity": {"name": "Inline"}}`)
	t.Setenv("DBTSYNC_RELAY_PORT", "5000")

	cfg, err := Load(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "http://project:2", cfg.ServerURL)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0", cfg.Relay.Hostname)
	assert.Equal(t, 5000, cfg.Relay.Port)
	assert.Equal(t, "Inline", cfg.Identity.Name)
	assert.Equal(t, "citizen", cfg.Identity.Role)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DBTSYNC_SERVER_URL", "ws://relay:3001/ws")
	t.Setenv("DBTSYNC_DATA_DIR", "/var/lib/dbtsync")
	t.Setenv("DBTSYNC_USER_ID", "u-42")
	t.Setenv("DBTSYNC_USER_ROLE", "admin")
	t.Setenv("DBTSYNC_RECONNECT_DELAY", "250ms")
	t.Setenv("DBTSYNC_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("DBTSYNC_AUTO_RECONNECT", "false")
	t.Setenv("DBTSYNC_CONNECT_TIMEOUT", "not-a-duration")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ws://relay:3001/ws", cfg.ServerURL)
	assert.Equal(t, "/var/lib/dbtsync", cfg.DataDir)
	assert.Equal(t, "u-42", cfg.Identity.UserID)
	assert.True(t, cfg.Identity.IsAdmin())
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.ReconnectDelay.Std())
	assert.Equal(t, 3, cfg.Sync.MaxReconnectAttempts)
	assert.False(t, *cfg.Sync.AutoReconnect)
	assert.Equal(t, DefaultConnectTimeout, cfg.Sync.ConnectTimeout.Std())
}

func TestLoadSkipsMalformedFile(t *testing.T) {
	isolate(t)
	projectDir := t.TempDir()
	writeFile(t, filepath.Join(projectDir, "dbtsync.json"), `{"serverURL": `)
	writeFile(t, filepath.Join(projectDir, ".dbtsync", "dbtsync.json"), `{"logLevel": "DEBUG"}`)

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestInterpolation(t *testing.T) {
	isolate(t)
	projectDir := t.TempDir()
	t.Setenv("PORTAL_USER", `officer "one"`)
	writeFile(t, filepath.Join(projectDir, "user-name.txt"), "Block Officer\n")
	writeFile(t, filepath.Join(projectDir, "dbtsync.json"), `{
		"identity": {"userId": "{env:PORTAL_USER}", "name": "{file:user-name.txt}"},
		"serverURL": "{file:missing.txt}"
	}`)

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, `officer "one"`, cfg.Identity.UserID)
	assert.Equal(t, "Block Officer", cfg.Identity.Name)
	assert.Equal(t, "{file:missing.txt}", cfg.ServerURL)
}

func TestDurationJSON(t *testing.T) {
	var d types.Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`250`)))
	assert.Equal(t, 250*time.Millisecond, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))

	out, err := types.Duration(2 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "dbtsync.json")

	cfg := Default()
	cfg.ServerURL = "http://saved:9"
	require.NoError(t, Save(cfg, path))

	t.Setenv("DBTSYNC_CONFIG", path)
	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://saved:9", loaded.ServerURL)
	assert.Equal(t, cfg.Sync.ReconnectDelay, loaded.Sync.ReconnectDelay)
}

func TestGetPaths(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmpDir, "state"))

	paths := GetPaths()
	assert.Equal(t, filepath.Join(tmpDir, "config", "dbtsync"), paths.Config)
	assert.Equal(t, filepath.Join(tmpDir, "data", "dbtsync", "cache"), paths.StoragePath())
	assert.Equal(t, filepath.Join(tmpDir, "state", "dbtsync", "log"), paths.LogPath())
	assert.Equal(t, filepath.Join(paths.Config, "dbtsync.json"), GlobalConfigPath())
	assert.Equal(t, filepath.Join("proj", "dbtsync.json"), ProjectConfigPath("proj"))

	require.NoError(t, paths.EnsurePaths())
	assert.DirExists(t, paths.Data)
}
