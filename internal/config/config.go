package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/dbt-portal/dbtsync/internal/logging"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

const (
	DefaultServerURL            = "http://localhost:3001"
	DefaultConnectTimeout       = 10 * time.Second
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultRelayPort            = 3001
)

// Default returns the built-in configuration.
func Default() *types.Config {
	autoReconnect := true
	enableCORS := true
	return &types.Config{
		ServerURL: DefaultServerURL,
		DataDir:   GetPaths().StoragePath(),
		LogLevel:  "INFO",
		Identity:  &types.Identity{Role: "citizen"},
		Sync: &types.SyncConfig{
			ConnectTimeout:       types.Duration(DefaultConnectTimeout),
			ReconnectDelay:       types.Duration(DefaultReconnectDelay),
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
			AutoReconnect:        &autoReconnect,
		},
		Relay: &types.RelayConfig{
			Port:       DefaultRelayPort,
			Hostname:   "127.0.0.1",
			EnableCORS: &enableCORS,
		},
	}
}

// Load loads configuration from multiple sources (priority order):
// 1. Built-in defaults
// 2. Global config (~/.config/dbtsync/)
// 3. Project config (dbtsync.json(c) and .dbtsync/ in directory)
// 4. DBTSYNC_CONFIG file
// 5. DBTSYNC_CONFIG_CONTENT inline JSON
// 6. DBTSYNC_* environment variables
func Load(directory string) (*types.Config, error) {
	config := Default()

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return
		}
		err = loadConfigFile(path, config, baseDir)
		switch {
		case err == nil:
			loaded[absPath] = true
		case !os.IsNotExist(err):
			logging.Warn().Err(err).Str("path", path).Msg("skipping unreadable config file")
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "dbtsync.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "dbtsync.jsonc"), globalPath)

	// 2. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".dbtsync")
		loadOnce(filepath.Join(directory, "dbtsync.json"), directory)
		loadOnce(filepath.Join(directory, "dbtsync.jsonc"), directory)
		loadOnce(filepath.Join(projectConfigDir, "dbtsync.json"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "dbtsync.jsonc"), projectConfigDir)
	}

	// 3. DBTSYNC_CONFIG file override
	if configPath := os.Getenv("DBTSYNC_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. DBTSYNC_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("DBTSYNC_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inlineConfig); err != nil {
			logging.Warn().Err(err).Msg("ignoring invalid DBTSYNC_CONFIG_CONTENT")
		} else {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	if fileConfig.DataDir != "" && !filepath.IsAbs(fileConfig.DataDir) {
		fileConfig.DataDir = filepath.Join(baseDir, fileConfig.DataDir)
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		return escapeJSON(os.Getenv(envPattern.FindStringSubmatch(match)[1]))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		return escapeJSON(strings.TrimRight(string(content), "\r\n"))
	})

	return []byte(str)
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.ServerURL != "" {
		target.ServerURL = source.ServerURL
	}
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	if source.Identity != nil {
		if target.Identity == nil {
			target.Identity = &types.Identity{}
		}
		if source.Identity.UserID != "" {
			target.Identity.UserID = source.Identity.UserID
		}
		if source.Identity.Role != "" {
			target.Identity.Role = source.Identity.Role
		}
		if source.Identity.Name != "" {
			target.Identity.Name = source.Identity.Name
		}
	}

	if source.Sync != nil {
		if target.Sync == nil {
			target.Sync = &types.SyncConfig{}
		}
		if source.Sync.ConnectTimeout != 0 {
			target.Sync.ConnectTimeout = source.Sync.ConnectTimeout
		}
		if source.Sync.ReconnectDelay != 0 {
			target.Sync.ReconnectDelay = source.Sync.ReconnectDelay
		}
		if source.Sync.MaxReconnectAttempts != 0 {
			target.Sync.MaxReconnectAttempts = source.Sync.MaxReconnectAttempts
		}
		if source.Sync.AutoReconnect != nil {
			target.Sync.AutoReconnect = source.Sync.AutoReconnect
		}
	}

	if source.Relay != nil {
		if target.Relay == nil {
			target.Relay = &types.RelayConfig{}
		}
		if source.Relay.Port != 0 {
			target.Relay.Port = source.Relay.Port
		}
		if source.Relay.Hostname != "" {
			target.Relay.Hostname = source.Relay.Hostname
		}
		if source.Relay.EnableCORS != nil {
			target.Relay.EnableCORS = source.Relay.EnableCORS
		}
	}
}

// applyEnvOverrides applies DBTSYNC_* environment variable overrides.
// Values that do not parse are logged and ignored.
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("DBTSYNC_SERVER_URL"); v != "" {
		config.ServerURL = v
	}
	if v := os.Getenv("DBTSYNC_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("DBTSYNC_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}

	identity := types.Identity{
		UserID: os.Getenv("DBTSYNC_USER_ID"),
		Role:   os.Getenv("DBTSYNC_USER_ROLE"),
		Name:   os.Getenv("DBTSYNC_USER_NAME"),
	}
	if identity != (types.Identity{}) {
		mergeConfig(config, &types.Config{Identity: &identity})
	}

	sync := &types.SyncConfig{}
	if d, ok := envDuration("DBTSYNC_CONNECT_TIMEOUT"); ok {
		sync.ConnectTimeout = d
	}
	if d, ok := envDuration("DBTSYNC_RECONNECT_DELAY"); ok {
		sync.ReconnectDelay = d
	}
	if n, ok := envInt("DBTSYNC_MAX_RECONNECT_ATTEMPTS"); ok {
		sync.MaxReconnectAttempts = n
	}
	if b, ok := envBool("DBTSYNC_AUTO_RECONNECT"); ok {
		sync.AutoReconnect = &b
	}

	relay := &types.RelayConfig{}
	if n, ok := envInt("DBTSYNC_RELAY_PORT"); ok {
		relay.Port = n
	}

	mergeConfig(config, &types.Config{Sync: sync, Relay: relay})
}

func envDuration(key string) (types.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logging.Warn().Err(err).Str("env", key).Msg("ignoring invalid duration")
		return 0, false
	}
	return types.Duration(d), true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn().Err(err).Str("env", key).Msg("ignoring invalid number")
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logging.Warn().Err(err).Str("env", key).Msg("ignoring invalid boolean")
		return false, false
	}
	return b, true
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
