// Package config loads dbtsync configuration and resolves its directories.
//
// # Configuration Loading
//
// Load starts from Default and merges, in increasing priority:
//
//  1. Global config ($XDG_CONFIG_HOME/dbtsync/dbtsync.json or .jsonc)
//  2. Project config (dbtsync.json(c) and .dbtsync/dbtsync.json(c) in the given directory)
//  3. The file named by DBTSYNC_CONFIG
//  4. DBTSYNC_CONFIG_CONTENT inline JSON
//  5. DBTSYNC_* environment variables
//
// A file that does not exist is skipped silently; one that exists but does
// not parse is logged and skipped.
//
// # Supported Formats
//
// Files may contain comments (JSONC); they are stripped with tidwall/jsonc.
// Durations are Go duration strings ("1500ms", "10s") or milliseconds.
//
//	{
//	  // local relay started with `dbtsync relay`
//	  "serverURL": "http://localhost:3001",
//	  "identity": {"userId": "{env:PORTAL_USER}", "role": "admin"},
//	  "sync": {"reconnectDelay": "2s", "maxReconnectAttempts": 10}
//	}
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} expands to the environment variable's value
//   - {file:path} expands to the file's contents, relative to the config file
//     directory unless absolute or starting with ~/
//
// A relative dataDir in a file is resolved against that file's directory.
//
// # Environment Variables
//
//	DBTSYNC_SERVER_URL, DBTSYNC_DATA_DIR, DBTSYNC_LOG_LEVEL
//	DBTSYNC_USER_ID, DBTSYNC_USER_ROLE, DBTSYNC_USER_NAME
//	DBTSYNC_CONNECT_TIMEOUT, DBTSYNC_RECONNECT_DELAY
//	DBTSYNC_MAX_RECONNECT_ATTEMPTS, DBTSYNC_AUTO_RECONNECT
//	DBTSYNC_RELAY_PORT
//
// # Paths
//
// GetPaths follows the XDG base directory layout, each directory suffixed
// with "dbtsync". StoragePath is the default local cache directory.
package config
