// Package logging wraps zerolog with the process-wide logger used by every
// dbtsync component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Components take a child of it with
// Component after Init has run.
var Logger zerolog.Logger

// Level is a zerolog level.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config holds logger configuration.
type Config struct {
	Level Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty writes human-readable lines instead of JSON.
	Pretty     bool
	TimeFormat string
	// LogToFile also writes JSON lines to dbtsync-<timestamp>.log in LogDir.
	LogToFile bool
	LogDir    string
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
		LogDir:     os.TempDir(),
	}
}

// logFile is the file opened by the last Init with LogToFile.
var logFile struct {
	sync.Mutex
	f    *os.File
	path string
}

// Init replaces the global logger. A log file opened by an earlier Init is
// closed first.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: cfg.TimeFormat}
	}

	Close()
	if cfg.LogToFile {
		f, err := openLogFile(cfg.LogDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		} else {
			out = zerolog.MultiLevelWriter(out, f)
		}
	}

	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

func openLogFile(dir string) (*os.File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	name := "dbtsync-" + time.Now().Format("20060102-150405") + ".log"
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logFile.Lock()
	logFile.f, logFile.path = f, path
	logFile.Unlock()
	return f, nil
}

// LogFilePath returns the file being logged to, or "".
func LogFilePath() string {
	logFile.Lock()
	defer logFile.Unlock()
	return logFile.path
}

// Close closes the log file, if any.
func Close() {
	logFile.Lock()
	defer logFile.Unlock()
	if logFile.f == nil {
		return
	}
	_ = logFile.f.Close()
	logFile.f, logFile.path = nil, ""
}

var levels = map[string]Level{
	"DEBUG":   DebugLevel,
	"INFO":    InfoLevel,
	"WARN":    WarnLevel,
	"WARNING": WarnLevel,
	"ERROR":   ErrorLevel,
	"FATAL":   FatalLevel,
}

// ParseLevel maps DEBUG, INFO, WARN(ING), ERROR and FATAL in any case to a
// level. Anything else is InfoLevel.
func ParseLevel(s string) Level {
	if level, ok := levels[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return level
	}
	return InfoLevel
}

// Component returns a child of the global logger with a component field.
// The child keeps the writer and level Logger had when it was created.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event { return Logger.Debug() }
func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }

// Fatal logs and exits with status 1 once the event is sent.
func Fatal() *zerolog.Event { return Logger.Fatal() }

// With starts a child logger context.
func With() zerolog.Context { return Logger.With() }

func init() {
	Init(DefaultConfig())
}
