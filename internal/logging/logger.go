// Package logging provides config-driven categorized file-based logging
// for manas. Logs are written to .manas/logs/ with a separate file per
// category. Logging is controlled by debug_mode in .manas/config.json -
// when false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup and initialization
	CategoryConfig       Category = "config"       // Config load, watch, overrides
	CategoryStore        Category = "store"        // SQLite store operations
	CategoryOrchestrator Category = "orchestrator" // Scheduler dispatch decisions
	CategoryPool         Category = "pool"         // Slot pools, scaling, binding
	CategoryTransport    Category = "transport"    // Provider calls, retries, breaker
	CategorySvapna       Category = "svapna"       // Consolidation phases
	CategoryReport       Category = "report"       // Report synthesis
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig to
// avoid a circular import.
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

// configFile structure for reading .manas/config.json.
type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	workspace    string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config. Should be
// called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".manas", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== manas logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", config.Level)
	return nil
}

// loadConfig reads .manas/config.json and extracts the logging section.
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".manas", "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config = loggingConfig{DebugMode: false, Level: "info"}
			configLoaded = true
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("invalid config.json: %w", err)
	}

	config = cf.Logging
	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	configLoaded = true
	return nil
}

// EnableForTest turns on debug logging to the given directory without a
// config file. Tests only.
func EnableForTest(dir string) {
	configMu.Lock()
	defer configMu.Unlock()
	workspace = dir
	logsDir = filepath.Join(dir, ".manas", "logs")
	config = loggingConfig{DebugMode: true, Level: "debug"}
	logLevel = LevelDebug
	configLoaded = true
	_ = os.MkdirAll(logsDir, 0755)
}

// Reset closes all open log files and clears state. Tests only.
func Reset() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	configMu.Lock()
	config = loggingConfig{}
	configLoaded = false
	configMu.Unlock()
}

// enabled reports whether the category should log at all.
func enabled(cat Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	if !configLoaded || !config.DebugMode {
		return false
	}
	if len(config.Categories) == 0 {
		return true
	}
	on, found := config.Categories[string(cat)]
	return !found || on
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	loggersMu.RLock()
	l, ok := loggers[cat]
	loggersMu.RUnlock()
	if ok {
		return l
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok = loggers[cat]; ok {
		return l
	}

	l = &Logger{category: cat}
	if enabled(cat) && logsDir != "" {
		path := filepath.Join(logsDir, string(cat)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			l.file = f
			l.logger = log.New(f, "", 0)
		}
	}
	loggers[cat] = l
	return l
}

func (l *Logger) write(level int, levelName, format string, args ...interface{}) {
	if l.logger == nil || !enabled(l.category) {
		return
	}
	configMu.RLock()
	min := logLevel
	configMu.RUnlock()
	if level < min {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("%s [%s] %s", ts, levelName, fmt.Sprintf(format, args...))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// Convenience helpers for hot categories, mirroring call sites that would
// otherwise repeat Get() everywhere.

// Store logs an info message to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs a debug message to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Orchestrator logs an info message to the orchestrator category.
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// Transport logs an info message to the transport category.
func Transport(format string, args ...interface{}) { Get(CategoryTransport).Info(format, args...) }

// Svapna logs an info message to the svapna category.
func Svapna(format string, args ...interface{}) { Get(CategorySvapna).Info(format, args...) }
