package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logging config keys
const (
	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
)

// LogFormat selects the handler the serve loop installs.
type LogFormat string

const (
	// LogFormatText emits human-readable key=value lines (default)
	LogFormatText LogFormat = "text"
	// LogFormatJSON emits one JSON object per line, for log shippers
	LogFormatJSON LogFormat = "json"
)

// validLogFormats is the set of allowed log.format values
var validLogFormats = map[LogFormat]bool{
	LogFormatText: true,
	LogFormatJSON: true,
}

// validLogLevels maps log.level values to slog levels
var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// LogSettings contains the logging configuration for the hub.
type LogSettings struct {
	// Level is the minimum severity emitted (default: info)
	Level slog.Level `json:"level" yaml:"level"`

	// Format selects text or json output (default: text)
	Format LogFormat `json:"format" yaml:"format"`
}

// RegisterLogDefaults registers default values for the log section.
// Called from Initialize() in config.go.
func RegisterLogDefaults() {
	if v == nil {
		return
	}
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// GetLogSettings returns the current logging configuration.
func GetLogSettings() LogSettings {
	return LogSettings{
		Level:  GetLogLevel(),
		Format: GetLogFormat(),
	}
}

// GetLogLevel retrieves the configured log level.
// Returns the configured level, or slog.LevelInfo (default) if not set or
// invalid. Logs a warning to stderr if an invalid value is configured.
//
// Config key: log.level
// Valid values: debug, info, warn, error
func GetLogLevel() slog.Level {
	value := GetString(KeyLogLevel)
	if value == "" {
		return slog.LevelInfo
	}

	level, ok := validLogLevels[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		fmt.Fprintf(os.Stderr, "Warning: invalid log.level %q in config (valid: debug, info, warn, error), using default 'info'\n", value)
		return slog.LevelInfo
	}

	return level
}

// GetLogFormat retrieves the configured log format.
// Returns the configured format, or LogFormatText (default) if not set or
// invalid. Logs a warning to stderr if an invalid value is configured.
//
// Config key: log.format
// Valid values: text, json
func GetLogFormat() LogFormat {
	value := GetString(KeyLogFormat)
	if value == "" {
		return LogFormatText
	}

	format := LogFormat(strings.ToLower(strings.TrimSpace(value)))
	if !validLogFormats[format] {
		fmt.Fprintf(os.Stderr, "Warning: invalid log.format %q in config (valid: text, json), using default 'text'\n", value)
		return LogFormatText
	}

	return format
}
