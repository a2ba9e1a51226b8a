package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/UXPLIMA/uxrcoder-hub/internal/debug"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called once
// at application startup, before any getter is used.
//
// Config file precedence: workspace .uxr/config.yaml (found by walking up from
// WORKSPACE_PATH or the CWD) > ~/.config/uxr/config.yaml > ~/.uxr/config.yaml.
// Environment variables with the UXR_ prefix override the file; the bare
// PORT, HOST, and WORKSPACE_PATH variables are bound for the editor plugin,
// which exports them unprefixed.
func Initialize() error {
	start := os.Getenv("WORKSPACE_PATH")
	if start == "" {
		start, _ = os.Getwd()
	}
	return InitializeAt(start)
}

// InitializeAt pins config discovery to the given workspace directory instead
// of walking up from the CWD. An empty dir behaves like Initialize.
func InitializeAt(dir string) error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// Walk up parent directories looking for .uxr/config.yaml so commands
	// work from anywhere inside the workspace.
	if dir != "" {
		for d := dir; ; d = filepath.Dir(d) {
			configPath := filepath.Join(d, ".uxr", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
			if d == filepath.Dir(d) {
				break
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "uxr", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".uxr", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// UXR_SERVER_PORT, UXR_LOG_LEVEL, etc. map onto dotted keys.
	v.SetEnvPrefix("UXR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The plugin launches the hub with bare PORT / HOST / WORKSPACE_PATH.
	_ = v.BindEnv(KeyServerPort, "UXR_SERVER_PORT", "PORT")
	_ = v.BindEnv(KeyServerHost, "UXR_SERVER_HOST", "HOST")
	_ = v.BindEnv(KeyWorkspace, "UXR_WORKSPACE", "WORKSPACE_PATH")

	RegisterServerDefaults()
	RegisterLogDefaults()
	RegisterTuningDefaults()

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("Debug: loaded config from %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("Debug: no config.yaml found; using defaults and environment variables\n")
	}

	return nil
}

// Reload re-reads the config file picked at Initialize time. A singleton with
// no backing file reloads to defaults plus environment, which is a no-op.
func Reload() error {
	if v == nil || v.ConfigFileUsed() == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reloading config file: %w", err)
	}
	return nil
}

// FileUsed returns the path of the config file in effect, or "" when running
// on defaults and environment only.
func FileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// ResetForTesting clears the singleton so tests can exercise Initialize
// against scratch directories.
func ResetForTesting() {
	v = nil
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// secretKeywords marks config keys whose values never leave the process.
var secretKeywords = []string{"token", "secret", "password", "credential", "apikey", "api-key"}

// Redacted returns all settings with secret-bearing values masked. Debug
// bundles embed this instead of AllSettings so exported state files are safe
// to attach to bug reports.
func Redacted() map[string]interface{} {
	return redactMap(AllSettings())
}

func redactMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		if nested, ok := value.(map[string]interface{}); ok {
			out[key] = redactMap(nested)
			continue
		}
		if isSecretKey(key) {
			out[key] = "[redacted]"
			continue
		}
		out[key] = value
	}
	return out
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range secretKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
