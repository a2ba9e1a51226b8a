package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LocalConfig represents the subset of config.yaml fields that need to be
// read directly from the file rather than through the viper singleton. Client
// subcommands use it to find a running hub without initializing the full
// config stack, and `uxr init` round-trips it when scaffolding.
//
// Using proper YAML parsing handles edge cases like comments, indentation,
// and special characters that regex-based parsing would miss.
type LocalConfig struct {
	Workspace string         `yaml:"workspace,omitempty"`
	Server    ServerSettings `yaml:"server"`
	Log       LocalLog       `yaml:"log"`
}

// LocalLog holds the raw log fields as they appear in the file.
type LocalLog struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// LoadLocal reads and parses config.yaml directly from the given .uxr
// directory, bypassing the viper singleton.
//
// Returns an empty LocalConfig (not nil) if the file doesn't exist or can't
// be parsed.
func LoadLocal(uxrDir string) *LocalConfig {
	configPath := filepath.Join(uxrDir, "config.yaml")
	data, err := os.ReadFile(configPath) // #nosec G304 - config file path from uxrDir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}

	return &cfg
}

// LoadLocalWithEnv reads config.yaml and applies environment variable
// overrides. Environment variables take precedence over config file values.
//
// Supported environment variables:
// - HOST: overrides server.host
// - PORT: overrides server.port
// - WORKSPACE_PATH: overrides workspace
func LoadLocalWithEnv(uxrDir string) *LocalConfig {
	cfg := LoadLocal(uxrDir)

	if envHost := os.Getenv("HOST"); envHost != "" {
		cfg.Server.Host = envHost
	}
	if envPort := os.Getenv("PORT"); envPort != "" {
		if port, err := strconv.Atoi(envPort); err == nil {
			cfg.Server.Port = port
		}
	}
	if envWorkspace := os.Getenv("WORKSPACE_PATH"); envWorkspace != "" {
		cfg.Workspace = envWorkspace
	}

	return cfg
}

// HubDialAddr resolves the address a client subcommand should dial, reading
// the local config.yaml if one exists under the given .uxr directory.
//
// This is a convenience function that wraps LoadLocalWithEnv for the common
// case of locating the hub.
func HubDialAddr(uxrDir string) string {
	return LoadLocalWithEnv(uxrDir).Server.DialAddr()
}

// FindWorkspaceDir walks up from start looking for a directory containing
// .uxr, mirroring the search Initialize performs. Returns start itself when
// no marker is found, so fresh workspaces still resolve somewhere sensible.
func FindWorkspaceDir(start string) string {
	if start == "" {
		start, _ = os.Getwd()
	}
	for d := start; ; d = filepath.Dir(d) {
		if info, err := os.Stat(filepath.Join(d, ".uxr")); err == nil && info.IsDir() {
			return d
		}
		if d == filepath.Dir(d) {
			break
		}
	}
	return start
}
