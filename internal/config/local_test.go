package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeUxrConfig(t *testing.T, uxrDir, content string) {
	t.Helper()
	if err := os.MkdirAll(uxrDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(uxrDir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadLocal(t *testing.T) {
	tests := []struct {
		name          string
		configYAML    string
		wantHost      string
		wantPort      int
		wantWorkspace string
		wantLevel     string
	}{
		{
			name:       "empty config",
			configYAML: "",
		},
		{
			name:       "server section",
			configYAML: "server:\n  host: 127.0.0.1\n  port: 40100\n",
			wantHost:   "127.0.0.1",
			wantPort:   40100,
		},
		{
			name:          "full config",
			configYAML:    "workspace: \"/proj/platformer\"\nserver:\n  host: 0.0.0.0\n  port: 34872\nlog:\n  level: debug\n",
			wantHost:      "0.0.0.0",
			wantPort:      34872,
			wantWorkspace: "/proj/platformer",
			wantLevel:     "debug",
		},
		{
			name:       "port in comment should not match",
			configYAML: "# server:\n#   port: 9999\nlog:\n  level: warn\n",
			wantLevel:  "warn",
		},
		{
			name:       "nested port under other section ignored",
			configYAML: "plugin:\n  port: 9999\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uxrDir := filepath.Join(t.TempDir(), ".uxr")
			writeUxrConfig(t, uxrDir, tt.configYAML)

			cfg := LoadLocal(uxrDir)
			if cfg == nil {
				t.Fatal("LoadLocal returned nil, want empty struct")
			}
			if cfg.Server.Host != tt.wantHost {
				t.Errorf("host = %q, want %q", cfg.Server.Host, tt.wantHost)
			}
			if cfg.Server.Port != tt.wantPort {
				t.Errorf("port = %d, want %d", cfg.Server.Port, tt.wantPort)
			}
			if cfg.Workspace != tt.wantWorkspace {
				t.Errorf("workspace = %q, want %q", cfg.Workspace, tt.wantWorkspace)
			}
			if cfg.Log.Level != tt.wantLevel {
				t.Errorf("log level = %q, want %q", cfg.Log.Level, tt.wantLevel)
			}
		})
	}
}

func TestLoadLocalMissingFile(t *testing.T) {
	cfg := LoadLocal(filepath.Join(t.TempDir(), ".uxr"))
	if cfg == nil {
		t.Fatal("LoadLocal returned nil for missing file, want empty struct")
	}
	if cfg.Server.Port != 0 || cfg.Workspace != "" {
		t.Errorf("missing file should yield zero struct, got %+v", cfg)
	}
}

func TestLoadLocalMalformedFile(t *testing.T) {
	uxrDir := filepath.Join(t.TempDir(), ".uxr")
	writeUxrConfig(t, uxrDir, "server: [not: a: mapping\n")

	cfg := LoadLocal(uxrDir)
	if cfg == nil {
		t.Fatal("LoadLocal returned nil for malformed file, want empty struct")
	}
	if cfg.Server.Port != 0 {
		t.Errorf("malformed file should yield zero struct, got %+v", cfg)
	}
}

func TestLoadLocalWithEnv(t *testing.T) {
	uxrDir := filepath.Join(t.TempDir(), ".uxr")
	writeUxrConfig(t, uxrDir, "server:\n  host: 10.0.0.5\n  port: 40100\nworkspace: \"/from/file\"\n")

	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "41555")
	t.Setenv("WORKSPACE_PATH", "/from/env")

	cfg := LoadLocalWithEnv(uxrDir)
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %q, want HOST override", cfg.Server.Host)
	}
	if cfg.Server.Port != 41555 {
		t.Errorf("port = %d, want PORT override", cfg.Server.Port)
	}
	if cfg.Workspace != "/from/env" {
		t.Errorf("workspace = %q, want WORKSPACE_PATH override", cfg.Workspace)
	}
}

func TestLoadLocalWithEnvBadPort(t *testing.T) {
	uxrDir := filepath.Join(t.TempDir(), ".uxr")
	writeUxrConfig(t, uxrDir, "server:\n  port: 40100\n")

	t.Setenv("PORT", "not-a-number")

	cfg := LoadLocalWithEnv(uxrDir)
	if cfg.Server.Port != 40100 {
		t.Errorf("port = %d, want file value kept on unparseable PORT", cfg.Server.Port)
	}
}

func TestListenAndDialAddr(t *testing.T) {
	tests := []struct {
		name       string
		settings   ServerSettings
		wantListen string
		wantDial   string
	}{
		{"defaults", ServerSettings{}, "0.0.0.0:34872", "127.0.0.1:34872"},
		{"wildcard v4", ServerSettings{Host: "0.0.0.0", Port: 40000}, "0.0.0.0:40000", "127.0.0.1:40000"},
		{"wildcard v6", ServerSettings{Host: "::", Port: 40000}, "[::]:40000", "127.0.0.1:40000"},
		{"explicit host", ServerSettings{Host: "192.168.1.20", Port: 34872}, "192.168.1.20:34872", "192.168.1.20:34872"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.settings.ListenAddr(); got != tt.wantListen {
				t.Errorf("ListenAddr() = %q, want %q", got, tt.wantListen)
			}
			if got := tt.settings.DialAddr(); got != tt.wantDial {
				t.Errorf("DialAddr() = %q, want %q", got, tt.wantDial)
			}
		})
	}
}

func TestHubDialAddr(t *testing.T) {
	uxrDir := filepath.Join(t.TempDir(), ".uxr")
	writeUxrConfig(t, uxrDir, "server:\n  host: 0.0.0.0\n  port: 40200\n")

	if got := HubDialAddr(uxrDir); got != "127.0.0.1:40200" {
		t.Errorf("HubDialAddr() = %q, want 127.0.0.1:40200", got)
	}
}

func TestFindWorkspaceDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".uxr"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	nested := filepath.Join(root, "assets", "textures")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	if got := FindWorkspaceDir(nested); got != root {
		t.Errorf("FindWorkspaceDir(%q) = %q, want %q", nested, got, root)
	}

	// No marker anywhere: falls back to the starting directory.
	bare := t.TempDir()
	if got := FindWorkspaceDir(bare); got != bare {
		t.Errorf("FindWorkspaceDir(%q) = %q, want start dir back", bare, got)
	}
}
