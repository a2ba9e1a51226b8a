package config

import (
	"net"
	"os"
	"strconv"
)

// Server config keys
const (
	KeyServerHost = "server.host"
	KeyServerPort = "server.port"
	KeyWorkspace  = "workspace"
)

// DefaultPort is the listen port the editor plugin probes first.
const DefaultPort = 34872

// ServerSettings contains the listener configuration for the hub.
type ServerSettings struct {
	// Host is the bind address (default: 0.0.0.0)
	Host string `json:"host" yaml:"host"`

	// Port is the listen port (default: 34872)
	Port int `json:"port" yaml:"port"`
}

// RegisterServerDefaults registers default values for the server section.
// Called from Initialize() in config.go.
func RegisterServerDefaults() {
	if v == nil {
		return
	}
	v.SetDefault(KeyServerHost, "0.0.0.0")
	v.SetDefault(KeyServerPort, DefaultPort)
	v.SetDefault(KeyWorkspace, "")
}

// GetServerSettings returns the current listener configuration.
func GetServerSettings() ServerSettings {
	return ServerSettings{
		Host: GetString(KeyServerHost),
		Port: GetInt(KeyServerPort),
	}
}

// ListenAddr returns the host:port string the hub should bind.
func (s ServerSettings) ListenAddr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// DialAddr returns the host:port a local client should connect to. A wildcard
// bind address is not dialable, so it maps to loopback.
func (s ServerSettings) DialAddr() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port := s.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// GetWorkspacePath resolves the workspace root the hub mirrors. Falls back to
// the CWD when neither config nor WORKSPACE_PATH name one.
func GetWorkspacePath() string {
	if ws := GetString(KeyWorkspace); ws != "" {
		return ws
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}
