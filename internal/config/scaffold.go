package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteScaffold writes a fresh config.yaml into the given .uxr directory,
// built from the provided local config plus commented defaults for the
// tuning keys. Used by `uxr init`; refuses to clobber an existing file.
func WriteScaffold(uxrDir string, cfg *LocalConfig) (string, error) {
	if err := os.MkdirAll(uxrDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", uxrDir, err)
	}

	configPath := filepath.Join(uxrDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return "", fmt.Errorf("config already exists: %s", configPath)
	}

	root := yaml.Node{
		Kind:    yaml.DocumentNode,
		Content: []*yaml.Node{buildScaffoldNode(cfg)},
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to encode config.yaml: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("failed to close encoder: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(buf.String()), 0600); err != nil {
		return "", fmt.Errorf("failed to write config.yaml: %w", err)
	}

	return configPath, nil
}

// buildScaffoldNode creates the document mapping for a new config.yaml.
// Comments live on the nodes so the generated file is self-describing.
func buildScaffoldNode(cfg *LocalConfig) *yaml.Node {
	host := cfg.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port <= 0 {
		port = DefaultPort
	}
	level := cfg.Log.Level
	if level == "" {
		level = "info"
	}

	node := &yaml.Node{Kind: yaml.MappingNode}

	if cfg.Workspace != "" {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "workspace",
				HeadComment: "Workspace root mirrored into the scene graph"},
			&yaml.Node{Kind: yaml.ScalarNode, Value: cfg.Workspace, Style: yaml.DoubleQuotedStyle},
		)
	}

	serverNode := &yaml.Node{Kind: yaml.MappingNode}
	serverNode.Content = append(serverNode.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "host"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: host, Style: yaml.DoubleQuotedStyle},
		&yaml.Node{Kind: yaml.ScalarNode, Value: "port"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: strconv.Itoa(port)},
	)
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "server",
			HeadComment: "Listener for the editor plugin and agents (env: HOST, PORT)"},
		serverNode,
	)

	logNode := &yaml.Node{Kind: yaml.MappingNode}
	logNode.Content = append(logNode.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "level"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: level},
		&yaml.Node{Kind: yaml.ScalarNode, Value: "format"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: "text"},
	)
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "log",
			HeadComment: "level: debug|info|warn|error  format: text|json"},
		logNode,
	)

	locksNode := &yaml.Node{Kind: yaml.MappingNode}
	locksNode.Content = append(locksNode.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "default-ttl"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: "15s"},
	)
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "locks",
			HeadComment: "Lease length when an agent acquires without a TTL (hot-reloaded)"},
		locksNode,
	)

	idemNode := &yaml.Node{Kind: yaml.MappingNode}
	idemNode.Content = append(idemNode.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "ttl"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: "5m"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: "max-entries"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: "500"},
	)
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "idempotency",
			HeadComment: "Command replay cache (hot-reloaded)"},
		idemNode,
	)

	return node
}
