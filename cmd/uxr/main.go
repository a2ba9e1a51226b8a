package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/UXPLIMA/uxrcoder-hub/internal/config"
	"github.com/UXPLIMA/uxrcoder-hub/internal/debug"
)

var (
	jsonOutput    bool
	verboseFlag   bool
	quietFlag     bool
	workspaceFlag string // --workspace: overrides workspace discovery
	addrFlag      string // --addr: overrides hub address for client commands
)

var rootCmd = &cobra.Command{
	Use:   "uxr",
	Short: "uxr - scene-graph sync hub for editor, filesystem and agents",
	Long: `The hub between a game-editor scene graph, its filesystem projection,
and agent tooling. "uxr serve" runs the hub in the foreground; the other
commands are thin clients against a running hub.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("uxr version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help() // Help() always returns nil for cobra commands
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			debug.SetVerbose(true)
		}
		if quietFlag {
			debug.SetQuiet(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "Workspace directory (default: walk up from cwd)")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Hub address for client commands (default: from .uxr/config.yaml)")
	rootCmd.Flags().Bool("version", false, "Print version and exit")
}

// resolveWorkspace picks the workspace directory: flag, then the nearest
// ancestor with a .uxr directory, then cwd.
func resolveWorkspace() string {
	if workspaceFlag != "" {
		return workspaceFlag
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return config.FindWorkspaceDir(cwd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
