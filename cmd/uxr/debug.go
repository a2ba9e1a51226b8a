package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging helpers against a running hub",
}

var debugExportLabel string

var debugExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a full hub state bundle to .uxr-debug/",
	Long: `Ask the hub to export its state (snapshot, schemas, locks, runs,
metrics, redacted config) into a timestamped JSON bundle. Attach the file
to bug reports.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var req struct {
			Label string `json:"label,omitempty"`
		}
		req.Label = debugExportLabel

		var resp struct {
			Success bool   `json:"success"`
			Path    string `json:"path"`
		}
		client := newHubClient()
		if err := client.postJSON(context.Background(), "/agent/debug/export", req, &resp); err != nil {
			exitErr(err)
		}
		if jsonOutput {
			outputJSON(resp)
			return
		}
		fmt.Printf("Exported hub state to %s\n", resp.Path)
	},
}

var debugProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Time the hub's read-side hot paths",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := newHubClient()
		body, err := client.getRaw(context.Background(), "/agent/debug/profile", nil)
		if err != nil {
			exitErr(err)
		}
		// Profile output is structured; print the JSON either way.
		os.Stdout.Write(body)
		if len(body) > 0 && body[len(body)-1] != '\n' {
			fmt.Println()
		}
	},
}

func init() {
	debugExportCmd.Flags().StringVar(&debugExportLabel, "label", "", "Suffix for the bundle file name")
	debugCmd.AddCommand(debugExportCmd)
	debugCmd.AddCommand(debugProfileCmd)
	rootCmd.AddCommand(debugCmd)
}
