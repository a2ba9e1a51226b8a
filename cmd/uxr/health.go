package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/UXPLIMA/uxrcoder-hub/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the hub's health",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			Status         string `json:"status"`
			Version        string `json:"version"`
			Revision       uint64 `json:"revision"`
			InstanceCount  int    `json:"instanceCount"`
			PendingChanges int    `json:"pendingChanges"`
			StreamClients  int    `json:"streamClients"`
			Uptime         string `json:"uptime"`
			Workspace      string `json:"workspace"`
		}
		client := newHubClient()
		if err := client.getJSON(context.Background(), "/health", nil, &resp); err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(resp)
			return
		}

		fmt.Printf("%s hub %s at %s\n", ui.RenderStatus(resp.Status), resp.Version, client.base)
		fmt.Printf("  workspace: %s\n", resp.Workspace)
		fmt.Printf("  revision %d, %d instances, %d pending changes\n",
			resp.Revision, resp.InstanceCount, resp.PendingChanges)
		fmt.Printf("  %d stream clients, up %s\n", resp.StreamClients, resp.Uptime)
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
