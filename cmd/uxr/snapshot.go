package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var (
	snapshotClass string
	snapshotOut   string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Dump the hub's scene-graph snapshot as JSON",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		query := url.Values{}
		if snapshotClass != "" {
			query.Set("className", snapshotClass)
		}
		client := newHubClient()
		body, err := client.getRaw(context.Background(), "/agent/snapshot", query)
		if err != nil {
			exitErr(err)
		}

		if snapshotOut != "" {
			if err := os.WriteFile(snapshotOut, body, 0o644); err != nil {
				exitErr(err)
			}
			if !quietFlag {
				fmt.Printf("Wrote %d bytes to %s\n", len(body), snapshotOut)
			}
			return
		}

		os.Stdout.Write(body)
		if len(body) > 0 && body[len(body)-1] != '\n' {
			fmt.Println()
		}
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotClass, "class", "", "Restrict the snapshot to one class")
	snapshotCmd.Flags().StringVarP(&snapshotOut, "output", "o", "", "Write the snapshot to a file instead of stdout")
	rootCmd.AddCommand(snapshotCmd)
}
