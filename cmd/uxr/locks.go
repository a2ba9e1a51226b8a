package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/UXPLIMA/uxrcoder-hub/internal/locks"
	"github.com/UXPLIMA/uxrcoder-hub/internal/ui"
)

var locksLimit int

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Show active path locks and contention",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(locksLimit))

		var resp struct {
			Locks      []locks.ActiveLock `json:"locks"`
			Count      int                `json:"count"`
			Stats      locks.Stats        `json:"stats"`
			Contention []locks.Denial     `json:"contention"`
		}
		client := newHubClient()
		if err := client.getJSON(context.Background(), "/agent/locks", query, &resp); err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(resp)
			return
		}

		if len(resp.Locks) == 0 {
			fmt.Println("No active locks.")
		} else {
			fmt.Println(ui.RenderHeader(fmt.Sprintf("%-40s %-20s %s", "PATH", "OWNER", "EXPIRES IN")))
			for _, l := range resp.Locks {
				fmt.Printf("%-40s %-20s %s\n",
					truncate(l.PathString, 40),
					truncate(l.Owner, 20),
					formatExpiry(l.ExpiresAt),
				)
			}
		}

		fmt.Printf("\nactive %d, granted %d, denied %d, expired %d\n",
			resp.Stats.Active, resp.Stats.Granted, resp.Stats.Denied, resp.Stats.Expired)

		if len(resp.Contention) > 0 {
			fmt.Println(ui.RenderHeader("recent contention:"))
			for _, c := range resp.Contention {
				fmt.Printf("  %s %s wanted %s (held by %s)\n",
					ui.RenderMuted(c.At.Local().Format("15:04:05")),
					c.Owner, strings.Join(c.RequestedPath, "."), c.BlockingOwner)
			}
		}
	},
}

func init() {
	locksCmd.Flags().IntVar(&locksLimit, "limit", 20, "Maximum contention events to show")
	rootCmd.AddCommand(locksCmd)
}

func formatExpiry(t time.Time) string {
	d := time.Until(t)
	if d <= 0 {
		return ui.RenderWarn("expired")
	}
	return d.Round(100 * time.Millisecond).String()
}
