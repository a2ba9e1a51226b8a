package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/UXPLIMA/uxrcoder-hub/internal/history"
	"github.com/UXPLIMA/uxrcoder-hub/internal/scenario"
	"github.com/UXPLIMA/uxrcoder-hub/internal/testrun"
	"github.com/UXPLIMA/uxrcoder-hub/internal/timeparsing"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
	"github.com/UXPLIMA/uxrcoder-hub/internal/ui"
)

var testsCmd = &cobra.Command{
	Use:     "tests",
	Aliases: []string{"test"},
	Short:   "Run and inspect test scenarios on the hub",
}

var (
	testsRunFile string
	testsRunWait bool
)

var testsRunCmd = &cobra.Command{
	Use:   "run [scenario]",
	Short: "Enqueue a scenario for execution",
	Long: `Enqueue a scenario by name (resolved under .uxr/scenarios/) or from
an explicit file with -f. The scenario is vetted locally with the same
normalization the hub applies, so malformed files fail before the request.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := testsRunFile
		if name == "" {
			if len(args) == 0 {
				exitErr(fmt.Errorf("scenario name or -f file required"))
			}
			name = args[0]
		}
		runTestsRun(name)
	},
}

func runTestsRun(name string) {
	loader := scenario.NewLoader(filepath.Join(resolveWorkspace(), ".uxr", "scenarios"))
	input, err := loader.Load(name)
	if err != nil {
		exitErr(err)
	}
	// Same normalization the hub runs; catches bad scenarios offline.
	if _, err := testrun.Normalize(input); err != nil {
		exitErr(fmt.Errorf("scenario %s: %w", input.Name, err))
	}

	client := newHubClient()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var enqueueResp struct {
		ID     string          `json:"id"`
		Status types.RunStatus `json:"status"`
		Run    *types.TestRun  `json:"run"`
	}
	if err := client.postJSON(ctx, "/agent/tests/run", input, &enqueueResp); err != nil {
		exitErr(err)
	}

	if !testsRunWait {
		if jsonOutput {
			outputJSON(enqueueResp)
			return
		}
		fmt.Printf("Enqueued %s (%s) as %s\n", input.Name, ui.RenderStatus(string(enqueueResp.Status)), enqueueResp.ID)
		fmt.Printf("Watch it with: uxr tests show %s\n", enqueueResp.ID)
		return
	}

	run, err := waitForRun(ctx, client, enqueueResp.ID)
	if err != nil {
		exitErr(err)
	}
	if jsonOutput {
		outputJSON(run)
	} else {
		printRunDetail(run)
	}
	if run.Status != types.RunPassed {
		os.Exit(1)
	}
}

// waitForRun polls until the run reaches a terminal status or ctx is
// cancelled (Ctrl+C leaves the run executing on the hub).
func waitForRun(ctx context.Context, client *hubClient, id string) (*types.TestRun, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last types.RunStatus
	for {
		var resp struct {
			Run *types.TestRun `json:"run"`
		}
		if err := client.getJSON(ctx, "/agent/tests/"+id, nil, &resp); err != nil {
			return nil, err
		}
		if resp.Run == nil {
			return nil, fmt.Errorf("hub returned no run for %s", id)
		}
		if !jsonOutput && resp.Run.Status != last {
			last = resp.Run.Status
			fmt.Printf("%s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), ui.RenderStatus(string(last)))
		}
		if resp.Run.Status.IsTerminal() {
			return resp.Run, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("interrupted; run %s continues on the hub (abort it with 'uxr tests abort %s')", id, id)
		case <-ticker.C:
		}
	}
}

var (
	testsListLimit   int
	testsListSince   string
	testsListHistory bool
)

var testsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Long: `List the hub's in-memory runs. --since adds the persisted history
index (survives hub restarts) filtered to transitions after the given
time: compact durations (-1d), natural language ("yesterday"), dates or
RFC3339 timestamps.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runTestsList()
	},
}

func runTestsList() {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(testsListLimit))
	includeHistory := testsListHistory
	if testsListSince != "" {
		since, err := timeparsing.ParseRelativeTime(testsListSince, time.Now())
		if err != nil {
			exitErr(err)
		}
		query.Set("since", since.UTC().Format(time.RFC3339))
		includeHistory = true
	}
	if includeHistory {
		query.Set("includeHistory", "true")
	}

	var resp struct {
		Runs    []*types.TestRun     `json:"runs"`
		Count   int                  `json:"count"`
		History []history.Transition `json:"history"`
	}
	client := newHubClient()
	if err := client.getJSON(context.Background(), "/agent/tests", query, &resp); err != nil {
		exitErr(err)
	}

	if jsonOutput {
		outputJSON(resp)
		return
	}

	if len(resp.Runs) == 0 {
		fmt.Println("No runs.")
	} else {
		fmt.Println(ui.RenderHeader(fmt.Sprintf("%-14s %-12s %-24s %-8s %s", "ID", "STATUS", "SCENARIO", "ATTEMPT", "AGE")))
		for _, run := range resp.Runs {
			fmt.Printf("%-14s %-12s %-24s %-8s %s\n",
				run.ID,
				ui.RenderStatus(string(run.Status)),
				truncate(scenarioName(run), 24),
				fmt.Sprintf("%d/%d", run.Attempt, run.MaxRetries+1),
				ui.RenderMuted(formatAge(run.CreatedAt)),
			)
		}
	}

	if includeHistory {
		fmt.Println()
		if len(resp.History) == 0 {
			fmt.Println("No history entries.")
			return
		}
		fmt.Println(ui.RenderHeader(fmt.Sprintf("%-14s %-12s %-24s %-20s %s", "RUN", "STATUS", "SCENARIO", "AT", "REASON")))
		for _, tr := range resp.History {
			fmt.Printf("%-14s %-12s %-24s %-20s %s\n",
				tr.RunID,
				ui.RenderStatus(string(tr.Status)),
				truncate(tr.Scenario, 24),
				ui.RenderMuted(tr.At.Local().Format("2006-01-02 15:04:05")),
				tr.Reason,
			)
		}
	}
}

var testsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run in detail",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			Run *types.TestRun `json:"run"`
		}
		client := newHubClient()
		if err := client.getJSON(context.Background(), "/agent/tests/"+args[0], nil, &resp); err != nil {
			exitErr(err)
		}
		if jsonOutput {
			outputJSON(resp.Run)
			return
		}
		printRunDetail(resp.Run)
	},
}

var testsAbortCmd = &cobra.Command{
	Use:   "abort <id>",
	Short: "Abort a queued or running run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			ID     string          `json:"id"`
			Status types.RunStatus `json:"status"`
		}
		client := newHubClient()
		if err := client.postJSON(context.Background(), "/agent/tests/"+args[0]+"/abort", nil, &resp); err != nil {
			exitErr(err)
		}
		if jsonOutput {
			outputJSON(resp)
			return
		}
		fmt.Printf("Run %s is now %s\n", resp.ID, ui.RenderStatus(string(resp.Status)))
	},
}

var testsReportCmd = &cobra.Command{
	Use:   "report <id>",
	Short: "Print the persisted report for a finished run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newHubClient()
		body, err := client.getRaw(context.Background(), "/agent/tests/"+args[0]+"/report", nil)
		if err != nil {
			exitErr(err)
		}
		// Reports are stored as JSON; print them as-is.
		os.Stdout.Write(body)
		if len(body) > 0 && body[len(body)-1] != '\n' {
			fmt.Println()
		}
	},
}

func init() {
	testsRunCmd.Flags().StringVarP(&testsRunFile, "file", "f", "", "Scenario file or name to run")
	testsRunCmd.Flags().BoolVar(&testsRunWait, "wait", false, "Poll until the run finishes; exit non-zero unless it passes")
	testsListCmd.Flags().IntVar(&testsListLimit, "limit", 20, "Maximum entries per section")
	testsListCmd.Flags().StringVar(&testsListSince, "since", "", "Include history since this time (-1d, \"yesterday\", 2006-01-02, RFC3339)")
	testsListCmd.Flags().BoolVar(&testsListHistory, "history", false, "Include the persisted history index")

	testsCmd.AddCommand(testsRunCmd)
	testsCmd.AddCommand(testsListCmd)
	testsCmd.AddCommand(testsShowCmd)
	testsCmd.AddCommand(testsAbortCmd)
	testsCmd.AddCommand(testsReportCmd)
	rootCmd.AddCommand(testsCmd)
}

func printRunDetail(run *types.TestRun) {
	if run == nil {
		fmt.Println("No run.")
		return
	}
	fmt.Printf("%s %s\n", ui.RenderHeader(run.ID), ui.RenderStatus(string(run.Status)))
	fmt.Printf("  scenario: %s\n", scenarioName(run))
	fmt.Printf("  attempt:  %d/%d\n", run.Attempt, run.MaxRetries+1)
	fmt.Printf("  created:  %s\n", run.CreatedAt.Local().Format(time.RFC3339))
	if run.StartedAt != nil {
		fmt.Printf("  started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	}
	if run.FinishedAt != nil {
		fmt.Printf("  finished: %s\n", run.FinishedAt.Local().Format(time.RFC3339))
	}
	if run.NextDispatchAt != nil {
		fmt.Printf("  retry at: %s (backoff %dms)\n", run.NextDispatchAt.Local().Format(time.RFC3339), run.RetryBackoffMs)
	}
	if run.ErrorReason != "" {
		fmt.Printf("  error:    %s\n", ui.RenderFail(run.ErrorReason))
	}
	if res := run.Result; res != nil {
		fmt.Printf("  assertions: %s passed, %s failed\n",
			ui.RenderPass(strconv.Itoa(res.AssertionsPassed)),
			renderFailCount(res.AssertionsFailed))
		if res.FailureStep != nil {
			fmt.Printf("  failed step: %d\n", *res.FailureStep)
		}
		if res.Reason != "" {
			fmt.Printf("  reason:   %s\n", res.Reason)
		}
		if res.DurationMs > 0 {
			fmt.Printf("  duration: %s\n", (time.Duration(res.DurationMs) * time.Millisecond).String())
		}
	}
	if len(run.Logs) > 0 {
		fmt.Println("  recent logs:")
		logs := run.Logs
		if len(logs) > 10 {
			logs = logs[len(logs)-10:]
		}
		for _, entry := range logs {
			fmt.Printf("    %s %s\n", ui.RenderMuted(entry.Timestamp.Local().Format("15:04:05")), entry.Message)
		}
	}
}

func renderFailCount(n int) string {
	if n > 0 {
		return ui.RenderFail(strconv.Itoa(n))
	}
	return strconv.Itoa(n)
}

func scenarioName(run *types.TestRun) string {
	if run.Scenario != nil && run.Scenario.Name != "" {
		return run.Scenario.Name
	}
	return "(unnamed)"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}

// formatAge renders a coarse "how long ago" for list output.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
