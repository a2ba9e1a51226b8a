package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/UXPLIMA/uxrcoder-hub/internal/config"
	"github.com/UXPLIMA/uxrcoder-hub/internal/ui"
)

var initDefaults bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold .uxr/config.yaml for this workspace",
	Long: `Create the workspace config file. Interactive on a terminal;
--defaults (or a non-terminal stdout) writes the stock config without
prompting.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runInit(); err != nil {
			exitErr(err)
		}
	},
}

func init() {
	initCmd.Flags().BoolVar(&initDefaults, "defaults", false, "Write defaults without prompting")
	rootCmd.AddCommand(initCmd)
}

func runInit() error {
	workspace := resolveWorkspace()
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}
	uxrDir := filepath.Join(workspace, ".uxr")

	cfg := &config.LocalConfig{
		Server: config.ServerSettings{Host: "0.0.0.0", Port: config.DefaultPort},
		Log:    config.LocalLog{Level: "info", Format: "text"},
	}

	if !initDefaults && ui.IsTTY() {
		confirmed, err := runInitForm(cfg)
		if err != nil {
			if err == huh.ErrUserAborted {
				fmt.Fprintln(os.Stderr, "Init cancelled.")
				os.Exit(0)
			}
			return err
		}
		if !confirmed {
			fmt.Fprintln(os.Stderr, "Init cancelled.")
			os.Exit(0)
		}
	}

	path, err := config.WriteScaffold(uxrDir, cfg)
	if err != nil {
		return err
	}

	if jsonOutput {
		outputJSON(map[string]string{"created": path})
		return nil
	}
	fmt.Printf("Created %s\n", path)
	fmt.Println("Start the hub with: uxr serve")
	return nil
}

func runInitForm(cfg *config.LocalConfig) (bool, error) {
	portStr := strconv.Itoa(cfg.Server.Port)
	confirmed := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen host").
				Description("0.0.0.0 accepts the editor plugin from anywhere on the machine").
				Value(&cfg.Server.Host),

			huh.NewInput().
				Title("Listen port").
				Description("The editor plugin and agents connect here").
				Value(&portStr).
				Validate(func(s string) error {
					p, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || p < 1 || p > 65535 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("info (default)", "info"),
					huh.NewOption("debug", "debug"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&cfg.Log.Level),

			huh.NewSelect[string]().
				Title("Log format").
				Options(
					huh.NewOption("text (human readable)", "text"),
					huh.NewOption("json (for log shippers)", "json"),
				).
				Value(&cfg.Log.Format),

			huh.NewConfirm().
				Title("Write .uxr/config.yaml?").
				Affirmative("Write").
				Negative("Cancel").
				Value(&confirmed),
		),
	)

	if err := form.Run(); err != nil {
		return false, err
	}
	cfg.Server.Port, _ = strconv.Atoi(strings.TrimSpace(portStr))
	return confirmed, nil
}
