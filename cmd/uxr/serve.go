package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/UXPLIMA/uxrcoder-hub/internal/artifacts"
	"github.com/UXPLIMA/uxrcoder-hub/internal/baseline"
	"github.com/UXPLIMA/uxrcoder-hub/internal/config"
	"github.com/UXPLIMA/uxrcoder-hub/internal/derived"
	"github.com/UXPLIMA/uxrcoder-hub/internal/history"
	"github.com/UXPLIMA/uxrcoder-hub/internal/idempotency"
	"github.com/UXPLIMA/uxrcoder-hub/internal/lockfile"
	"github.com/UXPLIMA/uxrcoder-hub/internal/locks"
	"github.com/UXPLIMA/uxrcoder-hub/internal/projection"
	"github.com/UXPLIMA/uxrcoder-hub/internal/rpc"
	"github.com/UXPLIMA/uxrcoder-hub/internal/scenegraph"
	"github.com/UXPLIMA/uxrcoder-hub/internal/telemetry"
)

var (
	serveHost    string
	servePort    int
	serveLogFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub in the foreground",
	Long: `Start the sync hub for the current workspace and serve until
interrupted. One hub per workspace: a second serve against the same
workspace fails fast on the workspace lock.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	serveCmd.Flags().StringVar(&serveLogFile, "log", "", "Log to this file with rotation instead of stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	workspace := resolveWorkspace()
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}
	uxrDir := filepath.Join(workspace, ".uxr")

	if err := config.InitializeAt(workspace); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Flags outrank the config file and env.
	if cmd.Flags().Changed("host") {
		config.Set(config.KeyServerHost, serveHost)
	}
	if cmd.Flags().Changed("port") {
		config.Set(config.KeyServerPort, servePort)
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(config.GetLogLevel())
	logger, logCloser := buildLogger(levelVar)
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}
	slog.SetDefault(logger)

	lock, err := lockfile.Acquire(uxrDir)
	if err != nil {
		if errors.Is(err, lockfile.ErrLockBusy) {
			return fmt.Errorf("%v\nstop the other hub or serve a different workspace", err)
		}
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "uxrcoder-hub", Version); err != nil {
		logger.Warn("telemetry init failed", "error", err)
	}
	defer telemetry.Shutdown(context.Background())

	testsDir := filepath.Join(workspace, ".uxr-tests")
	debugDir := filepath.Join(workspace, ".uxr-debug")

	graph := scenegraph.New()
	source := derived.New(graph)
	lockMgr := locks.NewManager()
	idem := idempotency.NewCache()
	applyTuning(lockMgr, idem)

	hist, err := history.Open(filepath.Join(testsDir, "history.db"), logger)
	if err != nil {
		// History is an index, not the source of truth; the hub runs
		// without it.
		logger.Warn("run history disabled", "error", err)
		hist = nil
	} else {
		defer func() { _ = hist.Close() }()
	}

	projector := projection.NewScheduler(nil, logger)
	defer projector.Close()

	srv := rpc.NewServer(rpc.Deps{
		Graph:     graph,
		Derived:   source,
		Locks:     lockMgr,
		Idem:      idem,
		Artifacts: artifacts.NewStore(testsDir, debugDir),
		Baselines: baseline.NewStore(filepath.Join(testsDir, "baselines")),
		History:   hist,
		Projector: projector,
		Version:   Version,
		Workspace: workspace,
		Log:       logger,
	})
	defer srv.Close()

	addr := config.GetServerSettings().ListenAddr()
	logger.Info("starting hub", "workspace", workspace, "addr", addr, "pid", os.Getpid())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, addr)
	})
	g.Go(func() error {
		return config.Watch(gctx, uxrDir, logger, func() {
			levelVar.Set(config.GetLogLevel())
			applyTuning(lockMgr, idem)
		})
	})

	err = g.Wait()
	logger.Info("hub stopped")
	return err
}

// applyTuning pushes the hot-reloadable config keys into the subsystems
// that consume them. Called at startup and again on every config reload.
func applyTuning(lockMgr *locks.Manager, idem *idempotency.Cache) {
	tuning := config.GetTuningSettings()
	lockMgr.SetDefaultTTL(tuning.LockTTL)
	idem.SetLimits(tuning.IdempotencyTTL, tuning.IdempotencyMaxEntries)
}

// buildLogger constructs the process logger from config: text or JSON
// handler, stderr or a rotating file when --log is set.
func buildLogger(level slog.Leveler) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if serveLogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   serveLogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		w = lj
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.GetLogFormat() == config.LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer
}
