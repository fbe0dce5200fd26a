package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cloudkeep/drivesync/internal/config"
	"github.com/cloudkeep/drivesync/internal/controller"
	"github.com/cloudkeep/drivesync/internal/tokencache"
)

// version is set at build time via -ldflags.
var version = "dev"

// Global flag variables bound by newRootCmd's persistent flags. Cobra's
// convention throughout this CLI: flags are package-level vars read directly
// by command bodies rather than threaded through every function signature.
var (
	flagConfigPath string
	flagJob        string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks a command whose PersistentPreRunE should skip
// the normal single-job config resolution — commands that operate across
// every configured job (status, config show, jobs list) load the full
// Config themselves instead.
const skipConfigAnnotation = "skipConfig"

// CLIContext carries the resolved configuration and a ready (but not yet
// started) Controller through a command's context.
type CLIContext struct {
	Cfg         *config.Config
	ResolvedJob *config.ResolvedJob
	Controller  *controller.Controller
	Logger      *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext retrieves the CLIContext a PersistentPreRunE is expected to
// have already installed. A panic here means a command wired loadConfig
// incorrectly, not a user-facing failure.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: command ran without a CLIContext installed by PersistentPreRunE")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "drivesync",
		Short:         "Back up and restore local directories against a remote cloud drive",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagJob, "job", "", "job id (auto-selected if exactly one is configured)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(
		newConfigCmd(),
		newJobsCmd(),
		newRunCmd(),
		newStatusCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newCancelCmd(),
		newMountCmd(),
		newUnmountCmd(),
		newWatchCmd(),
		newReloadCmd(),
	)

	return cmd
}

// loadConfig resolves the four-layer override chain into a single job,
// opens the token cache, and builds a Controller over the full config —
// the work every job-scoped command's PersistentPreRunE needs before it can
// call RunJob/Pause/Resume/Mount.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger()

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath, Job: flagJob}

	resolvedJob, cfg, err := config.ResolveJob(env, cli, logger)
	if err != nil {
		return err
	}

	ctrl, err := buildController(cfg, logger)
	if err != nil {
		return err
	}

	cc := &CLIContext{
		Cfg:         cfg,
		ResolvedJob: resolvedJob,
		Controller:  ctrl,
		Logger:      logger,
	}

	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

	return nil
}

// buildController opens the token cache and wires a Controller over cfg —
// shared by job-scoped commands (via loadConfig) and the watch daemon
// (which resolves no single job).
func buildController(cfg *config.Config, logger *slog.Logger) (*controller.Controller, error) {
	tokensPath := filepath.Join(config.DefaultDataDir(), "tokens.db")

	tokens, err := tokencache.Open(tokensPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening token cache: %w", err)
	}

	return controller.New(cfg, tokens, defaultHTTPClient(cfg), logger), nil
}

// defaultHTTPClient builds the client used for metadata calls (list,
// create, rename, move, delete) — a bounded timeout is safe here since
// these requests carry no body of meaningful size. Large transfers go
// through the Uploader/Downloader's own body-streaming requests, which rely
// on context cancellation instead of a fixed deadline.
func defaultHTTPClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second

	if d, err := time.ParseDuration(cfg.Network.ConnectTimeout); err == nil && d > 0 {
		timeout = d
	}

	return &http.Client{Timeout: timeout}
}

// buildLogger wires log/slog the way the teacher does: a JSON handler when
// --json is set or stderr is not a terminal, a text handler otherwise. The
// level is Info unless --debug (Debug) or --quiet (Error) is given; --verbose
// keeps Info. The config's log_level is not consulted.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if flagJSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// exitOnError prints a command error to stderr and exits with status 1.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "drivesync: error: %v\n", err)
	os.Exit(1)
}

