// Package cli implements the puffin-test-app command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gwen-lg/puffin-test-app/internal/config"
	"github.com/gwen-lg/puffin-test-app/pkg/behavior"
	"github.com/gwen-lg/puffin-test-app/pkg/flamegraph"
	"github.com/gwen-lg/puffin-test-app/pkg/memtrack"
	"github.com/gwen-lg/puffin-test-app/pkg/profiler"
	"github.com/gwen-lg/puffin-test-app/pkg/report"
	"github.com/gwen-lg/puffin-test-app/pkg/server"
	"github.com/gwen-lg/puffin-test-app/pkg/simulation"
	"github.com/gwen-lg/puffin-test-app/pkg/workload"
)

// Version is set at build time via ldflags.
var Version = "dev"

const stopTimeout = 5 * time.Second

type options struct {
	configPath string
	logLevel   string
	nbLoop     int32
	loading    behavior.LoadingBehavior
	addr       string
	report     report.Format
	flamegraph string
	memReport  bool
}

// NewRootCmd builds the root command.
func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()
	opts := &options{
		logLevel: defaults.LogLevel,
		nbLoop:   defaults.NbLoop,
		loading:  defaults.Loading,
		addr:     defaults.Server.Addr,
		report:   report.Format(defaults.Output.Report),
	}

	cmd := &cobra.Command{
		Use:   "puffin-test-app",
		Short: "Simulated frame loop instrumented for a frame profiler",
		Long: `puffin-test-app runs a main loop of randomly sized sleeps, marks every
iteration as a profiler frame and serves the captured frames over HTTP.
A loading phase can be simulated before the loop, on the first iteration
or on a background goroutine.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}
	cmd.SetVersionTemplate("puffin-test-app version {{.Version}}\n")
	cmd.AddCommand(newFlamegraphCmd())

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "optional YAML config file")
	flags.StringVarP(&opts.logLevel, "log-level", "l", opts.logLevel, "minimum log level (trace, debug, info, warn, error, fatal, panic)")
	flags.Int32VarP(&opts.nbLoop, "nb-loop", "n", opts.nbLoop, "number of loop iterations, negative for unlimited")
	flags.Var(&opts.loading, "loading", "loading simulation ("+strings.Join(behavior.LoadingValues(), ", ")+")")
	flags.StringVar(&opts.addr, "addr", opts.addr, "capture server listen address")
	flags.Var(&opts.report, "report", "print a run report (none, table, json)")
	flags.StringVar(&opts.flamegraph, "flamegraph", "", "write an SVG flame graph of captured frames to this path")
	flags.BoolVar(&opts.memReport, "mem-report", false, "write an allocation report file after the run")

	return cmd
}

// resolveConfig loads the config file and applies flags the user set.
func resolveConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("nb-loop") {
		cfg.NbLoop = opts.nbLoop
	}
	if flags.Changed("loading") {
		cfg.Loading = opts.loading
	}
	if flags.Changed("addr") {
		cfg.Server.Addr = opts.addr
	}
	if flags.Changed("report") {
		cfg.Output.Report = opts.report.String()
	}
	if flags.Changed("flamegraph") {
		cfg.Output.Flamegraph = opts.flamegraph
	}
	if flags.Changed("mem-report") {
		cfg.Output.MemReport = opts.memReport
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	logger, err := newLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	session := uuid.NewString()
	rec := profiler.NewRecorder(profiler.Options{
		MaxFrames: cfg.Profiler.MaxFrames,
		Session:   session,
	})
	var prof profiler.Profiler = rec
	if logger.IsLevelEnabled(logrus.TraceLevel) {
		prof = profiler.NewTracer(rec, logger)
	}

	srv, err := server.Start(cfg.Server.Addr, rec, logger)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"addr":    srv.Addr(),
		"session": session,
	}).Info("capture server listening")

	if behavior.Compute(cfg.NbLoop).IsUnlimited() && wantsOutputs(cfg) {
		logger.Warn("loop is unlimited, after-run outputs are written only if it ends")
	}

	var tracker *memtrack.Tracker
	if cfg.Output.MemReport {
		tracker = memtrack.Init()
	}

	collector := report.NewCollector(report.DefaultWindow)
	sim := simulation.New(simulation.Options{
		NbLoop:   cfg.NbLoop,
		Loading:  cfg.Loading,
		Profiler: prof,
		Logger:   logger,
		Sampler:  workload.NewSampler(cfg.Sampler.MinMs, cfg.Sampler.MaxMs, nil),
		Loader: workload.NewSimulator(workload.Options{
			Duration: time.Duration(cfg.LoadingCfg.SyncDuration),
			Profiler: prof,
			Logger:   logger,
		}),
		Coordinator: workload.NewCoordinator(workload.Options{
			Duration: time.Duration(cfg.LoadingCfg.ThreadedDuration),
			Profiler: prof,
			Logger:   logger,
		}),
		OnIteration: func(it simulation.Iteration) {
			collector.Record(it.Number, it.Sampled, it.Elapsed)
		},
	})

	result, runErr := sim.Run(context.Background())

	if runErr == nil {
		writeOutputs(cmd, cfg, logger, rec, collector, result, session, tracker)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.WithError(err).Warn("capture server did not stop cleanly")
	}
	return runErr
}

// writeOutputs produces the after-run artifacts. Failures are logged and do
// not fail the run.
func writeOutputs(
	cmd *cobra.Command,
	cfg *config.Config,
	logger *logrus.Logger,
	rec *profiler.Recorder,
	collector *report.Collector,
	result simulation.Result,
	session string,
	tracker *memtrack.Tracker,
) {
	summary := collector.Summary()
	summary.Session = session
	summary.Loop = result.Loop.String()
	summary.Loading = result.Loading.String()
	summary.LoadingWait = result.LoadingWait
	summary.Elapsed = result.Elapsed
	if result.LoadingErr != nil {
		summary.LoadingErr = result.LoadingErr.Error()
	}

	if err := report.Render(cmd.OutOrStdout(), summary, report.Format(cfg.Output.Report)); err != nil {
		logger.WithError(err).Warn("failed to render report")
	}
	if cfg.Output.ReportFile != "" {
		if err := summary.Save(cfg.Output.ReportFile); err != nil {
			logger.WithError(err).Warn("failed to save report")
		}
	}

	if cfg.Output.Flamegraph != "" {
		if err := writeFlamegraph(cfg.Output.Flamegraph, rec.Frames()); err != nil {
			logger.WithError(err).Warn("failed to write flame graph")
		} else {
			logger.WithField("path", cfg.Output.Flamegraph).Info("flame graph written")
		}
	}

	if tracker != nil {
		path, err := tracker.Report(cfg.Output.MemDir)
		if err != nil {
			logger.WithError(err).Warn("failed to write memory report")
		} else {
			logger.WithField("path", path).Info("memory report written")
		}
	}
}

func wantsOutputs(cfg *config.Config) bool {
	return cfg.Output.Report != string(report.FormatNone) ||
		cfg.Output.ReportFile != "" ||
		cfg.Output.Flamegraph != "" ||
		cfg.Output.MemReport
}

func writeFlamegraph(path string, frames []profiler.Frame) (err error) {
	stacks := flamegraph.Collapse(frames)
	if len(stacks) == 0 {
		return errors.New("no captured scopes")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create flame graph: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return flamegraph.WriteSVG(f, stacks, flamegraph.DefaultSVGOptions())
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
