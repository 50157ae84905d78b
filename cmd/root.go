package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hydro-sim/hydro-sim/sim/bundle"
	"github.com/hydro-sim/hydro-sim/sim/observe"
	"github.com/hydro-sim/hydro-sim/sim/schedule"
	"github.com/hydro-sim/hydro-sim/sim/solver"
	_ "github.com/hydro-sim/hydro-sim/sim/solver/ipm"
	_ "github.com/hydro-sim/hydro-sim/sim/solver/simplex"
	"github.com/hydro-sim/hydro-sim/sim/trace"
)

const defaultBackend = "simplex"

var (
	// CLI flags for the run command
	modelPath      string  // YAML model bundle
	backend        string  // solver backend name
	workers        int     // concurrent scenarios
	abortOnFailure bool    // stop every scenario after the first failure
	iterationLimit string  // accept | fail
	tolerance      float64 // solver convergence tolerance
	maxIterations  int     // solver iteration cap
	threads        int     // kernel goroutines
	logLevel       string  // log verbosity level
	metricsAddr    string  // address for the /metrics endpoint; empty disables it
	tracing        string  // stdout | none
	traceLevel     string  // none | failures | solves
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "hydro-sim",
	Short: "Water resource network simulator",
}

// runOptions is the resolved configuration of one run: bundle values with
// explicitly set flags taking precedence.
type runOptions struct {
	ModelPath      string
	Backend        string
	Settings       solver.Settings
	Workers        int
	AbortOnFailure bool
	IterationLimit schedule.IterationLimitPolicy
	TraceLevel     trace.TraceLevel
	Recorder       schedule.Recorder
}

// runCmd executes the simulation described by a model bundle
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a model over its horizon and scenarios",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if modelPath == "" {
			logrus.Fatalf("--model is required")
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid --trace-level %q; valid: none, failures, solves", traceLevel)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		shutdown, err := observe.InitTracing(ctx, observe.TracingConfig{Exporter: tracing, Writer: os.Stderr})
		if err != nil {
			logrus.Fatalf("Tracing setup failed: %v", err)
		}
		defer observe.ShutdownWithTimeout(context.Background(), shutdown)

		b, err := bundle.LoadModelBundle(modelPath)
		if err != nil {
			logrus.Fatalf("Failed to load model %s: %v", modelPath, err)
		}
		opts, err := resolveOptions(cmd, b)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		collector, err := observe.NewCollector(prometheus.DefaultRegisterer)
		if err != nil {
			logrus.Fatalf("Metrics setup failed: %v", err)
		}
		opts.Recorder = collector
		if metricsAddr != "" {
			srv := serveMetrics(metricsAddr, collector.Handler())
			defer srv.Close()
		}

		startTime := time.Now()
		res, summary, err := runModel(ctx, b, opts)
		if res != nil {
			printResults(os.Stdout, res, summary, time.Since(startTime))
		}
		if err != nil {
			logrus.Errorf("Run failed: %v", err)
			observe.ShutdownWithTimeout(context.Background(), shutdown)
			os.Exit(1)
		}
		logrus.Info("Simulation complete.")
	},
}

// resolveOptions merges the bundle's solver and run sections with the flags
// the user set explicitly.
func resolveOptions(cmd *cobra.Command, b *bundle.ModelBundle) (*runOptions, error) {
	opts := &runOptions{
		ModelPath:      modelPath,
		Backend:        b.Solver.Backend,
		Settings:       b.Solver.Settings(),
		Workers:        b.Run.Workers,
		AbortOnFailure: b.Run.AbortOnFailure,
		TraceLevel:     trace.TraceLevel(traceLevel),
	}
	policy := b.Run.IterationLimit

	flags := cmd.Flags()
	if flags.Changed("solver") || opts.Backend == "" {
		opts.Backend = backend
	}
	if flags.Changed("workers") {
		opts.Workers = workers
	}
	if flags.Changed("abort-on-failure") {
		opts.AbortOnFailure = abortOnFailure
	}
	if flags.Changed("iteration-limit") {
		policy = iterationLimit
	}
	if flags.Changed("tolerance") {
		opts.Settings.Tolerance = tolerance
	}
	if flags.Changed("max-iterations") {
		opts.Settings.MaxIterations = maxIterations
	}
	if flags.Changed("threads") {
		opts.Settings.Threads = threads
	}

	var err error
	if opts.IterationLimit, err = schedule.ParseIterationLimitPolicy(policy); err != nil {
		return nil, err
	}
	if !solver.IsRegistered(opts.Backend) {
		return nil, fmt.Errorf("unknown solver %q; registered: %v", opts.Backend, solver.Names())
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// runModel builds the bundle and runs it. Results are returned even when
// the run reports a failure, so partial output can be printed.
func runModel(ctx context.Context, b *bundle.ModelBundle, opts *runOptions) (*schedule.Results, *trace.TraceSummary, error) {
	built, err := b.Build(filepath.Dir(opts.ModelPath))
	if err != nil {
		return nil, nil, err
	}
	slv, err := solver.New(opts.Backend, opts.Settings)
	if err != nil {
		return nil, nil, err
	}

	var rt *trace.RunTrace
	if opts.TraceLevel != "" && opts.TraceLevel != trace.TraceLevelNone {
		rt = trace.NewRunTrace(trace.TraceConfig{Level: opts.TraceLevel})
	}

	logrus.Infof("Starting %s on %d nodes, %d edges, %d timesteps, %d scenarios",
		opts.Backend, len(built.Model.Nodes()), len(built.Model.Edges()), len(built.Timesteps), len(built.Scenarios))

	s, err := schedule.New(built.Model, built.Graph, built.Provider, slv, schedule.Config{
		Timesteps:      built.Timesteps,
		Scenarios:      built.Scenarios,
		Workers:        opts.Workers,
		AbortOnFailure: opts.AbortOnFailure,
		IterationLimit: opts.IterationLimit,
		Recorder:       opts.Recorder,
		Trace:          rt,
	})
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Run(ctx)
	var summary *trace.TraceSummary
	if rt != nil {
		summary = trace.Summarize(rt)
	}
	return res, summary, err
}

func serveMetrics(addr string, h http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Warnf("metrics server on %s: %v", addr, err)
		}
	}()
	logrus.Infof("Serving metrics on %s/metrics", addr)
	return srv
}

// solversCmd lists the registered solver backends
var solversCmd = &cobra.Command{
	Use:   "solvers",
	Short: "List the available solver backends",
	Run: func(cmd *cobra.Command, args []string) {
		listSolvers(cmd.OutOrStdout())
	},
}

func listSolvers(w io.Writer) {
	for _, name := range solver.Names() {
		fmt.Fprintln(w, name)
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// registerRunFlags binds the run flags to cmd.
func registerRunFlags(cmd *cobra.Command) {
	def := solver.DefaultSettings()
	flags := cmd.Flags()

	flags.StringVar(&modelPath, "model", "", "Path to the YAML model bundle")
	flags.StringVar(&backend, "solver", defaultBackend, "Solver backend (see `hydro-sim solvers`); overrides solver.backend")
	flags.IntVar(&workers, "workers", 0, "Concurrent scenarios (0 = GOMAXPROCS)")
	flags.BoolVar(&abortOnFailure, "abort-on-failure", false, "Stop all scenarios after the first failure")
	flags.StringVar(&iterationLimit, "iteration-limit", "accept", "Handling of solves that hit the iteration cap (accept, fail)")
	flags.Float64Var(&tolerance, "tolerance", def.Tolerance, "Solver convergence tolerance")
	flags.IntVar(&maxIterations, "max-iterations", def.MaxIterations, "Solver iteration cap")
	flags.IntVar(&threads, "threads", def.Threads, "Goroutines for parallel solver kernels")
	flags.StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Observability
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9090)")
	flags.StringVar(&tracing, "tracing", "none", "OpenTelemetry span exporter (stdout, none)")
	flags.StringVar(&traceLevel, "trace-level", "none", "Solve trace detail in the summary (none, failures, solves)")
}

// init sets up CLI flags and subcommands
func init() {
	registerRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(solversCmd)
}
