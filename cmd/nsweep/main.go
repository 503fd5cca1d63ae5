package main

// nsweep runs a parameter sweep of a wireless scenario and appends one
// result line per configuration to the output file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iti/cmdline"
	"github.com/iti/nsweep"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tebeka/atexit"
)

// cmdlineParameters define variables that may appear on the command line
func cmdlineParameters() *cmdline.CmdParser {
	// create an argument parser
	cp := cmdline.NewCmdParser()
	cp.AddFlag(cmdline.StringFlag, "sweep", true)    // sweep description, .yaml or .json
	cp.AddFlag(cmdline.StringFlag, "output", false)  // result file, overrides the description
	cp.AddFlag(cmdline.StringFlag, "policy", false)  // admissibility policy, overrides the description
	cp.AddFlag(cmdline.StringFlag, "db", false)      // SQLite database also receiving results
	cp.AddFlag(cmdline.IntFlag, "workers", false)    // configurations run at once
	cp.AddFlag(cmdline.StringFlag, "onError", false) // skip or abort
	cp.AddFlag(cmdline.IntFlag, "retries", false)    // extra attempts for a failed run
	cp.AddFlag(cmdline.StringFlag, "trace", false)   // per-configuration trace, .yaml or .json
	cp.AddFlag(cmdline.StringFlag, "diag", false)    // diagnostics log file
	cp.AddFlag(cmdline.BoolFlag, "verbose", false)   // debug-level logging

	return cp
}

// main is, well, main
func main() {
	cp := cmdlineParameters()
	cp.Parse()

	logger, err := setupLogging(cp)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(2)
	}

	// an interrupt lets the running configurations finish, then stops
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_, err = runSweep(ctx, optsFromCmdline(cp), logger)
	stop()
	atexit.Exit(exitStatus(err, logger))
}

// exitStatus is 0 for a completed sweep and 1 otherwise
func exitStatus(err error, logger zerolog.Logger) int {
	if err == nil {
		return 0
	}
	logger.Error().Err(err).Msg("sweep did not complete")
	return 1
}

// setupLogging writes to the console and, when -diag names a file, also to that file as JSON
func setupLogging(cp *cmdline.CmdParser) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cp.IsLoaded("verbose") && cp.GetVar("verbose").(bool) {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
	if !cp.IsLoaded("diag") {
		log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()
		return log.Logger, nil
	}

	diagFile := cp.GetVar("diag").(string)
	valid, err := nsweep.CheckOutputFiles([]string{diagFile})
	if !valid {
		return log.Logger, err
	}
	f, err := os.OpenFile(diagFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return log.Logger, err
	}
	atexit.Register(func() { f.Close() })

	multi := zerolog.MultiLevelWriter(consoleWriter, f)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	return log.Logger, nil
}

// runOpts carries the command-line values.  Empty strings and the has* flags
// being false leave the sweep description's own setting in place.
type runOpts struct {
	sweepFile string
	output    string
	policy    string
	db        string
	onError   string
	trace     string

	workers    int
	hasWorkers bool
	retries    int
	hasRetries bool
}

// optsFromCmdline gathers the flags that were given
func optsFromCmdline(cp *cmdline.CmdParser) runOpts {
	opts := runOpts{sweepFile: cp.GetVar("sweep").(string)}
	strFlag := func(name string) string {
		if cp.IsLoaded(name) {
			return cp.GetVar(name).(string)
		}
		return ""
	}
	opts.output = strFlag("output")
	opts.policy = strFlag("policy")
	opts.db = strFlag("db")
	opts.onError = strFlag("onError")
	opts.trace = strFlag("trace")
	if cp.IsLoaded("workers") {
		opts.workers, opts.hasWorkers = cp.GetVar("workers").(int), true
	}
	if cp.IsLoaded("retries") {
		opts.retries, opts.hasRetries = cp.GetVar("retries").(int), true
	}
	return opts
}

// applyOverrides lays the command-line values over the description
func applyOverrides(cfg *nsweep.SweepCfg, opts runOpts) {
	if len(opts.output) > 0 {
		cfg.Output = opts.output
	}
	if len(opts.policy) > 0 {
		cfg.Policy = opts.policy
	}
	if len(opts.db) > 0 {
		cfg.DB = opts.db
	}
	if len(opts.onError) > 0 {
		cfg.OnError = opts.onError
	}
	if opts.hasWorkers {
		cfg.Workers = opts.workers
	}
	if opts.hasRetries {
		cfg.Retries = opts.retries
	}
}

// runSweep reads the sweep description, applies the overrides and runs it
func runSweep(ctx context.Context, opts runOpts, logger zerolog.Logger) (nsweep.Summary, error) {
	valid, err := nsweep.CheckReadableFiles([]string{opts.sweepFile})
	if !valid {
		return nsweep.Summary{}, err
	}
	cfg, err := nsweep.ReadSweepCfg(opts.sweepFile, nsweep.IsYAML(opts.sweepFile), []byte{})
	if err != nil {
		return nsweep.Summary{}, fmt.Errorf("reading %s: %w", opts.sweepFile, err)
	}

	applyOverrides(cfg, opts)
	if len(cfg.Output) == 0 {
		return nsweep.Summary{}, errors.New("no output file given")
	}
	if err := cfg.Validate(); err != nil {
		return nsweep.Summary{}, err
	}

	valid, err = nsweep.CheckOutputFiles([]string{cfg.Output, cfg.DB, opts.trace})
	if !valid {
		return nsweep.Summary{}, err
	}

	grid, err := cfg.BuildGrid()
	if err != nil {
		return nsweep.Summary{}, err
	}
	factory, err := cfg.EngineFactory()
	if err != nil {
		return nsweep.Summary{}, err
	}
	policy, _ := nsweep.ParseFailurePolicy(cfg.OnError)

	lineSink, err := nsweep.CreateLineSink(cfg.Output, grid.Columns())
	if err != nil {
		return nsweep.Summary{}, err
	}
	sinks := nsweep.MultiSink{lineSink}
	if len(cfg.DB) > 0 {
		dbSink, err := nsweep.OpenSQLiteSink(cfg.DB, cfg.Name)
		if err != nil {
			return nsweep.Summary{}, err
		}
		sinks = append(sinks, dbSink)
	}
	defer sinks.Close()

	tm := nsweep.CreateTraceManager(cfg.Name, len(opts.trace) > 0)

	sweep := &nsweep.Sweep{
		Name:     cfg.Name,
		Grid:     grid,
		Scenario: cfg.Scenario,
		Invoke:   nsweep.WithRetry(nsweep.NewInvoker(factory), cfg.Retries, logger),
		Sink:     sinks,
		Trace:    tm,
		Policy:   policy,
		Workers:  cfg.Workers,
		Logger:   logger,
	}

	summary, runErr := sweep.Run(ctx)
	if tm.Active() {
		if err := tm.WriteToFile(opts.trace); err != nil {
			logger.Error().Err(err).Str("trace", opts.trace).Msg("trace not written")
		}
	}
	logger.Info().Str("output", cfg.Output).Int("completed", summary.Completed).
		Int("skipped", summary.Skipped).Int("failed", summary.Failed).Msg("results")
	return summary, runErr
}
