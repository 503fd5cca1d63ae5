package nsweep

// sweep.go drives a whole sweep: every admissible configuration of a grid is
// built, run, reduced and written.  A failure confined to one configuration is
// logged and counted; a failure of the result sink ends the sweep.

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// FailurePolicy says what a sweep does when the engine fails a configuration
type FailurePolicy string

const (
	SkipFailures   FailurePolicy = "skip"
	AbortOnFailure FailurePolicy = "abort"
)

// ParseFailurePolicy accepts "skip" (also the empty string) and "abort"
func ParseFailurePolicy(name string) (FailurePolicy, error) {
	switch name {
	case "", string(SkipFailures):
		return SkipFailures, nil
	case string(AbortOnFailure):
		return AbortOnFailure, nil
	}
	return SkipFailures, fmt.Errorf("failure policy %q is neither skip nor abort", name)
}

// Summary counts the outcomes of a sweep.  Skipped configurations were rejected
// by the experiment builder, Failed ones by the engine or the aggregator.
type Summary struct {
	Completed int `json:"completed" yaml:"completed"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Attempted is the number of configurations whose outcome is known
func (s Summary) Attempted() int {
	return s.Completed + s.Skipped + s.Failed
}

// Sweep holds everything needed to run a sweep
type Sweep struct {
	Name     string
	Grid     *Grid
	Scenario Scenario
	Invoke   Invoker
	Sink     ResultSink
	Trace    *TraceManager
	Policy   FailurePolicy

	// configurations run concurrently when Workers > 1, each on its own engine.
	// Results are still written in grid order.
	Workers int

	Logger zerolog.Logger
}

// runOutcome is what one configuration produced
type runOutcome struct {
	cfg     Configuration
	desc    *ExperimentDesc
	records map[int]FlowRecord
	result  AggregateResult
	err     error
}

// runOne builds, runs and reduces one configuration
func (sw *Sweep) runOne(cfg Configuration) runOutcome {
	out := runOutcome{cfg: cfg}
	out.desc, out.err = BuildExperiment(cfg, sw.Scenario)
	if out.err != nil {
		return out
	}
	out.records, out.err = sw.Invoke(out.desc)
	if out.err != nil {
		return out
	}
	out.result, out.err = Aggregate(cfg, out.records, out.desc.Tags, out.desc.Window())
	if out.err != nil {
		out.err = &ConfigurationFailed{Config: cfg, Err: out.err}
	}
	return out
}

// Run walks the grid.  Cancelling ctx stops the sweep before the next
// configuration starts; a run already under way is carried to completion and recorded.
func (sw *Sweep) Run(ctx context.Context) (Summary, error) {
	if sw.Grid == nil || sw.Invoke == nil || sw.Sink == nil {
		return Summary{}, errors.New("sweep needs a grid, an invoker and a sink")
	}
	sw.Logger.Info().Str("sweep", sw.Name).Int("configurations", sw.Grid.Count()).
		Int("workers", max(sw.Workers, 1)).Str("onError", string(sw.Policy)).Msg("sweep starting")

	var summary Summary
	var err error
	if sw.Workers > 1 {
		summary, err = sw.runParallel(ctx)
	} else {
		summary, err = sw.runSequential(ctx)
	}

	logEvt := sw.Logger.Info()
	if err != nil {
		logEvt = sw.Logger.Error().Err(err)
	}
	logEvt.Str("sweep", sw.Name).Int("completed", summary.Completed).
		Int("skipped", summary.Skipped).Int("failed", summary.Failed).Msg("sweep finished")
	return summary, err
}

func (sw *Sweep) runSequential(ctx context.Context) (Summary, error) {
	summary := Summary{}
	it := sw.Grid.Iter()
	for cfg, ok := it.Next(); ok; cfg, ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("sweep stopped before %s: %w", cfg, err)
		}
		if err := sw.record(sw.runOne(cfg), &summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// runParallel feeds configurations to Workers goroutines and has this goroutine
// alone write results, releasing them in grid order
func (sw *Sweep) runParallel(ctx context.Context) (Summary, error) {
	summary := Summary{}
	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Configuration)
	results := make(chan runOutcome)

	var wg sync.WaitGroup
	for w := 0; w < sw.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cfg := range jobs {
				// a job handed over as the sweep was cancelled is dropped unstarted
				if feedCtx.Err() != nil {
					continue
				}
				results <- sw.runOne(cfg)
			}
		}()
	}

	go func() {
		defer close(jobs)
		it := sw.Grid.Iter()
		for cfg, ok := it.Next(); ok; cfg, ok = it.Next() {
			// checked first so a cancelled sweep does not race one more job in
			if feedCtx.Err() != nil {
				return
			}
			select {
			case <-feedCtx.Done():
				return
			case jobs <- cfg:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int]runOutcome)
	next := 0
	var stopErr error
	for out := range results {
		// keep draining so no worker stays blocked
		if stopErr != nil {
			continue
		}
		pending[out.cfg.Index] = out
		for {
			ready, present := pending[next]
			if !present {
				break
			}
			delete(pending, next)
			next += 1
			if err := sw.record(ready, &summary); err != nil {
				stopErr = err
				cancel()
				break
			}
		}
	}

	// cancellation can leave a gap in the indices; what did run is still written in grid order
	if stopErr == nil && len(pending) > 0 {
		late := make([]int, 0, len(pending))
		for idx := range pending {
			late = append(late, idx)
		}
		slices.Sort(late)
		for _, idx := range late {
			if err := sw.record(pending[idx], &summary); err != nil {
				stopErr = err
				break
			}
		}
	}

	if stopErr != nil {
		return summary, stopErr
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("sweep stopped after %d configurations: %w", summary.Attempted(), err)
	}
	return summary, nil
}

// record routes one outcome to the sink, the trace and the log, and says
// whether the sweep must stop
func (sw *Sweep) record(out runOutcome, summary *Summary) error {
	if out.desc != nil {
		sw.Trace.AddFlowNames(out.desc)
	}
	trace := RunTrace{Config: out.cfg}
	if out.records != nil {
		trace.Records = sortedRecords(out.records)
	}

	var ce *ConfigurationError
	switch {
	case out.err == nil:
		if err := sw.Sink.Append(out.result); err != nil {
			sw.Logger.Error().Err(err).Str("config", out.cfg.String()).Msg("result not written")
			return err
		}
		summary.Completed += 1
		trace.Status = RunCompleted
		result := out.result
		trace.Result = &result
		sw.Logger.Info().Int("index", out.cfg.Index).Float64("distance1", out.cfg.Distance1).
			Float64("distance2", out.cfg.Distance2).Str("mode", out.cfg.DataMode).Bool("rtscts", out.cfg.RtsCts).
			Float64("throughputMbps", out.result.ThroughputMbps).Float64("delay", out.result.MeanDelay).
			Int("flows", out.result.Flows).Msg("configuration done")

	case errors.As(out.err, &ce):
		summary.Skipped += 1
		trace.Status = RunSkipped
		trace.Error = out.err.Error()
		sw.Logger.Warn().Err(out.err).Int("index", out.cfg.Index).Msg("configuration skipped")

	default:
		summary.Failed += 1
		trace.Status = RunFailed
		trace.Error = out.err.Error()
		sw.Logger.Error().Err(out.err).Int("index", out.cfg.Index).Float64("distance1", out.cfg.Distance1).
			Float64("distance2", out.cfg.Distance2).Str("mode", out.cfg.DataMode).Bool("rtscts", out.cfg.RtsCts).
			Msg("configuration failed")
	}
	sw.Trace.AddTrace(trace)

	if trace.Status == RunFailed && sw.Policy == AbortOnFailure {
		return fmt.Errorf("%w: %v", ErrAborted, out.err)
	}
	return nil
}
