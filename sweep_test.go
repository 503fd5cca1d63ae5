package nsweep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// positionalFactory makes engines whose measurement flows receive a number of
// bytes derived from where node 2 stands, so each configuration is recognizable
// in the output.  It keeps no shared state and is safe for concurrent sweeps.
func positionalFactory(failAt string) EngineFactory {
	return func(EngineDefaults) (Engine, error) {
		se := &scriptedEngine{failAt: failAt}
		se.statsFn = func(se *scriptedEngine) map[int]FlowRecord {
			stats := make(map[int]FlowRecord)
			for idx, flow := range se.flows {
				rec := FlowRecord{FlowID: idx + 1, RxPackets: 1, RxBytes: 10}
				if flow.Measurement {
					rec.RxBytes = uint64(se.positions[2].X) * 1000
					rec.DelaySum = 0.001
				}
				stats[idx+1] = rec
			}
			return stats
		}
		return se, nil
	}
}

func newTestSweep(t *testing.T, grid *Grid, factory EngineFactory) (*Sweep, string) {
	out := filepath.Join(t.TempDir(), "sweep.dat")
	sink, err := CreateLineSink(out, grid.Columns())
	require.NoError(t, err)
	sw := &Sweep{
		Name:     "test",
		Grid:     grid,
		Scenario: DefaultScenario(),
		Invoke:   NewInvoker(factory),
		Sink:     sink,
		Trace:    CreateTraceManager("test", true),
		Policy:   SkipFailures,
		Logger:   zerolog.Nop(),
	}
	return sw, out
}

func TestSweepEndToEnd(t *testing.T) {
	grid, err := NewGrid(Seq(120), Seq(1000), nil, nil, mustPolicy(t, "pair-ordered"))
	require.NoError(t, err)

	sf := &scriptedFactory{mk: func(EngineDefaults) *scriptedEngine {
		return &scriptedEngine{stats: map[int]FlowRecord{
			1: {FlowID: 1, RxBytes: 38, RxPackets: 1},
			2: {FlowID: 2, RxBytes: 38, RxPackets: 1},
			3: {FlowID: 3, RxBytes: 3000000, RxPackets: 3000, DelaySum: 3.0},
			4: {FlowID: 4, RxBytes: 2000000, RxPackets: 2000, DelaySum: 2.0},
		}}
	}}
	sw, out := newTestSweep(t, grid, sf.factory())

	summary, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Completed: 1}, summary)

	lines := readLines(t, out)
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[1])
	require.Len(t, fields, 4)
	assert.Equal(t, "120", fields[0])
	assert.Equal(t, "1000", fields[1])
	assert.True(t, strings.HasPrefix(fields[2], "0.6465"), fields[2])
	assert.Equal(t, "0.001", fields[3])

	trace := sw.Trace.Traces[0]
	assert.Equal(t, RunCompleted, trace.Status)
	require.Len(t, trace.Records, 4)
	assert.Equal(t, 1, trace.Records[0].FlowID)
	assert.Equal(t, "bookkeeping", sw.Trace.NameByID[1].Type)
	assert.Equal(t, "measurement", sw.Trace.NameByID[4].Type)
}

func TestSweepSkipsRejectedConfigurations(t *testing.T) {
	// under "all" the d1 > d2 corners of the product reach the builder, which refuses them
	grid, err := NewGrid(Seq(100, 300), Seq(200), nil, nil, mustPolicy(t, "all"))
	require.NoError(t, err)
	sw, out := newTestSweep(t, grid, positionalFactory(""))
	sw.Policy = AbortOnFailure

	summary, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Completed: 1, Skipped: 1}, summary)
	assert.Len(t, readLines(t, out), 2)
	assert.Equal(t, RunSkipped, sw.Trace.Traces[1].Status)
	assert.NotEmpty(t, sw.Trace.Traces[1].Error)
}

func TestSweepSkipsEngineFailures(t *testing.T) {
	grid, err := NewGrid(Seq(100), Seq(200, 300, 400), nil, nil, mustPolicy(t, "pair-ordered"))
	require.NoError(t, err)
	sw, out := newTestSweep(t, grid, positionalFactory("run"))

	summary, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 3}, summary)
	assert.Len(t, sw.Trace.Traces, 3)

	// nothing was appended, so the file was never created
	_, err = CheckReadableFiles([]string{out})
	assert.Error(t, err)
}

func TestSweepAbortsOnEngineFailure(t *testing.T) {
	grid, err := NewGrid(Seq(100), Seq(200, 300, 400), nil, nil, mustPolicy(t, "pair-ordered"))
	require.NoError(t, err)
	sw, _ := newTestSweep(t, grid, positionalFactory("stats"))
	sw.Policy = AbortOnFailure

	summary, err := sw.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Equal(t, Summary{Failed: 1}, summary)
}

func TestSweepStopsOnSinkFailure(t *testing.T) {
	grid, err := NewGrid(Seq(100), Seq(200, 300), nil, nil, mustPolicy(t, "pair-ordered"))
	require.NoError(t, err)
	sw, _ := newTestSweep(t, grid, positionalFactory(""))
	bad := &failingSink{}
	sw.Sink = bad

	summary, err := sw.Run(context.Background())
	var se *SinkWriteError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, bad.appended)
	assert.Zero(t, summary.Completed)
}

func TestSweepParallelKeepsGridOrder(t *testing.T) {
	grid, err := NewGrid(Seq(100), Range(200, 1000, 50), nil, []bool{false, true}, mustPolicy(t, "pair-ordered"))
	require.NoError(t, err)

	seq, seqOut := newTestSweep(t, grid, positionalFactory(""))
	seqSummary, err := seq.Run(context.Background())
	require.NoError(t, err)

	par, parOut := newTestSweep(t, grid, positionalFactory(""))
	par.Workers = 4
	parSummary, err := par.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, grid.Count(), parSummary.Completed)
	assert.Equal(t, seqSummary, parSummary)
	assert.Equal(t, readLines(t, seqOut), readLines(t, parOut))
}

func TestReferenceSweepIsReproducible(t *testing.T) {
	grid, err := NewGrid(Seq(120), Seq(300, 1000, 5000), nil, []bool{false, true}, mustPolicy(t, "pair-ordered"))
	require.NoError(t, err)
	factory := RefEngineFactory(RefEngineOpts{Seed: 3})

	run := func(workers int) (*Sweep, []byte) {
		sw, out := newTestSweep(t, grid, factory)
		sw.Scenario.Duration = 2
		sw.Workers = workers
		summary, err := sw.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, grid.Count(), summary.Completed)
		written, err := os.ReadFile(out)
		require.NoError(t, err)
		return sw, written
	}

	_, seqBytes := run(1)
	par, parBytes := run(4)
	assert.Equal(t, string(seqBytes), string(parBytes))

	// one configuration run on its own matches what the sweep saw
	cfg := par.Trace.Traces[4].Config
	desc, err := BuildExperiment(cfg, par.Scenario)
	require.NoError(t, err)
	alone, err := Invoke(factory, desc)
	require.NoError(t, err)
	assert.Equal(t, par.Trace.Traces[4].Records, sortedRecords(alone))
}

func TestSweepParallelAbort(t *testing.T) {
	grid, err := NewGrid(Seq(100), Range(200, 1000, 50), nil, nil, mustPolicy(t, "pair-ordered"))
	require.NoError(t, err)
	sw, _ := newTestSweep(t, grid, positionalFactory("run"))
	sw.Workers = 3
	sw.Policy = AbortOnFailure

	summary, err := sw.Run(context.Background())
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Equal(t, 1, summary.Failed)
}

func TestSweepHonorsCancellation(t *testing.T) {
	grid, err := NewGrid(Seq(100), Seq(200, 300), nil, nil, mustPolicy(t, "pair-ordered"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 2} {
		sw, _ := newTestSweep(t, grid, positionalFactory(""))
		sw.Workers = workers
		summary, err := sw.Run(ctx)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Zero(t, summary.Attempted())
	}
}

func TestSweepStartsNothingAfterCancel(t *testing.T) {
	grid, err := NewGrid(Seq(100), Seq(200, 300, 400, 500, 600, 700), nil, nil, mustPolicy(t, "pair-ordered"))
	require.NoError(t, err)

	for _, workers := range []int{1, 2} {
		ctx, cancel := context.WithCancel(context.Background())
		var started atomic.Int32
		invoke := NewInvoker(positionalFactory(""))

		sw, _ := newTestSweep(t, grid, positionalFactory(""))
		sw.Workers = workers
		sw.Invoke = func(desc *ExperimentDesc) (map[int]FlowRecord, error) {
			started.Add(1)
			if desc.Config.Index == 0 {
				cancel()
			} else {
				<-ctx.Done()
			}
			return invoke(desc)
		}

		summary, err := sw.Run(ctx)
		assert.True(t, errors.Is(err, context.Canceled), "workers %d", workers)
		assert.LessOrEqual(t, int(started.Load()), workers, "workers %d", workers)
		assert.Equal(t, int(started.Load()), summary.Completed, "workers %d", workers)
		cancel()
	}
}

func TestSweepNeedsParts(t *testing.T) {
	_, err := (&Sweep{}).Run(context.Background())
	assert.Error(t, err)
}

func TestParseFailurePolicy(t *testing.T) {
	policy, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, SkipFailures, policy)

	policy, err = ParseFailurePolicy("abort")
	require.NoError(t, err)
	assert.Equal(t, AbortOnFailure, policy)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}
