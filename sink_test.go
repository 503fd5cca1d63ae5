package nsweep

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, filename string) []string {
	bytes, err := os.ReadFile(filename)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(bytes), "\n"), "\n")
}

func TestLineSinkAppends(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results.dat")
	sink, err := CreateLineSink(out, []string{ColDistance1, ColDistance2})
	require.NoError(t, err)

	require.NoError(t, sink.Append(AggregateResult{Config: Configuration{Distance1: 120, Distance2: 1000},
		ThroughputMbps: 1.5, MeanDelay: 0.002}))
	require.NoError(t, sink.Append(AggregateResult{Config: Configuration{Distance1: 120, Distance2: 1010},
		ThroughputMbps: 2.25, MeanDelay: 0}))
	require.NoError(t, sink.Close())

	lines := readLines(t, out)
	require.Len(t, lines, 3)
	assert.Equal(t, "# distance1 distance2 throughput_mbps delay_s", lines[0])
	assert.Equal(t, "120 1000 1.5 0.002", lines[1])
	assert.Equal(t, "120 1010 2.25 0", lines[2])
}

func TestLineSinkKeepsExistingFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results.dat")
	require.NoError(t, os.WriteFile(out, []byte("120 990 1 1\n"), 0o644))

	sink, err := CreateLineSink(out, []string{ColDistance1, ColDistance2})
	require.NoError(t, err)
	require.NoError(t, sink.Append(AggregateResult{Config: Configuration{Distance1: 120, Distance2: 1000}}))

	lines := readLines(t, out)
	assert.Equal(t, []string{"120 990 1 1", "120 1000 0 0"}, lines)
}

func TestLineSinkRoundTrip(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results.dat")
	cols := []string{ColDistance1, ColDistance2, ColDataMode, ColRtsCts}
	sink, err := CreateLineSink(out, cols)
	require.NoError(t, err)

	written := AggregateResult{
		Config:         Configuration{Distance1: 120.5, Distance2: 1000, DataMode: "OfdmRate24Mbps", RtsCts: true},
		ThroughputMbps: (1000000.0*8 + 2000000.0*8) / 59 / 1048576,
		MeanDelay:      0.0017361111111,
	}
	require.NoError(t, sink.Append(written))

	lines := readLines(t, out)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "#"))

	read, err := ParseResultLine(cols, lines[1])
	require.NoError(t, err)
	assert.Equal(t, written.Config, read.Config)
	assert.InEpsilon(t, written.ThroughputMbps, read.ThroughputMbps, 1e-6)
	assert.InEpsilon(t, written.MeanDelay, read.MeanDelay, 1e-6)
}

func TestParseResultLineErrors(t *testing.T) {
	cols := []string{ColDistance1, ColDistance2}
	_, err := ParseResultLine(cols, "# distance1 distance2 throughput_mbps delay_s")
	assert.Error(t, err)

	_, err = ParseResultLine(cols, "120 1000 0.5")
	assert.Error(t, err)

	_, err = ParseResultLine(cols, "120 far 0.5 0")
	assert.Error(t, err)
}

func TestLineSinkWriteFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing-dir", "results.dat")
	sink, err := CreateLineSink(out, []string{ColDistance1, ColDistance2})
	require.NoError(t, err)

	err = sink.Append(AggregateResult{})
	var se *SinkWriteError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, out, se.Target)
}

func TestCreateLineSinkRejectsUnknownColumn(t *testing.T) {
	_, err := CreateLineSink("x.dat", []string{"bandwidth"})
	assert.Error(t, err)
	_, err = CreateLineSink("", nil)
	assert.Error(t, err)
}

func TestSQLiteSink(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.db")
	sink, err := OpenSQLiteSink(dbPath, "ht")
	require.NoError(t, err)
	defer sink.Close()

	first := AggregateResult{Config: Configuration{Index: 0, Distance1: 120, Distance2: 1000, DataMode: "OfdmRate54Mbps"},
		ThroughputMbps: 0.5, MeanThroughputMbps: 0.25, MeanDelay: 0.001, Flows: 2, Excluded: 2}
	second := first
	second.Config.Index = 1
	second.Config.Distance2 = 1010
	second.Config.RtsCts = true
	require.NoError(t, sink.Append(first))
	require.NoError(t, sink.Append(second))

	// another sweep in the same database stays separate
	other, err := OpenSQLiteSink(dbPath, "other")
	require.NoError(t, err)
	require.NoError(t, other.Append(first))
	require.NoError(t, other.Close())

	results, err := sink.Results()
	require.NoError(t, err)
	assert.Equal(t, []AggregateResult{first, second}, results)
}

type failingSink struct {
	appended int
}

func (fs *failingSink) Append(result AggregateResult) error {
	fs.appended += 1
	return &SinkWriteError{Target: "failing", Err: errors.New("disk full")}
}

func (fs *failingSink) Close() error {
	return errors.New("close failed")
}

func TestMultiSinkStopsAtFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results.dat")
	lineSink, err := CreateLineSink(out, []string{ColDistance1, ColDistance2})
	require.NoError(t, err)
	bad := &failingSink{}
	after := &failingSink{}

	ms := MultiSink{lineSink, bad, after}
	assert.Error(t, ms.Append(AggregateResult{}))
	assert.Equal(t, 1, bad.appended)
	assert.Equal(t, 0, after.appended)
	assert.Error(t, ms.Close())
}
