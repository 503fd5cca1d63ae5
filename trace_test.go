package nsweep

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInactiveTraceGathersNothing(t *testing.T) {
	tm := CreateTraceManager("quiet", false)
	tm.AddName(1, "flow-0", "measurement")
	tm.AddTrace(RunTrace{Config: Configuration{Index: 2}, Status: RunCompleted})
	assert.Empty(t, tm.NameByID)
	assert.Empty(t, tm.Traces)

	filename := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, tm.WriteToFile(filename))
	assert.NoFileExists(t, filename)

	var none *TraceManager
	assert.False(t, none.Active())
	none.AddTrace(RunTrace{})
}

func TestTraceNamesKeepFirstEntry(t *testing.T) {
	tm := CreateTraceManager("names", true)
	tm.AddName(3, "flow-0", "measurement")
	tm.AddName(3, "renamed", "bookkeeping")
	assert.Equal(t, NameType{Name: "flow-0", Type: "measurement"}, tm.NameByID[3])

	desc := hiddenTerminalDesc(t, Configuration{Distance1: 120, Distance2: 1000})
	tm.AddFlowNames(desc)
	assert.Len(t, tm.NameByID, 4)
	assert.Equal(t, NameType{Name: "probe-0", Type: "bookkeeping"}, tm.NameByID[1])
	assert.Equal(t, "flow-0", tm.NameByID[3].Name)
}

func TestTraceRoundTrip(t *testing.T) {
	tm := CreateTraceManager("ht", true)
	records := map[int]FlowRecord{
		4: {RxBytes: 2000000, RxPackets: 2000, DelaySum: 4},
		3: {RxBytes: 1000000, RxPackets: 1000, DelaySum: 2},
	}
	result := AggregateResult{Config: Configuration{Index: 0, Distance1: 120, Distance2: 1000},
		ThroughputMbps: 0.38, MeanDelay: 0.002, Flows: 2, Excluded: 2}
	tm.AddTrace(RunTrace{Config: result.Config, Status: RunCompleted, Records: sortedRecords(records), Result: &result})
	tm.AddTrace(RunTrace{Config: Configuration{Index: 1, Distance1: 120, Distance2: 1010},
		Status: RunFailed, Error: "engine gave up"})

	assert.Equal(t, 3, tm.Traces[0].Records[0].FlowID)
	assert.Equal(t, 4, tm.Traces[0].Records[1].FlowID)

	for _, name := range []string{"trace.yaml", "trace.json"} {
		filename := filepath.Join(t.TempDir(), name)
		require.NoError(t, tm.WriteToFile(filename))
		read, err := ReadTraceManager(filename, IsYAML(filename), nil)
		require.NoError(t, err, name)
		assert.Equal(t, tm, read, name)
	}

	assert.Error(t, tm.WriteToFile(filepath.Join(t.TempDir(), "trace.bin")))
}
