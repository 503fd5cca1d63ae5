package nsweep

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookkeepingSet(t *testing.T) {
	bk := BookkeepingSet([]bool{false, false, true, true})
	assert.Equal(t, map[int]bool{1: true, 2: true}, bk)
}

func TestAggregateExcludesBookkeeping(t *testing.T) {
	records := map[int]FlowRecord{
		1: {FlowID: 1, RxBytes: 38, RxPackets: 1, DelaySum: 0.5},
		2: {FlowID: 2, RxBytes: 38, RxPackets: 1, DelaySum: 0.5},
		3: {FlowID: 3, RxBytes: 1000000, RxPackets: 1000, DelaySum: 2.0},
		4: {FlowID: 4, RxBytes: 2000000, RxPackets: 2000, DelaySum: 2.0},
	}
	cfg := Configuration{Distance1: 120, Distance2: 1000}
	res, err := Aggregate(cfg, records, []bool{false, false, true, true}, 59)
	require.NoError(t, err)

	want := (1000000.0*8 + 2000000.0*8) / 59 / 1048576
	assert.InDelta(t, want, res.ThroughputMbps, 1e-12)
	assert.InDelta(t, want/2, res.MeanThroughputMbps, 1e-12)
	// per-flow delays 2ms and 1ms
	assert.InDelta(t, 0.0015, res.MeanDelay, 1e-12)
	assert.Equal(t, 2, res.Flows)
	assert.Equal(t, 2, res.Excluded)
	assert.Equal(t, cfg, res.Config)
}

func TestAggregateZeroPacketFlow(t *testing.T) {
	records := map[int]FlowRecord{
		1: {FlowID: 1, RxBytes: 500000, RxPackets: 500, DelaySum: 1.0},
		2: {FlowID: 2, TxBytes: 1000, TxPackets: 1, LostPackets: 1},
	}
	res, err := Aggregate(Configuration{}, records, []bool{true, true}, 10)
	require.NoError(t, err)

	assert.InDelta(t, 500000.0*8/10/1048576, res.ThroughputMbps, 1e-12)
	// the silent flow counts with zero delay
	assert.InDelta(t, 0.001, res.MeanDelay, 1e-12)
	assert.Equal(t, 2, res.Flows)
}

func TestAggregateNoMeasurementFlows(t *testing.T) {
	records := map[int]FlowRecord{1: {FlowID: 1, RxBytes: 10, RxPackets: 1}}
	res, err := Aggregate(Configuration{}, records, []bool{false}, 1)
	require.NoError(t, err)
	assert.Zero(t, res.ThroughputMbps)
	assert.Zero(t, res.MeanDelay)
	assert.Zero(t, res.Flows)
	assert.Equal(t, 1, res.Excluded)
}

func TestAggregateUnknownFlowID(t *testing.T) {
	records := map[int]FlowRecord{
		1: {FlowID: 1},
		5: {FlowID: 5, RxBytes: 100},
	}
	_, err := Aggregate(Configuration{}, records, []bool{true, true}, 1)
	require.Error(t, err)

	var fe *FlowIdentityError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 5, fe.FlowID)
}

func TestAggregateRejectsEmptyWindow(t *testing.T) {
	_, err := Aggregate(Configuration{}, map[int]FlowRecord{}, nil, 0)
	assert.Error(t, err)
}
