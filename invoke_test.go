package nsweep

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEngine records the calls made to it and returns canned statistics
type scriptedEngine struct {
	defaults  EngineDefaults
	calls     []string
	flows     []FlowSpec
	duration  float64
	positions []Vector
	stats     map[int]FlowRecord
	statsFn   func(se *scriptedEngine) map[int]FlowRecord
	failAt    string
	destroyed bool
}

func (se *scriptedEngine) step(name string) error {
	se.calls = append(se.calls, name)
	if se.failAt == name {
		return errors.New(name + " refused")
	}
	return nil
}

func (se *scriptedEngine) CreateNodes(count int) (NodeSet, error) {
	nodes := make(NodeSet, count)
	for idx := range nodes {
		nodes[idx] = idx
	}
	return nodes, se.step("nodes")
}

func (se *scriptedEngine) InstallMobility(nodes NodeSet, positions []Vector) error {
	se.positions = positions
	return se.step("mobility")
}

func (se *scriptedEngine) InstallRadioAndNetwork(nodes NodeSet, radio RadioParams) (DeviceSet, error) {
	return DeviceSet(nodes), se.step("radio")
}

func (se *scriptedEngine) InstallFlow(flow FlowSpec) error {
	se.flows = append(se.flows, flow)
	return se.step("flow")
}

func (se *scriptedEngine) Run(duration float64) error {
	se.duration = duration
	return se.step("run")
}

func (se *scriptedEngine) FlowStatistics() (map[int]FlowRecord, error) {
	if err := se.step("stats"); err != nil {
		return nil, err
	}
	if se.statsFn != nil {
		return se.statsFn(se), nil
	}
	return se.stats, nil
}

func (se *scriptedEngine) Destroy() error {
	se.destroyed = true
	return se.step("destroy")
}

// scriptedFactory hands out engines built by mk and remembers them
type scriptedFactory struct {
	mk      func(cfg EngineDefaults) *scriptedEngine
	engines []*scriptedEngine
}

func (sf *scriptedFactory) factory() EngineFactory {
	return func(defaults EngineDefaults) (Engine, error) {
		se := sf.mk(defaults)
		se.defaults = defaults
		sf.engines = append(sf.engines, se)
		return se, nil
	}
}

func hiddenTerminalDesc(t *testing.T, cfg Configuration) *ExperimentDesc {
	desc, err := BuildExperiment(cfg, DefaultScenario())
	require.NoError(t, err)
	return desc
}

func TestInvokeCallOrder(t *testing.T) {
	stats := map[int]FlowRecord{3: {FlowID: 3, RxBytes: 10}}
	sf := &scriptedFactory{mk: func(EngineDefaults) *scriptedEngine { return &scriptedEngine{stats: stats} }}
	desc := hiddenTerminalDesc(t, Configuration{Distance1: 120, Distance2: 1000, RtsCts: true})

	records, err := Invoke(sf.factory(), desc)
	require.NoError(t, err)
	assert.Equal(t, stats, records)

	require.Len(t, sf.engines, 1)
	se := sf.engines[0]
	assert.Equal(t, []string{"nodes", "mobility", "radio", "flow", "flow", "flow", "flow", "run", "stats", "destroy"}, se.calls)
	assert.Equal(t, desc.Flows, se.flows)
	assert.Equal(t, 60.0, se.duration)
	assert.Equal(t, RtsCtsOnThreshold, se.defaults.RtsCtsThreshold)
}

func TestInvokeFailureCarriesConfiguration(t *testing.T) {
	sf := &scriptedFactory{mk: func(EngineDefaults) *scriptedEngine { return &scriptedEngine{failAt: "run"} }}
	cfg := Configuration{Index: 4, Distance1: 120, Distance2: 1040}
	_, err := Invoke(sf.factory(), hiddenTerminalDesc(t, cfg))

	var cf *ConfigurationFailed
	require.True(t, errors.As(err, &cf))
	assert.Equal(t, 4, cf.Config.Index)
	assert.Equal(t, 1040.0, cf.Config.Distance2)
	assert.True(t, sf.engines[0].destroyed)
}

func TestInvokeDestroyFailure(t *testing.T) {
	sf := &scriptedFactory{mk: func(EngineDefaults) *scriptedEngine { return &scriptedEngine{failAt: "destroy"} }}
	records, err := Invoke(sf.factory(), hiddenTerminalDesc(t, Configuration{Distance1: 1, Distance2: 2}))
	assert.Nil(t, records)

	var cf *ConfigurationFailed
	assert.True(t, errors.As(err, &cf))
}

func TestInvokeFactoryFailure(t *testing.T) {
	factory := func(EngineDefaults) (Engine, error) { return nil, errors.New("no licence") }
	_, err := Invoke(factory, hiddenTerminalDesc(t, Configuration{Distance1: 1, Distance2: 2}))

	var cf *ConfigurationFailed
	assert.True(t, errors.As(err, &cf))
}

func TestWithRetry(t *testing.T) {
	attempts := 0
	sf := &scriptedFactory{mk: func(EngineDefaults) *scriptedEngine {
		attempts += 1
		if attempts < 3 {
			return &scriptedEngine{failAt: "run"}
		}
		return &scriptedEngine{stats: map[int]FlowRecord{}}
	}}
	desc := hiddenTerminalDesc(t, Configuration{Distance1: 1, Distance2: 2})

	_, err := WithRetry(NewInvoker(sf.factory()), 1, zerolog.Nop())(desc)
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)

	_, err = WithRetry(NewInvoker(sf.factory()), 1, zerolog.Nop())(desc)
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	for _, se := range sf.engines {
		assert.True(t, se.destroyed)
	}
}
