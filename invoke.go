package nsweep

// invoke.go is the only code that drives an Engine.  It makes the declarations
// of an ExperimentDesc in a fixed order, runs for exactly the described
// duration and collects the flow records.

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Invoker runs one experiment and returns the engine's flow records
type Invoker func(desc *ExperimentDesc) (map[int]FlowRecord, error)

// NewInvoker returns an Invoker that obtains a fresh engine from factory for every run
func NewInvoker(factory EngineFactory) Invoker {
	return func(desc *ExperimentDesc) (map[int]FlowRecord, error) {
		return Invoke(factory, desc)
	}
}

// Invoke runs desc on a new engine.  Flow statistics are read before the engine
// is destroyed, and the engine is destroyed on every path once it exists.
// Any engine error comes back as a *ConfigurationFailed.
func Invoke(factory EngineFactory, desc *ExperimentDesc) (records map[int]FlowRecord, err error) {
	failed := func(step string, cause error) error {
		return &ConfigurationFailed{Config: desc.Config, Err: fmt.Errorf("%s: %w", step, cause)}
	}

	// the defaults object replaces any engine-wide default table
	engine, err := factory(desc.Defaults)
	if err != nil {
		return nil, failed("create engine", err)
	}
	defer func() {
		if derr := engine.Destroy(); derr != nil && err == nil {
			records = nil
			err = failed("destroy", derr)
		}
	}()

	nodes, err := engine.CreateNodes(desc.Nodes)
	if err != nil {
		return nil, failed("create nodes", err)
	}
	if err = engine.InstallMobility(nodes, desc.Positions); err != nil {
		return nil, failed("install mobility", err)
	}
	if _, err = engine.InstallRadioAndNetwork(nodes, desc.Radio); err != nil {
		return nil, failed("install radio", err)
	}
	for _, flow := range desc.Flows {
		if err = engine.InstallFlow(flow); err != nil {
			return nil, failed("install flow "+flow.Name, err)
		}
	}
	if err = engine.Run(desc.Duration); err != nil {
		return nil, failed("run", err)
	}
	records, err = engine.FlowStatistics()
	if err != nil {
		return nil, failed("flow statistics", err)
	}
	return records, nil
}

// WithRetry wraps an Invoker so a failed run is attempted again, up to
// retries more times.  Only *ConfigurationFailed errors are retried.
func WithRetry(invoke Invoker, retries int, logger zerolog.Logger) Invoker {
	if retries <= 0 {
		return invoke
	}
	return func(desc *ExperimentDesc) (map[int]FlowRecord, error) {
		var err error
		for attempt := 0; attempt <= retries; attempt++ {
			var records map[int]FlowRecord
			records, err = invoke(desc)
			if err == nil {
				return records, nil
			}
			if !isConfigScoped(err) {
				return nil, err
			}
			logger.Warn().Err(err).Int("attempt", attempt+1).Int("retries", retries).
				Str("config", desc.Config.String()).Msg("run failed")
		}
		return nil, err
	}
}
