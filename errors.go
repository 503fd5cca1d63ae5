package nsweep

// errors.go holds the error kinds a sweep distinguishes.  Errors scoped to one
// configuration (ConfigurationError, ConfigurationFailed) are recorded and the
// sweep moves on; a SinkWriteError ends the sweep.

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAborted is returned by a sweep whose failure policy is "abort" when
// a configuration fails
var ErrAborted = errors.New("sweep aborted")

// ConfigurationError reports an experiment description that is internally
// inconsistent, detected before any engine is asked to run it
type ConfigurationError struct {
	Config  Configuration
	Reasons []string
}

func (ce *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", ce.Config, strings.Join(ce.Reasons, ","))
}

// ConfigurationFailed reports that the engine could not execute a configuration,
// or that its results could not be reduced
type ConfigurationFailed struct {
	Config Configuration
	Err    error
}

func (cf *ConfigurationFailed) Error() string {
	return fmt.Sprintf("configuration %s failed: %v", cf.Config, cf.Err)
}

func (cf *ConfigurationFailed) Unwrap() error {
	return cf.Err
}

// FlowIdentityError is raised by the aggregator when the engine returns a flow
// identifier that has no install-order tag
type FlowIdentityError struct {
	FlowID int
	Tagged int
}

func (fe *FlowIdentityError) Error() string {
	return fmt.Sprintf("flow id %d has no install-order tag (%d flows tagged)", fe.FlowID, fe.Tagged)
}

// SinkWriteError wraps a failure to persist a result
type SinkWriteError struct {
	Target string
	Err    error
}

func (se *SinkWriteError) Error() string {
	return fmt.Sprintf("result sink %s: %v", se.Target, se.Err)
}

func (se *SinkWriteError) Unwrap() error {
	return se.Err
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// isConfigScoped says whether err is confined to one configuration
func isConfigScoped(err error) bool {
	var ce *ConfigurationError
	var cf *ConfigurationFailed
	return errors.As(err, &ce) || errors.As(err, &cf)
}
