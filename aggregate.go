package nsweep

// aggregate.go reduces the flow records of one run to the metrics that are
// reported for its configuration.  Which records count is decided only by the
// install-order tags recorded when the experiment was built.

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// bits per second in one reported Mbps
const bpsPerMbps = 1024.0 * 1024.0

// AggregateResult holds the metrics of one configuration
type AggregateResult struct {
	Config Configuration `json:"config" yaml:"config"`

	// sum of the per-flow throughputs, Mbps
	ThroughputMbps float64 `json:"throughputmbps" yaml:"throughputmbps"`

	// ThroughputMbps divided by the number of included flows
	MeanThroughputMbps float64 `json:"meanthroughputmbps" yaml:"meanthroughputmbps"`

	// mean over included flows of each flow's mean packet delay, seconds
	MeanDelay float64 `json:"meandelay" yaml:"meandelay"`

	Flows    int `json:"flows" yaml:"flows"`
	Excluded int `json:"excluded" yaml:"excluded"`
}

// BookkeepingSet returns the flow identifiers whose install-order tag marks them as bookkeeping
func BookkeepingSet(tags []bool) map[int]bool {
	bk := make(map[int]bool)
	for idx, measurement := range tags {
		if !measurement {
			bk[idx+1] = true
		}
	}
	return bk
}

// Aggregate filters the bookkeeping flows out of records and reduces the rest.
// window is the measurement window in seconds.  A record whose identifier has no
// tag is a *FlowIdentityError, since its classification would be a guess.
func Aggregate(cfg Configuration, records map[int]FlowRecord, tags []bool, window float64) (AggregateResult, error) {
	result := AggregateResult{Config: cfg}
	if !(window > 0) {
		return result, fmt.Errorf("measurement window %s is not positive", formatNum(window))
	}

	// visit in identifier order so the float sums do not depend on map order
	ids := make([]int, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	bookkeeping := BookkeepingSet(tags)
	errs := []error{}
	throughput := 0.0
	delay := 0.0
	for _, id := range ids {
		if id < 1 || id > len(tags) {
			errs = append(errs, &FlowIdentityError{FlowID: id, Tagged: len(tags)})
			continue
		}
		if bookkeeping[id] {
			result.Excluded += 1
			continue
		}
		rec := records[id]
		throughput += float64(rec.RxBytes) * 8.0 / window
		if rec.RxPackets > 0 {
			delay += rec.DelaySum / float64(rec.RxPackets)
		}
		result.Flows += 1
	}
	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}

	result.ThroughputMbps = throughput / bpsPerMbps
	if result.Flows > 0 {
		result.MeanThroughputMbps = result.ThroughputMbps / float64(result.Flows)
		result.MeanDelay = delay / float64(result.Flows)
	}
	return result, nil
}
