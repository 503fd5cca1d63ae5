package nsweep

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// outcome of one configuration in a trace
const (
	RunCompleted = "completed"
	RunSkipped   = "skipped"
	RunFailed    = "failed"
)

// RunTrace is what a trace keeps about one configuration
type RunTrace struct {
	Config  Configuration    `json:"config" yaml:"config"`
	Status  string           `json:"status" yaml:"status"`
	Error   string           `json:"error,omitempty" yaml:"error,omitempty"`
	Records []FlowRecord     `json:"records,omitempty" yaml:"records,omitempty"`
	Result  *AggregateResult `json:"result,omitempty" yaml:"result,omitempty"`
}

// NameType is a an entry in a dictionary created for a trace
// that maps flow id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers the raw flow records and the reduced result of every
// configuration of a sweep, for post-run analysis
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name and kind associated with each flow id
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// one entry per configuration, keyed by configuration index
	Traces map[int]RunTrace `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int]RunTrace)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace stores the trace of one configuration
func (tm *TraceManager) AddTrace(trace RunTrace) {
	if !tm.Active() {
		return
	}
	tm.Traces[trace.Config.Index] = trace
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file.
// Every configuration of a sweep installs the same flows, so a repeated id is ignored.
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.Active() {
		return
	}
	if _, present := tm.NameByID[id]; present {
		return
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
}

// AddFlowNames enters the flows of an experiment in the dictionary
func (tm *TraceManager) AddFlowNames(desc *ExperimentDesc) {
	for idx, flow := range desc.Flows {
		kind := "bookkeeping"
		if desc.Tags[idx] {
			kind = "measurement"
		}
		tm.AddName(idx+1, flow.Name, kind)
	}
}

// sortedRecords lists records by flow id
func sortedRecords(records map[int]FlowRecord) []FlowRecord {
	recs := make([]FlowRecord, 0, len(records))
	for id, rec := range records {
		rec.FlowID = id
		recs = append(recs, rec)
	}
	slices.SortFunc(recs, func(a, b FlowRecord) int { return a.FlowID - b.FlowID })
	return recs
}

// WriteToFile stores the TraceManager struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	} else {
		return fmt.Errorf("trace file %s needs a .yaml or .json extension", filename)
	}

	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0o644)
}

// ReadTraceManager deserializes a trace written by WriteToFile.
// If dict is empty the file whose name is given is read to acquire the bytes.
func ReadTraceManager(filename string, useYAML bool, dict []byte) (*TraceManager, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := TraceManager{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}
