package nsweep

// desc-sweep.go holds the serializable description of a sweep: the parameter
// axes, the admissibility policy, the scenario and the engine that runs it.
// Descriptions are stored as YAML or JSON, chosen by file extension.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// kinds of engine a sweep can run on
const (
	ReferenceEngine = "reference"
	NS3EngineKind   = "ns3"
)

// EngineCfg selects and parameterizes the engine
type EngineCfg struct {
	Kind string `json:"kind" yaml:"kind"`

	// ns-3 scenario program and leading arguments
	Program string   `json:"program,omitempty" yaml:"program,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	WorkDir string   `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Keep    bool     `json:"keep,omitempty" yaml:"keep,omitempty"`

	// random stream base for either engine
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// reference engine
	QueueLimit int `json:"queuelimit,omitempty" yaml:"queuelimit,omitempty"`
}

// SweepCfg is the complete description of a sweep
type SweepCfg struct {
	Name      string    `json:"name" yaml:"name"`
	Policy    string    `json:"policy" yaml:"policy"`
	Distance1 ParamSeq  `json:"distance1" yaml:"distance1"`
	Distance2 ParamSeq  `json:"distance2" yaml:"distance2"`
	DataModes []string  `json:"datamodes,omitempty" yaml:"datamodes,omitempty"`
	RtsCts    []bool    `json:"rtscts,omitempty" yaml:"rtscts,omitempty"`
	Scenario  Scenario  `json:"scenario" yaml:"scenario"`
	Engine    EngineCfg `json:"engine" yaml:"engine"`
	Output    string    `json:"output" yaml:"output"`
	DB        string    `json:"db,omitempty" yaml:"db,omitempty"`
	OnError   string    `json:"onerror,omitempty" yaml:"onerror,omitempty"`
	Workers   int       `json:"workers,omitempty" yaml:"workers,omitempty"`
	Retries   int       `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// CreateSweepCfg is an initialization constructor.  The scenario starts out as
// DefaultScenario and the engine as the reference engine.
func CreateSweepCfg(name string) *SweepCfg {
	sc := new(SweepCfg)
	sc.Name = name
	sc.Policy = "pair-ordered"
	sc.Scenario = DefaultScenario()
	sc.Engine = EngineCfg{Kind: ReferenceEngine}
	sc.OnError = string(SkipFailures)
	return sc
}

// WriteToFile stores the SweepCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sc *SweepCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*sc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*sc, "", "\t")
	} else {
		return fmt.Errorf("sweep file %s needs a .yaml or .json extension", filename)
	}

	if merr != nil {
		return merr
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return cerr
	}
	_, werr := f.Write(bytes)
	if werr != nil {
		f.Close()
		return werr
	}
	return f.Close()
}

// ReadSweepCfg deserializes a byte slice holding a representation of a SweepCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  Fields absent from the representation keep the values
// CreateSweepCfg gives them.
func ReadSweepCfg(filename string, useYAML bool, dict []byte) (*SweepCfg, error) {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := CreateSweepCfg("")

	if useYAML {
		err = yaml.Unmarshal(dict, example)
	} else {
		err = json.Unmarshal(dict, example)
	}

	if err != nil {
		return nil, err
	}

	return example, nil
}

// IsYAML says whether a file name carries a YAML extension
func IsYAML(filename string) bool {
	ext := strings.ToLower(path.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// Validate reports every problem with the description at once
func (sc *SweepCfg) Validate() error {
	errs := []error{}
	if _, err := LookupPolicy(sc.Policy); err != nil {
		errs = append(errs, err)
	}
	if _, err := sc.Distance1.Expand(); err != nil {
		errs = append(errs, fmt.Errorf("distance1: %w", err))
	}
	if _, err := sc.Distance2.Expand(); err != nil {
		errs = append(errs, fmt.Errorf("distance2: %w", err))
	}
	if !slices.Contains(LayoutNames(), sc.Scenario.Layout) {
		errs = append(errs, fmt.Errorf("layout %q unknown", sc.Scenario.Layout))
	}
	if _, err := ParseFailurePolicy(sc.OnError); err != nil {
		errs = append(errs, err)
	}
	if sc.Workers < 0 || sc.Retries < 0 {
		errs = append(errs, errors.New("workers and retries may not be negative"))
	}
	switch sc.Engine.Kind {
	case ReferenceEngine:
		for _, mode := range sc.DataModes {
			if _, err := ModeRate(mode); err != nil {
				errs = append(errs, err)
			}
		}
	case NS3EngineKind:
		if len(sc.Engine.Program) == 0 {
			errs = append(errs, errors.New("ns3 engine needs a program"))
		}
	default:
		errs = append(errs, fmt.Errorf("engine kind %q is neither %s nor %s", sc.Engine.Kind, ReferenceEngine, NS3EngineKind))
	}
	return ReportErrs(errs)
}

// BuildGrid makes the configuration grid the description declares
func (sc *SweepCfg) BuildGrid() (*Grid, error) {
	admit, err := LookupPolicy(sc.Policy)
	if err != nil {
		return nil, err
	}
	return NewGrid(sc.Distance1, sc.Distance2, sc.DataModes, sc.RtsCts, admit)
}

// EngineFactory returns the factory for the engine the description selects
func (sc *SweepCfg) EngineFactory() (EngineFactory, error) {
	switch sc.Engine.Kind {
	case ReferenceEngine:
		opts := RefEngineOpts{QueueLimit: sc.Engine.QueueLimit, Seed: sc.Engine.Seed}
		return RefEngineFactory(opts), nil
	case NS3EngineKind:
		opts := NS3Opts{Program: sc.Engine.Program, Args: sc.Engine.Args,
			WorkDir: sc.Engine.WorkDir, Keep: sc.Engine.Keep, Seed: sc.Engine.Seed}
		return NS3Factory(opts), nil
	}
	return nil, fmt.Errorf("engine kind %q unknown", sc.Engine.Kind)
}

// CheckDirectories probes the file system for the existence
// of every directory listed in the list of files.  Returns a boolean
// indicating whether all dirs are valid, and returns an aggregated error
// if any checks failed.
func CheckDirectories(dirs []string) (bool, error) {
	failures := []error{}

	// for every offered (non-empty) directory
	for _, dir := range dirs {
		if len(dir) == 0 {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s not reachable", dir))
			continue
		}
		if !info.IsDir() {
			failures = append(failures, fmt.Errorf("%s not a directory", dir))
		}
	}
	if len(failures) == 0 {
		return true, nil
	}
	return false, ReportErrs(failures)
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that every
// argument filename can be written.
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for permitted access to all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		// skip empty names
		if len(name) == 0 {
			continue
		}

		// the directory portion of the path must exist
		directory, _ := filepath.Split(name)
		if len(directory) > 0 {
			if _, err := os.Stat(directory); err != nil {
				errs = append(errs, err)
				continue
			}
		}

		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}
	return false, ReportErrs(errs)
}
