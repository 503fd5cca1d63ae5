package nsweep

// grid.go enumerates the configurations of a sweep.  A Grid is the Cartesian
// product of the distance axes, the PHY data modes and the RTS/CTS settings,
// filtered by an admissibility policy.  Enumeration is lazy and every call to
// Iter starts a fresh pass, so a Grid can be walked any number of times.

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"golang.org/x/exp/slices"
)

// DefaultDataMode is the PHY mode used when a sweep names none
const DefaultDataMode = "OfdmRate54Mbps"

// Configuration is one point of the swept parameter space
type Configuration struct {
	// position among the admissible configurations of its grid, from 0
	Index     int     `json:"index" yaml:"index"`
	Distance1 float64 `json:"distance1" yaml:"distance1"`
	Distance2 float64 `json:"distance2" yaml:"distance2"`
	DataMode  string  `json:"datamode" yaml:"datamode"`
	RtsCts    bool    `json:"rtscts" yaml:"rtscts"`
}

func (cfg Configuration) String() string {
	return fmt.Sprintf("#%d d1=%s d2=%s mode=%s rtscts=%t", cfg.Index,
		formatNum(cfg.Distance1), formatNum(cfg.Distance2), cfg.DataMode, cfg.RtsCts)
}

// ParamSeq describes an ordered sequence of numeric parameter values, either
// by listing them or as the inclusive range Start, Start+Step, ..., Stop
type ParamSeq struct {
	Values []float64 `json:"values,omitempty" yaml:"values,omitempty"`
	Start  float64   `json:"start,omitempty" yaml:"start,omitempty"`
	Stop   float64   `json:"stop,omitempty" yaml:"stop,omitempty"`
	Step   float64   `json:"step,omitempty" yaml:"step,omitempty"`
}

// Seq is a convenience constructor for a listed sequence
func Seq(values ...float64) ParamSeq {
	return ParamSeq{Values: values}
}

// Range is a convenience constructor for a stepped sequence
func Range(start, stop, step float64) ParamSeq {
	return ParamSeq{Start: start, Stop: stop, Step: step}
}

// gridDigits bounds the decimal digits kept when stepping through a range,
// so that 1000 + 37*10 comes out as 1370 and not 1369.9999999
const gridDigits uint = 9

// Expand returns the values of the sequence in order
func (ps ParamSeq) Expand() ([]float64, error) {
	if len(ps.Values) > 0 {
		vals := make([]float64, len(ps.Values))
		copy(vals, ps.Values)
		return vals, nil
	}
	if !(ps.Step > 0) {
		return nil, fmt.Errorf("range %s:%s needs a positive step", formatNum(ps.Start), formatNum(ps.Stop))
	}
	if ps.Stop < ps.Start {
		return nil, fmt.Errorf("range stop %s precedes start %s", formatNum(ps.Stop), formatNum(ps.Start))
	}

	// a stop that lies within rounding error of a step is included
	steps := int(math.Floor((ps.Stop-ps.Start)/ps.Step + 1e-9))
	vals := make([]float64, 0, steps+1)
	for idx := 0; idx <= steps; idx++ {
		vals = append(vals, roundFloat(ps.Start+float64(idx)*ps.Step, gridDigits))
	}
	return vals, nil
}

// Admissibility decides whether a configuration is run at all
type Admissibility func(Configuration) bool

var (
	policyLock sync.RWMutex
	policies   = map[string]Admissibility{
		// nested topology, the inner gap never exceeds the outer one
		"pair-ordered": func(cfg Configuration) bool { return cfg.Distance1 <= cfg.Distance2 },

		// mirrored topology, both gaps are the same
		"mirrored": func(cfg Configuration) bool { return cfg.Distance1 == cfg.Distance2 },

		"all": func(cfg Configuration) bool { return true },
	}
)

// RegisterPolicy makes an admissibility predicate available under a name.
// Registering an existing name replaces it.
func RegisterPolicy(name string, admit Admissibility) error {
	if len(name) == 0 || admit == nil {
		return errors.New("policy needs a name and a predicate")
	}
	policyLock.Lock()
	defer policyLock.Unlock()
	policies[name] = admit
	return nil
}

// LookupPolicy returns the predicate registered under name
func LookupPolicy(name string) (Admissibility, error) {
	policyLock.RLock()
	defer policyLock.RUnlock()
	admit, present := policies[name]
	if !present {
		return nil, fmt.Errorf("admissibility policy %q not registered (have %v)", name, policyNamesLocked())
	}
	return admit, nil
}

// PolicyNames lists the registered policies in sorted order
func PolicyNames() []string {
	policyLock.RLock()
	defer policyLock.RUnlock()
	return policyNamesLocked()
}

func policyNamesLocked() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Column names for the configuration part of a result line
const (
	ColDistance1 = "distance1"
	ColDistance2 = "distance2"
	ColDataMode  = "datamode"
	ColRtsCts    = "rtscts"
)

// Grid is a filtered Cartesian product of sweep axes
type Grid struct {
	d1     []float64
	d2     []float64
	modes  []string
	rtsCts []bool
	admit  Admissibility
}

// NewGrid builds a grid.  An empty mode list means DefaultDataMode alone, an
// empty RTS/CTS list means the handshake stays off.
func NewGrid(d1, d2 ParamSeq, modes []string, rtsCts []bool, admit Admissibility) (*Grid, error) {
	if admit == nil {
		return nil, errors.New("grid needs an admissibility policy")
	}
	d1Vals, err1 := d1.Expand()
	d2Vals, err2 := d2.Expand()
	if err := ReportErrs([]error{err1, err2}); err != nil {
		return nil, err
	}

	g := &Grid{d1: d1Vals, d2: d2Vals, admit: admit}
	if len(modes) == 0 {
		g.modes = []string{DefaultDataMode}
	} else {
		g.modes = append([]string{}, modes...)
	}
	if len(rtsCts) == 0 {
		g.rtsCts = []bool{false}
	} else {
		g.rtsCts = append([]bool{}, rtsCts...)
	}
	return g, nil
}

// size of the unfiltered product
func (g *Grid) size() int {
	return len(g.d1) * len(g.d2) * len(g.modes) * len(g.rtsCts)
}

// Count is the number of admissible configurations
func (g *Grid) Count() int {
	cnt := 0
	it := g.Iter()
	for _, ok := it.Next(); ok; _, ok = it.Next() {
		cnt += 1
	}
	return cnt
}

// Columns names the configuration fields written ahead of the metrics on a
// result line.  The distances are always present; the mode and handshake
// columns appear only when the sweep varies them.
func (g *Grid) Columns() []string {
	cols := []string{ColDistance1, ColDistance2}
	if len(g.modes) > 1 {
		cols = append(cols, ColDataMode)
	}
	if len(g.rtsCts) > 1 {
		cols = append(cols, ColRtsCts)
	}
	return cols
}

// Iter starts a new pass over the grid
func (g *Grid) Iter() *GridIter {
	return &GridIter{grid: g}
}

// GridIter walks one pass over a Grid.  The distance1 axis varies slowest,
// the RTS/CTS axis fastest.
type GridIter struct {
	grid    *Grid
	pos     int
	emitted int
}

// Next returns the next admissible configuration, and false once the grid is exhausted
func (it *GridIter) Next() (Configuration, bool) {
	g := it.grid
	total := g.size()
	for it.pos < total {
		p := it.pos
		it.pos += 1

		ir := p % len(g.rtsCts)
		p /= len(g.rtsCts)
		im := p % len(g.modes)
		p /= len(g.modes)
		i2 := p % len(g.d2)
		i1 := p / len(g.d2)

		cfg := Configuration{Distance1: g.d1[i1], Distance2: g.d2[i2],
			DataMode: g.modes[im], RtsCts: g.rtsCts[ir]}
		if !g.admit(cfg) {
			continue
		}
		cfg.Index = it.emitted
		it.emitted += 1
		return cfg, true
	}
	return Configuration{}, false
}

// Reset rewinds the iterator to the start of the grid
func (it *GridIter) Reset() {
	it.pos = 0
	it.emitted = 0
}

// formatNum gives the shortest decimal text that reads back to the same float64
func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
