package nsweep

// scenario.go turns one Configuration into the full declarative description of
// a single run.  BuildExperiment is a pure function of its inputs: it touches no
// engine and no global state, so the same Configuration always gives the same
// ExperimentDesc.

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// RadioCfg holds the radio settings that do not vary across a sweep
type RadioCfg struct {
	Standard      string  `json:"standard" yaml:"standard"`
	ControlMode   string  `json:"controlmode" yaml:"controlmode"`
	TxPowerDbm    float64 `json:"txpowerdbm" yaml:"txpowerdbm"`
	RxNoiseFigure float64 `json:"rxnoisefigure" yaml:"rxnoisefigure"`
	TxGainDb      float64 `json:"txgaindb" yaml:"txgaindb"`
	RxGainDb      float64 `json:"rxgaindb" yaml:"rxgaindb"`
	FrequencyHz   float64 `json:"frequencyhz" yaml:"frequencyhz"`
}

// Scenario describes the experiment that is run at every point of a sweep
type Scenario struct {
	// name of a registered layout, e.g. "hidden-terminal"
	Layout string `json:"layout" yaml:"layout"`

	// simulated run length, seconds
	Duration float64 `json:"duration" yaml:"duration"`

	// all measurement flows start this long after the run starts
	WarmUp float64 `json:"warmup" yaml:"warmup"`

	// measurement traffic
	PacketSize   int     `json:"packetsize" yaml:"packetsize"`
	FlowRate     float64 `json:"flowrate" yaml:"flowrate"`       // bits/sec of the first flow
	RateStagger  float64 `json:"ratestagger" yaml:"ratestagger"` // added to the rate of each following flow
	TrafficModel string  `json:"trafficmodel" yaml:"trafficmodel"`
	Port         int     `json:"port" yaml:"port"`

	// single-packet probes sent ahead of the measurement flows to settle address resolution
	Probes        bool    `json:"probes" yaml:"probes"`
	ProbePort     int     `json:"probeport" yaml:"probeport"`
	ProbeSize     int     `json:"probesize" yaml:"probesize"`
	ProbeStart    float64 `json:"probestart" yaml:"probestart"`
	ProbeStagger  float64 `json:"probestagger" yaml:"probestagger"`
	ProbeInterval float64 `json:"probeinterval" yaml:"probeinterval"`

	Radio RadioCfg `json:"radio" yaml:"radio"`
}

// DefaultScenario returns the two-pair hidden terminal experiment: 802.11a at
// 5 GHz, two saturating 1000 byte flows for 60 seconds after a 1 second warm-up,
// each preceded by an echo probe.
func DefaultScenario() Scenario {
	return Scenario{
		Layout:        "hidden-terminal",
		Duration:      60.0,
		WarmUp:        1.0,
		PacketSize:    1000,
		FlowRate:      54e6,
		RateStagger:   1100,
		TrafficModel:  ConstModel,
		Port:          12345,
		Probes:        true,
		ProbePort:     9,
		ProbeSize:     10,
		ProbeStart:    0.001,
		ProbeStagger:  0.005,
		ProbeInterval: 0.1,
		Radio: RadioCfg{
			Standard:      "80211a",
			ControlMode:   "OfdmRate6Mbps",
			TxPowerDbm:    15,
			RxNoiseFigure: 7,
			FrequencyHz:   5e9,
		},
	}
}

// Layout places nodes along the x axis and names the node pairs that carry measurement traffic
type Layout struct {
	// Gaps gives the distance from each node to the next; node i sits at the
	// sum of the gaps that precede it
	Gaps func(cfg Configuration) []float64

	// Pairs lists (src,dst) of the measurement flows, in install order
	Pairs [][2]int
}

var layouts = map[string]Layout{
	// 0 --d1-- 1 ... 2 --d1-- 3, with node 2 at d2
	"hidden-terminal": {
		Gaps:  func(cfg Configuration) []float64 { return []float64{cfg.Distance1, cfg.Distance2 - cfg.Distance1, cfg.Distance1} },
		Pairs: [][2]int{{0, 1}, {2, 3}},
	},
	// two senders on either side of a shared receiver
	"three-node": {
		Gaps:  func(cfg Configuration) []float64 { return []float64{cfg.Distance1, cfg.Distance2} },
		Pairs: [][2]int{{0, 1}, {2, 1}},
	},
	"pair": {
		Gaps:  func(cfg Configuration) []float64 { return []float64{cfg.Distance1} },
		Pairs: [][2]int{{0, 1}},
	},
	// the pair with an uplink and a downlink stream
	"pair-duplex": {
		Gaps:  func(cfg Configuration) []float64 { return []float64{cfg.Distance1} },
		Pairs: [][2]int{{0, 1}, {1, 0}},
	},
}

// LayoutNames lists the known layouts
func LayoutNames() []string {
	names := make([]string, 0, len(layouts))
	for name := range layouts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ExperimentDesc is everything an engine needs to execute one configuration
type ExperimentDesc struct {
	Config       Configuration  `json:"config" yaml:"config"`
	Nodes        int            `json:"nodes" yaml:"nodes"`
	Positions    []Vector       `json:"positions" yaml:"positions"`
	Radio        RadioParams    `json:"radio" yaml:"radio"`
	Defaults     EngineDefaults `json:"defaults" yaml:"defaults"`
	Flows        []FlowSpec     `json:"flows" yaml:"flows"`
	Duration     float64        `json:"duration" yaml:"duration"`
	MeasureStart float64        `json:"measurestart" yaml:"measurestart"`

	// Tags[k] is true when the flow installed k-th is a measurement flow.  The
	// engine numbers flows from 1 in install order, so flow id k+1 maps to Tags[k].
	Tags []bool `json:"tags" yaml:"tags"`
}

// Window is the measurement window over which throughput is normalized
func (ed *ExperimentDesc) Window() float64 {
	return ed.Duration - ed.MeasureStart
}

// BuildExperiment describes the run of scenario sc at configuration cfg
func BuildExperiment(cfg Configuration, sc Scenario) (*ExperimentDesc, error) {
	layout, present := layouts[sc.Layout]
	if !present {
		return nil, &ConfigurationError{Config: cfg,
			Reasons: []string{fmt.Sprintf("unknown layout %q (have %v)", sc.Layout, LayoutNames())}}
	}
	reasons := []string{}
	addReason := func(format string, args ...any) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	if len(cfg.DataMode) == 0 {
		cfg.DataMode = DefaultDataMode
	}

	ed := new(ExperimentDesc)
	ed.Config = cfg
	ed.Duration = sc.Duration
	ed.MeasureStart = sc.WarmUp
	ed.Defaults = DefaultsFor(cfg)
	ed.Radio = RadioParams{Standard: sc.Radio.Standard, DataMode: cfg.DataMode,
		ControlMode: sc.Radio.ControlMode, TxPowerDbm: sc.Radio.TxPowerDbm,
		RxNoiseFigure: sc.Radio.RxNoiseFigure, TxGainDb: sc.Radio.TxGainDb,
		RxGainDb: sc.Radio.RxGainDb, FrequencyHz: sc.Radio.FrequencyHz}

	// linear topology along x
	gaps := layout.Gaps(cfg)
	ed.Nodes = len(gaps) + 1
	ed.Positions = make([]Vector, 0, ed.Nodes)
	x := 0.0
	ed.Positions = append(ed.Positions, Vector{X: x})
	for idx, gap := range gaps {
		if gap < 0 {
			addReason("gap %d between nodes %d and %d is negative (%s)", idx, idx, idx+1, formatNum(gap))
		}
		x += gap
		if x < 0 {
			addReason("node %d position %s is negative", idx+1, formatNum(x))
		}
		ed.Positions = append(ed.Positions, Vector{X: x})
	}

	if sc.Duration <= 0 {
		addReason("duration %s is not positive", formatNum(sc.Duration))
	}
	if sc.WarmUp < 0 {
		addReason("warm-up %s is negative", formatNum(sc.WarmUp))
	}
	if sc.WarmUp >= sc.Duration {
		addReason("warm-up %s leaves no measurement window in %s", formatNum(sc.WarmUp), formatNum(sc.Duration))
	}
	if sc.PacketSize <= 0 {
		addReason("packet size %d is not positive", sc.PacketSize)
	}
	if sc.FlowRate <= 0 {
		addReason("flow rate %s is not positive", formatNum(sc.FlowRate))
	}

	model := sc.TrafficModel
	if len(model) == 0 {
		model = ConstModel
	}

	// probes are installed first, one ahead of each measurement pair
	if sc.Probes {
		for k, pair := range layout.Pairs {
			start := sc.ProbeStart + float64(k)*sc.ProbeStagger
			probe := FlowSpec{Name: fmt.Sprintf("probe-%d", k), Src: pair[0], Dst: pair[1],
				Protocol: "udp", Port: sc.ProbePort, PacketSize: sc.ProbeSize,
				Interval: sc.ProbeInterval, Model: ConstModel, MaxPackets: 1,
				Start: start, Stop: start + sc.ProbeInterval, Measurement: false}
			ed.Flows = append(ed.Flows, probe)
		}
	}
	for k, pair := range layout.Pairs {
		flow := FlowSpec{Name: fmt.Sprintf("flow-%d", k), Src: pair[0], Dst: pair[1],
			Protocol: "udp", Port: sc.Port, PacketSize: sc.PacketSize,
			Rate: sc.FlowRate + float64(k)*sc.RateStagger, Model: model,
			Start: sc.WarmUp, Stop: sc.Duration, Measurement: true}
		ed.Flows = append(ed.Flows, flow)
	}

	seen := make(map[string]int)
	ed.Tags = make([]bool, len(ed.Flows))
	for idx := range ed.Flows {
		flow := &ed.Flows[idx]
		flow.Order = idx
		ed.Tags[idx] = flow.Measurement

		if flow.Src < 0 || flow.Src >= ed.Nodes || flow.Dst < 0 || flow.Dst >= ed.Nodes {
			addReason("flow %s references a node outside 0..%d", flow.Name, ed.Nodes-1)
		}
		if flow.Src == flow.Dst {
			addReason("flow %s has the same source and destination", flow.Name)
		}
		if flow.Start < 0 || flow.Stop < 0 {
			addReason("flow %s has a negative start or stop time", flow.Name)
		}
		if flow.Stop < flow.Start {
			addReason("flow %s stops before it starts", flow.Name)
		}
		if !flow.Measurement {
			if flow.PacketSize <= 0 || !(flow.Interval > 0) {
				addReason("probe %s needs a positive size and interval", flow.Name)
			}
			if !(flow.Stop < sc.WarmUp) {
				addReason("probe %s ends at %s, not before measurement starts at %s",
					flow.Name, formatNum(flow.Stop), formatNum(sc.WarmUp))
			}
		}

		// two flows with one identity would be folded together by the engine's
		// classifier and the install-order mapping would no longer hold
		if prior, dup := seen[flow.identity()]; dup {
			addReason("flows %d and %d share identity %s", prior, idx, flow.identity())
		} else {
			seen[flow.identity()] = idx
		}
	}

	if len(reasons) > 0 {
		return nil, &ConfigurationError{Config: cfg, Reasons: reasons}
	}
	return ed, nil
}
