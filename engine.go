package nsweep

// engine.go declares the boundary between the sweep driver and the simulation
// engine that executes one experiment.  The driver only ever talks to an Engine
// through these methods, and asks an EngineFactory for a fresh Engine for each run.

import (
	"fmt"
	"strconv"
	"strings"
)

// Vector is a position in meters
type Vector struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// NodeSet holds the engine's identifiers of the nodes it created, in creation order
type NodeSet []int

// DeviceSet holds the engine's identifiers of the radio devices, one per node
type DeviceSet []int

// RadioParams carries the PHY/channel settings installed on every node
type RadioParams struct {
	Standard      string  `json:"standard" yaml:"standard"`
	DataMode      string  `json:"datamode" yaml:"datamode"`
	ControlMode   string  `json:"controlmode" yaml:"controlmode"`
	TxPowerDbm    float64 `json:"txpowerdbm" yaml:"txpowerdbm"`
	RxNoiseFigure float64 `json:"rxnoisefigure" yaml:"rxnoisefigure"`
	TxGainDb      float64 `json:"txgaindb" yaml:"txgaindb"`
	RxGainDb      float64 `json:"rxgaindb" yaml:"rxgaindb"`
	FrequencyHz   float64 `json:"frequencyhz" yaml:"frequencyhz"`
}

// EngineDefaults are the per-run engine settings that an engine would otherwise
// hold in a process-wide default table.  A fresh value is handed to every
// EngineFactory call.
type EngineDefaults struct {
	RtsCtsThreshold        int    `json:"rtsctsthreshold" yaml:"rtsctsthreshold"`
	FragmentationThreshold int    `json:"fragmentationthreshold" yaml:"fragmentationthreshold"`
	NonUnicastMode         string `json:"nonunicastmode" yaml:"nonunicastmode"`

	// run number within the sweep; together with the engine seed it selects
	// the random streams, as ns-3's RngRun does
	Run int `json:"run" yaml:"run"`
}

// handshake thresholds in bytes. A packet larger than the threshold is
// preceded by an RTS/CTS exchange, so the disabled value exceeds any frame we send.
const (
	RtsCtsOnThreshold  = 100
	RtsCtsOffThreshold = 2200
	FragmentationOff   = 2200
)

// DefaultsFor derives the engine defaults implied by a configuration
func DefaultsFor(cfg Configuration) EngineDefaults {
	ed := EngineDefaults{RtsCtsThreshold: RtsCtsOffThreshold,
		FragmentationThreshold: FragmentationOff, NonUnicastMode: cfg.DataMode, Run: cfg.Index}
	if cfg.RtsCts {
		ed.RtsCtsThreshold = RtsCtsOnThreshold
	}
	return ed
}

// traffic inter-arrival models
const (
	ConstModel = "const"
	ExponModel = "expon"
)

// FlowSpec is one traffic flow to install.  Src and Dst index the node set.
type FlowSpec struct {
	Order       int     `json:"order" yaml:"order"`
	Name        string  `json:"name" yaml:"name"`
	Src         int     `json:"src" yaml:"src"`
	Dst         int     `json:"dst" yaml:"dst"`
	Protocol    string  `json:"protocol" yaml:"protocol"`
	Port        int     `json:"port" yaml:"port"`
	PacketSize  int     `json:"packetsize" yaml:"packetsize"`
	Rate        float64 `json:"rate" yaml:"rate"`         // bits per second, when Interval is zero
	Interval    float64 `json:"interval" yaml:"interval"` // seconds between packets
	Model       string  `json:"model" yaml:"model"`
	MaxPackets  int     `json:"maxpackets" yaml:"maxpackets"` // 0 means no limit
	Start       float64 `json:"start" yaml:"start"`
	Stop        float64 `json:"stop" yaml:"stop"`
	Measurement bool    `json:"measurement" yaml:"measurement"`
}

// PacketInterval returns the mean time between packets of the flow
func (fs FlowSpec) PacketInterval() float64 {
	if fs.Interval > 0 {
		return fs.Interval
	}
	if fs.Rate > 0 {
		return float64(8*fs.PacketSize) / fs.Rate
	}
	return 0.0
}

// identity is what an engine's flow classifier keys a flow on
func (fs FlowSpec) identity() string {
	return fmt.Sprintf("%s:%d>%d:%d", fs.Protocol, fs.Src, fs.Dst, fs.Port)
}

// FlowRecord is the engine's counter snapshot for one flow at the end of a run
type FlowRecord struct {
	FlowID      int     `json:"flowid" yaml:"flowid"`
	TxBytes     uint64  `json:"txbytes" yaml:"txbytes"`
	RxBytes     uint64  `json:"rxbytes" yaml:"rxbytes"`
	TxPackets   uint64  `json:"txpackets" yaml:"txpackets"`
	RxPackets   uint64  `json:"rxpackets" yaml:"rxpackets"`
	DelaySum    float64 `json:"delaysum" yaml:"delaysum"` // seconds
	LostPackets uint64  `json:"lostpackets" yaml:"lostpackets"`
}

// Engine is one instance of a simulation engine, good for a single run.
// InstallFlow assigns flow identifiers 1, 2, ... in call order.
type Engine interface {
	CreateNodes(count int) (NodeSet, error)
	InstallMobility(nodes NodeSet, positions []Vector) error
	InstallRadioAndNetwork(nodes NodeSet, radio RadioParams) (DeviceSet, error)
	InstallFlow(flow FlowSpec) error
	Run(duration float64) error
	FlowStatistics() (map[int]FlowRecord, error)
	Destroy() error
}

// EngineFactory builds an engine configured with the given defaults
type EngineFactory func(defaults EngineDefaults) (Engine, error)

// ofdmMinSnr lists, by 802.11a data rate in Mbps, the signal to noise ratio in dB
// at which a 1000 byte frame is taken to be received
var ofdmMinSnr = map[int]float64{6: 3, 9: 5, 12: 6, 18: 9, 24: 12, 36: 15, 48: 19, 54: 20}

// ModeRate extracts the bit rate, in bits per second, from an OFDM mode name
// such as OfdmRate54Mbps
func ModeRate(mode string) (float64, error) {
	if !strings.HasPrefix(mode, "OfdmRate") || !strings.HasSuffix(mode, "Mbps") {
		return 0, fmt.Errorf("mode %q is not an OfdmRate<n>Mbps name", mode)
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(mode, "OfdmRate"), "Mbps")
	mbps, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("mode %q: %w", mode, err)
	}
	if _, present := ofdmMinSnr[mbps]; !present {
		return 0, fmt.Errorf("mode %q is not an 802.11a rate", mode)
	}
	return float64(mbps) * 1e6, nil
}
