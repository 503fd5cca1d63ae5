package nsweep

// engine-ns3.go adapts an external ns-3 scenario program to the Engine
// interface.  Declarations are gathered into a run description which is written
// as YAML; Run starts the program with
//
//	<program> <args...> --desc=<run.yaml> --flowmon=<flowmon.xml> --duration=<seconds>
//
// and waits for it.  The program is expected to build the described nodes and
// flows, install a FlowMonitor, and serialize it to the --flowmon path.  Node i
// is given address 10.0.0.(i+1).

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NS3Opts locates the scenario program
type NS3Opts struct {
	Program string   `json:"program" yaml:"program"`
	Args    []string `json:"args" yaml:"args"`

	// parent directory for per-run files; empty means the system temp directory
	WorkDir string `json:"workdir" yaml:"workdir"`

	// leave the per-run files in place after Destroy
	Keep bool `json:"keep" yaml:"keep"`

	// handed to the program with the run number for RngSeedManager
	Seed uint64 `json:"seed" yaml:"seed"`
}

// NS3Factory returns a factory of ns-3 engines
func NS3Factory(opts NS3Opts) EngineFactory {
	return func(defaults EngineDefaults) (Engine, error) {
		if len(opts.Program) == 0 {
			return nil, errors.New("ns-3 engine needs a program")
		}
		ne := new(NS3Engine)
		ne.opts = opts
		ne.desc.Defaults = defaults
		ne.desc.Seed = opts.Seed
		return ne, nil
	}
}

// ns3RunDesc is the run description handed to the scenario program
type ns3RunDesc struct {
	Seed      uint64         `yaml:"seed"`
	Defaults  EngineDefaults `yaml:"defaults"`
	Nodes     int            `yaml:"nodes"`
	Addresses []string       `yaml:"addresses"`
	Positions []Vector       `yaml:"positions"`
	Radio     RadioParams    `yaml:"radio"`
	Flows     []FlowSpec     `yaml:"flows"`
	Duration  float64        `yaml:"duration"`
}

// NS3Engine runs one experiment in an ns-3 process
type NS3Engine struct {
	opts NS3Opts
	desc ns3RunDesc

	runDir      string
	descFile    string
	flowmonFile string
	output      []byte

	ran       bool
	destroyed bool
}

// NodeAddress is the IPv4 address the scenario program gives node id
func NodeAddress(id int) string {
	return fmt.Sprintf("10.0.0.%d", id+1)
}

// CreateNodes records the node count
func (ne *NS3Engine) CreateNodes(count int) (NodeSet, error) {
	if ne.destroyed {
		return nil, errDestroyed
	}
	if count < 1 || count > 253 {
		return nil, fmt.Errorf("cannot address %d nodes in 10.0.0.0/24", count)
	}
	ne.desc.Nodes = count
	nodes := make(NodeSet, count)
	ne.desc.Addresses = make([]string, count)
	for id := range nodes {
		nodes[id] = id
		ne.desc.Addresses[id] = NodeAddress(id)
	}
	return nodes, nil
}

// InstallMobility records the node positions
func (ne *NS3Engine) InstallMobility(nodes NodeSet, positions []Vector) error {
	if ne.destroyed {
		return errDestroyed
	}
	if len(positions) != ne.desc.Nodes {
		return fmt.Errorf("%d positions for %d nodes", len(positions), ne.desc.Nodes)
	}
	ne.desc.Positions = append([]Vector{}, positions...)
	return nil
}

// InstallRadioAndNetwork records the radio settings
func (ne *NS3Engine) InstallRadioAndNetwork(nodes NodeSet, radio RadioParams) (DeviceSet, error) {
	if ne.destroyed {
		return nil, errDestroyed
	}
	ne.desc.Radio = radio
	devices := make(DeviceSet, len(nodes))
	copy(devices, nodes)
	return devices, nil
}

// InstallFlow appends a flow; the scenario program installs them in this order
func (ne *NS3Engine) InstallFlow(flow FlowSpec) error {
	if ne.destroyed {
		return errDestroyed
	}
	if flow.Src < 0 || flow.Src >= ne.desc.Nodes || flow.Dst < 0 || flow.Dst >= ne.desc.Nodes {
		return fmt.Errorf("flow %s references a node outside 0..%d", flow.Name, ne.desc.Nodes-1)
	}
	if _, err := protocolNumber(flow.Protocol); err != nil {
		return err
	}
	ne.desc.Flows = append(ne.desc.Flows, flow)
	return nil
}

// Run writes the run description and executes the scenario program
func (ne *NS3Engine) Run(duration float64) error {
	switch {
	case ne.destroyed:
		return errDestroyed
	case ne.ran:
		return errors.New("engine already ran")
	case !(duration > 0):
		return fmt.Errorf("duration %s is not positive", formatNum(duration))
	}
	ne.desc.Duration = duration

	var err error
	ne.runDir, err = os.MkdirTemp(ne.opts.WorkDir, "nsweep-run-")
	if err != nil {
		return err
	}
	ne.descFile = filepath.Join(ne.runDir, "run.yaml")
	ne.flowmonFile = filepath.Join(ne.runDir, "flowmon.xml")

	bytes, err := yaml.Marshal(ne.desc)
	if err != nil {
		return err
	}
	if err = os.WriteFile(ne.descFile, bytes, 0o644); err != nil {
		return err
	}

	args := append(append([]string{}, ne.opts.Args...),
		"--desc="+ne.descFile, "--flowmon="+ne.flowmonFile, "--duration="+formatNum(duration))
	cmd := exec.Command(ne.opts.Program, args...)
	ne.output, err = cmd.CombinedOutput()
	ne.ran = true
	if err != nil {
		return fmt.Errorf("%s: %w: %s", ne.opts.Program, err, lastLines(ne.output, 5))
	}
	return nil
}

// FlowStatistics reads the FlowMonitor output of the run
func (ne *NS3Engine) FlowStatistics() (map[int]FlowRecord, error) {
	if ne.destroyed {
		return nil, errDestroyed
	}
	if !ne.ran {
		return nil, errors.New("no statistics before run")
	}
	data, err := os.ReadFile(ne.flowmonFile)
	if err != nil {
		return nil, err
	}
	return ParseFlowMonitor(data, ne.desc.Flows)
}

// Destroy removes the run files unless they are to be kept
func (ne *NS3Engine) Destroy() error {
	if ne.destroyed {
		return nil
	}
	ne.destroyed = true
	if ne.opts.Keep || len(ne.runDir) == 0 {
		return nil
	}
	return os.RemoveAll(ne.runDir)
}

// RunDir is the directory holding the files of the run, empty before Run
func (ne *NS3Engine) RunDir() string {
	return ne.runDir
}

func lastLines(output []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

func protocolNumber(protocol string) (int, error) {
	switch strings.ToLower(protocol) {
	case "udp", "":
		return 17, nil
	case "tcp":
		return 6, nil
	}
	return 0, fmt.Errorf("protocol %q not supported", protocol)
}

// FlowMonitor serialization, the parts we read
type flowMonitorXML struct {
	XMLName xml.Name       `xml:"FlowMonitor"`
	Stats   []flowStatXML  `xml:"FlowStats>Flow"`
	Classes []flowClassXML `xml:"Ipv4FlowClassifier>Flow"`
}

type flowStatXML struct {
	FlowID      int    `xml:"flowId,attr"`
	TxBytes     uint64 `xml:"txBytes,attr"`
	RxBytes     uint64 `xml:"rxBytes,attr"`
	TxPackets   uint64 `xml:"txPackets,attr"`
	RxPackets   uint64 `xml:"rxPackets,attr"`
	LostPackets uint64 `xml:"lostPackets,attr"`
	DelaySum    string `xml:"delaySum,attr"`
}

type flowClassXML struct {
	FlowID   int    `xml:"flowId,attr"`
	Src      string `xml:"sourceAddress,attr"`
	Dst      string `xml:"destinationAddress,attr"`
	Protocol int    `xml:"protocol,attr"`
	SrcPort  int    `xml:"sourcePort,attr"`
	DstPort  int    `xml:"destinationPort,attr"`
}

func classKey(src, dst string, protocol, dstPort int) string {
	return fmt.Sprintf("%s>%s/%d:%d", src, dst, protocol, dstPort)
}

// ParseFlowMonitor turns FlowMonitor XML into flow records numbered by install
// order.  Each classified flow is matched to the installed flow with the same
// addresses, protocol and destination port; flows that match nothing installed,
// such as echo replies, are dropped.  ns-3 flows that match the same installed
// flow are summed.
func ParseFlowMonitor(data []byte, flows []FlowSpec) (map[int]FlowRecord, error) {
	fm := flowMonitorXML{}
	if err := xml.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("flow monitor: %w", err)
	}

	installed := make(map[string]int)
	for idx, flow := range flows {
		proto, err := protocolNumber(flow.Protocol)
		if err != nil {
			return nil, err
		}
		installed[classKey(NodeAddress(flow.Src), NodeAddress(flow.Dst), proto, flow.Port)] = idx
	}
	classes := make(map[int]flowClassXML)
	for _, class := range fm.Classes {
		classes[class.FlowID] = class
	}

	records := make(map[int]FlowRecord)
	for _, stat := range fm.Stats {
		class, present := classes[stat.FlowID]
		if !present {
			return nil, fmt.Errorf("flow monitor flow %d has no classifier entry", stat.FlowID)
		}
		idx, present := installed[classKey(class.Src, class.Dst, class.Protocol, class.DstPort)]
		if !present {
			continue
		}
		delay, err := parseNS3Time(stat.DelaySum)
		if err != nil {
			return nil, fmt.Errorf("flow monitor flow %d delaySum: %w", stat.FlowID, err)
		}

		rec := records[idx+1]
		rec.FlowID = idx + 1
		rec.TxBytes += stat.TxBytes
		rec.RxBytes += stat.RxBytes
		rec.TxPackets += stat.TxPackets
		rec.RxPackets += stat.RxPackets
		rec.LostPackets += stat.LostPackets
		rec.DelaySum += delay
		records[idx+1] = rec
	}
	return records, nil
}

// ns-3 time units, longest suffix first
var ns3Units = []struct {
	suffix  string
	seconds float64
}{
	{"min", 60}, {"fs", 1e-15}, {"ps", 1e-12}, {"ns", 1e-9}, {"us", 1e-6}, {"ms", 1e-3}, {"h", 3600}, {"s", 1},
}

// parseNS3Time reads an ns-3 time such as "+1.5e+06ns" as seconds.  A bare
// number is taken to be nanoseconds.
func parseNS3Time(text string) (float64, error) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "+")
	if len(text) == 0 {
		return 0, nil
	}
	scale := 1e-9
	for _, unit := range ns3Units {
		if strings.HasSuffix(text, unit.suffix) {
			text = strings.TrimSuffix(text, unit.suffix)
			scale = unit.seconds
			break
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	return v * scale, nil
}
