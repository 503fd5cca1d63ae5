package nsweep

// engine-des.go is an in-process Engine built on the evt discrete-event
// manager.  It is deliberately coarse: nodes reach each other according to
// free-space received power, senders that can sense each other (or, with
// the RTS/CTS handshake, each other's receivers) share a first-come
// first-served medium, and a frame is lost when transmissions from outside
// its sender's domain push its SINR below what its data rate needs.  It lets a
// sweep run end to end without an external simulator.

import (
	"errors"
	"fmt"

	"github.com/iti/evt/evtm"
)

// 802.11a OFDM timing, seconds, and frame overheads, bytes
const (
	slotTime     = 9e-6
	sifsTime     = 16e-6
	difsTime     = sifsTime + 2*slotTime
	phyPreamble  = 20e-6
	cwMin        = 15
	macOverhead  = 36 // MAC header, FCS and LLC/SNAP
	udpIPHeaders = 28
	ackBytes     = 14
	rtsBytes     = 20
	ctsBytes     = 14
)

// frames whose transmission ended this long ago can no longer overlap a new one
const airHorizon = 0.5

// RefEngineOpts tunes the reference engine
type RefEngineOpts struct {
	// frames a sender may hold, 0 gives 100
	QueueLimit int `json:"queuelimit" yaml:"queuelimit"`

	// base of every node's random stream; with the run number it fixes the draws
	Seed uint64 `json:"seed" yaml:"seed"`
}

// RefEngineFactory returns a factory that builds reference engines
func RefEngineFactory(opts RefEngineOpts) EngineFactory {
	return func(defaults EngineDefaults) (Engine, error) {
		return CreateRefEngine(defaults, opts), nil
	}
}

// airFrame is a data frame on the air, between start and end
type airFrame struct {
	src   int
	pkt   *frame
	lead  float64 // medium time before the data part begins
	data  float64 // duration of the data part
	start float64
	end   float64
}

// RefEngine is the reference implementation of Engine
type RefEngine struct {
	defaults EngineDefaults
	opts     RefEngineOpts
	evtMgr   *evtm.EventManager

	nodes     NodeSet
	positions []Vector
	radio     *RadioParams
	radioMap  *radioMap
	dataRate  float64
	ctrlRate  float64
	minSnr    float64

	sources  []*trafficSource
	queues   []*txQueue
	domainOf map[int]int
	media    map[int]*MediumScheduler
	onAir    []*airFrame

	ran       bool
	destroyed bool
}

// CreateRefEngine is a constructor
func CreateRefEngine(defaults EngineDefaults, opts RefEngineOpts) *RefEngine {
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = 100
	}
	re := new(RefEngine)
	re.defaults = defaults
	re.opts = opts
	re.evtMgr = evtm.New()
	re.sources = make([]*trafficSource, 0)
	re.onAir = make([]*airFrame, 0)
	return re
}

var errDestroyed = errors.New("engine already destroyed")

// CreateNodes makes count nodes, numbered from 0
func (re *RefEngine) CreateNodes(count int) (NodeSet, error) {
	switch {
	case re.destroyed:
		return nil, errDestroyed
	case re.nodes != nil:
		return nil, errors.New("nodes already created")
	case count < 1:
		return nil, fmt.Errorf("cannot create %d nodes", count)
	}
	re.nodes = make(NodeSet, count)
	re.queues = make([]*txQueue, count)
	for id := range re.nodes {
		re.nodes[id] = id
		re.queues[id] = createTxQueue(re.opts.QueueLimit, nodeStream(re.opts.Seed, re.defaults.Run, id))
	}
	return re.nodes, nil
}

// InstallMobility fixes node positions, one per node
func (re *RefEngine) InstallMobility(nodes NodeSet, positions []Vector) error {
	if re.destroyed {
		return errDestroyed
	}
	if len(nodes) != len(re.nodes) || len(positions) != len(re.nodes) {
		return fmt.Errorf("%d positions for %d nodes", len(positions), len(re.nodes))
	}
	re.positions = append([]Vector{}, positions...)
	return nil
}

// InstallRadioAndNetwork installs the same radio on every node
func (re *RefEngine) InstallRadioAndNetwork(nodes NodeSet, radio RadioParams) (DeviceSet, error) {
	if re.destroyed {
		return nil, errDestroyed
	}
	if re.positions == nil {
		return nil, errors.New("radio installed before mobility")
	}
	dataRate, derr := ModeRate(radio.DataMode)
	controlMode := radio.ControlMode
	if len(controlMode) == 0 {
		controlMode = "OfdmRate6Mbps"
	}
	ctrlRate, cerr := ModeRate(controlMode)
	var ferr error
	if !(radio.FrequencyHz > 0) {
		ferr = fmt.Errorf("frequency %s is not positive", formatNum(radio.FrequencyHz))
	}
	if err := ReportErrs([]error{derr, cerr, ferr}); err != nil {
		return nil, err
	}

	re.radio = &radio
	re.dataRate = dataRate
	re.ctrlRate = ctrlRate
	re.minSnr = ofdmMinSnr[int(dataRate/1e6)]
	re.radioMap = createRadioMap(re.positions, radio)

	devices := make(DeviceSet, len(nodes))
	copy(devices, nodes)
	return devices, nil
}

// InstallFlow adds a traffic source; its identifier is its install position plus one
func (re *RefEngine) InstallFlow(flow FlowSpec) error {
	if re.destroyed {
		return errDestroyed
	}
	if re.radio == nil {
		return errors.New("flow installed before radio")
	}
	if re.ran {
		return errors.New("flow installed after run")
	}
	n := len(re.nodes)
	if flow.Src < 0 || flow.Src >= n || flow.Dst < 0 || flow.Dst >= n || flow.Src == flow.Dst {
		return fmt.Errorf("flow %s from %d to %d does not join two of %d nodes", flow.Name, flow.Src, flow.Dst, n)
	}
	if flow.PacketSize <= 0 {
		return fmt.Errorf("flow %s packet size %d", flow.Name, flow.PacketSize)
	}
	if mpdu := flow.PacketSize + udpIPHeaders + macOverhead; mpdu > re.defaults.FragmentationThreshold {
		return fmt.Errorf("flow %s frame of %d bytes exceeds fragmentation threshold %d", flow.Name, mpdu, re.defaults.FragmentationThreshold)
	}
	re.sources = append(re.sources, createTrafficSource(re, len(re.sources), flow))
	return nil
}

// Run executes the experiment for duration simulated seconds
func (re *RefEngine) Run(duration float64) error {
	switch {
	case re.destroyed:
		return errDestroyed
	case re.ran:
		return errors.New("engine already ran")
	case re.radioMap == nil:
		return errors.New("run before radio installed")
	case !(duration > 0):
		return fmt.Errorf("duration %s is not positive", formatNum(duration))
	}

	// who sends to whom decides how the medium is shared
	receivers := make(map[int][]int)
	for _, src := range re.sources {
		receivers[src.spec.Src] = append(receivers[src.spec.Src], src.spec.Dst)
	}
	handshake := re.defaults.RtsCtsThreshold < RtsCtsOffThreshold
	re.domainOf = contentionDomains(re.radioMap.buildSenseGraph(receivers, handshake))
	re.media = make(map[int]*MediumScheduler)
	for _, domain := range re.domainOf {
		if _, present := re.media[domain]; !present {
			re.media[domain] = CreateMediumScheduler(1)
		}
	}

	for _, src := range re.sources {
		src.startFlow(re.evtMgr)
	}
	re.ran = true
	re.evtMgr.Run(duration)
	return nil
}

// FlowStatistics returns one record per installed flow
func (re *RefEngine) FlowStatistics() (map[int]FlowRecord, error) {
	if re.destroyed {
		return nil, errDestroyed
	}
	if !re.ran {
		return nil, errors.New("no statistics before run")
	}
	stats := make(map[int]FlowRecord, len(re.sources))
	for _, src := range re.sources {
		stats[src.stats.FlowID] = *src.stats
	}
	return stats, nil
}

// Destroy releases the event list and all model state.  Repeated calls do nothing.
func (re *RefEngine) Destroy() error {
	re.destroyed = true
	re.evtMgr = nil
	re.sources = nil
	re.queues = nil
	re.media = nil
	re.onAir = nil
	re.radioMap = nil
	return nil
}

// enqueue hands an application packet to the sender's interface queue
func (re *RefEngine) enqueue(evtMgr *evtm.EventManager, src int, pkt *frame) {
	tq := re.queues[src]
	if !tq.offer(pkt) {
		re.sources[pkt.flowIdx].stats.LostPackets += 1
		return
	}
	if !tq.sending {
		re.startExchange(evtMgr, src)
	}
}

// exchangeTimes returns the medium time ahead of the data part (DIFS, backoff and
// any RTS/CTS), the data part itself, and the whole exchange including the ACK
func (re *RefEngine) exchangeTimes(size int, slots int) (lead, data, total float64) {
	mpdu := size + udpIPHeaders + macOverhead
	lead = difsTime + float64(slots)*slotTime
	if mpdu > re.defaults.RtsCtsThreshold {
		lead += phyPreamble + float64(8*rtsBytes)/re.ctrlRate + sifsTime
		lead += phyPreamble + float64(8*ctsBytes)/re.ctrlRate + sifsTime
	}
	data = phyPreamble + float64(8*mpdu)/re.dataRate
	ack := phyPreamble + float64(8*ackBytes)/re.ctrlRate
	return lead, data, lead + data + sifsTime + ack
}

// startExchange asks the sender's medium to carry the head of its queue
func (re *RefEngine) startExchange(evtMgr *evtm.EventManager, src int) {
	tq := re.queues[src]
	pkt, present := tq.head()
	if !present {
		return
	}
	tq.sending = true
	lead, data, total := re.exchangeTimes(pkt.size, tq.backoffSlots(cwMin))
	af := &airFrame{src: src, pkt: pkt, lead: lead, data: data}
	medium := re.media[re.domainOf[src]]
	medium.Schedule(evtMgr, "data", total, src, af, re.frameOnAir, re.exchangeDone)
}

// frameOnAir notes when the data part of an exchange occupies the channel
func (re *RefEngine) frameOnAir(evtMgr *evtm.EventManager, task *airTask) {
	af := task.Msg.(*airFrame)
	af.start = task.started + af.lead
	af.end = af.start + af.data

	// forget frames too old to overlap anything still to come
	now := evtMgr.CurrentSeconds()
	keep := re.onAir[:0]
	for _, old := range re.onAir {
		if old.end >= now-airHorizon {
			keep = append(keep, old)
		}
	}
	re.onAir = append(keep, af)
}

// exchangeDone decides whether the frame arrived, then lets the sender go on
func (re *RefEngine) exchangeDone(evtMgr *evtm.EventManager, context any, data any) any {
	src := context.(int)
	af := data.(*airTask).Msg.(*airFrame)
	tq := re.queues[src]
	tq.popQ()
	tq.sending = false

	stats := re.sources[af.pkt.flowIdx].stats
	if re.delivered(af) {
		stats.RxPackets += 1
		stats.RxBytes += uint64(af.pkt.size)
		stats.DelaySum += evtMgr.CurrentSeconds() - af.pkt.created
	} else {
		stats.LostPackets += 1
	}

	if tq.qlen() > 0 {
		re.startExchange(evtMgr, src)
	}
	return nil
}

// delivered applies the reception test to a frame whose exchange has finished
func (re *RefEngine) delivered(af *airFrame) bool {
	dst := af.pkt.dst
	interferers := []int{}
	for _, other := range re.onAir {
		if other == af || other.src == af.src {
			continue
		}
		if other.start < af.end && other.end > af.start {
			// a radio cannot receive while it transmits
			if other.src == dst {
				return false
			}
			interferers = append(interferers, other.src)
		}
	}
	return re.radioMap.sinr(af.src, dst, interferers) >= re.minSnr
}
