package nsweep

// routes.go works out who can hear whom in the reference engine.  Received
// power between every pair of nodes follows the Friis free-space equation, and
// the resulting "can sense" relation is turned into a graph whose connected
// components are the contention domains: the senders of one domain defer to
// each other and never transmit at the same time.

import (
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// speed of light, m/s
const lightSpeed = 299792458.0

// energy at or above this level, dBm, makes a node defer
const ccaThresholdDbm = -82.0

// thermal noise over a 20 MHz channel, dBm, before the receiver noise figure
const thermalNoiseDbm = -174.0 + 73.0103

// radioMap holds the received power from every node at every other node
type radioMap struct {
	n       int
	radio   RadioParams
	rxPower [][]float64 // rxPower[from][to], dBm
}

// friisRxPower is the received power in dBm at distance dist meters.
// Distances under one wavelength are clamped so co-located nodes hear each other at full power.
func friisRxPower(radio RadioParams, dist float64) float64 {
	lambda := lightSpeed / radio.FrequencyHz
	dist = math.Max(dist, lambda)
	loss := 20.0 * math.Log10(lambda/(4.0*math.Pi*dist))
	return radio.TxPowerDbm + radio.TxGainDb + radio.RxGainDb + loss
}

func distance(a, b Vector) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// createRadioMap is a constructor
func createRadioMap(positions []Vector, radio RadioParams) *radioMap {
	rm := new(radioMap)
	rm.n = len(positions)
	rm.radio = radio
	rm.rxPower = make([][]float64, rm.n)
	for from := range positions {
		rm.rxPower[from] = make([]float64, rm.n)
		for to := range positions {
			rm.rxPower[from][to] = friisRxPower(radio, distance(positions[from], positions[to]))
		}
	}
	return rm
}

// noiseDbm is the receiver noise floor
func (rm *radioMap) noiseDbm() float64 {
	return thermalNoiseDbm + rm.radio.RxNoiseFigure
}

// senses says whether node 'to' defers when node 'from' transmits
func (rm *radioMap) senses(from, to int) bool {
	return rm.rxPower[from][to] >= ccaThresholdDbm
}

// sinr is the signal to interference plus noise ratio, dB, of a frame from src
// at dst while the nodes listed in interferers are also on the air
func (rm *radioMap) sinr(src, dst int, interferers []int) float64 {
	noiseMw := dbmToMw(rm.noiseDbm())
	for _, other := range interferers {
		noiseMw += dbmToMw(rm.rxPower[other][dst])
	}
	return rm.rxPower[src][dst] - mwToDbm(noiseMw)
}

func dbmToMw(dbm float64) float64 {
	return math.Pow(10.0, dbm/10.0)
}

func mwToDbm(mw float64) float64 {
	return 10.0 * math.Log10(mw)
}

// buildSenseGraph returns an undirected graph over all nodes with an edge
// between two senders that must share the medium.  Senders that sense each
// other share it.  With the RTS/CTS handshake a sender also shares it with any
// sender whose receiver it can sense, since it hears that receiver's CTS.
func (rm *radioMap) buildSenseGraph(receivers map[int][]int, handshake bool) graph.Undirected {
	senseGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for id := 0; id < rm.n; id++ {
		senseGraph.AddNode(simple.Node(id))
	}

	for a := range receivers {
		for b := range receivers {
			if a >= b {
				continue
			}
			joined := rm.senses(a, b) || rm.senses(b, a)
			if !joined && handshake {
				for _, rcv := range receivers[a] {
					joined = joined || (rcv != b && rm.senses(rcv, b))
				}
				for _, rcv := range receivers[b] {
					joined = joined || (rcv != a && rm.senses(rcv, a))
				}
			}
			if joined {
				senseGraph.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: 1.0})
			}
		}
	}
	return senseGraph
}

// contentionDomains maps every node id to the index of its domain.  Domains
// are numbered by their smallest member so the numbering is stable.
func contentionDomains(senseGraph graph.Undirected) map[int]int {
	domainOf := make(map[int]int)
	for _, component := range topo.ConnectedComponents(senseGraph) {
		low := math.MaxInt
		for _, node := range component {
			low = min(low, int(node.ID()))
		}
		for _, node := range component {
			domainOf[int(node.ID())] = low
		}
	}
	return domainOf
}
