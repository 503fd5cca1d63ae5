package nsweep

// flow-sim.go holds the per-node transmit queue of the reference engine and the
// random variates used to pace traffic and draw backoff.
import (
	"fmt"
	"math"
	"sync"

	"github.com/iti/rngstream"
)

// frame is one packet in flight
type frame struct {
	flowIdx int     // install order of the flow it belongs to
	dst     int     // destination node
	size    int     // payload bytes
	created float64 // simulation time the application sent it
}

// txQueue is a sender's drop-tail interface queue
type txQueue struct {
	limit   int      // frames held, including the one on the air
	frames  []*frame // head is the frame being sent or next to be sent
	sending bool     // true while the head frame holds or waits for the medium

	rngstrm *rngstream.RngStream // each node has its own stream for backoff and pacing
}

// createTxQueue is a constructor
func createTxQueue(limit int, rngstrm *rngstream.RngStream) *txQueue {
	tq := new(txQueue)
	tq.limit = limit
	tq.frames = make([]*frame, 0)
	tq.rngstrm = rngstrm
	return tq
}

// qlen returns the number of frames held
func (tq *txQueue) qlen() int {
	return len(tq.frames)
}

// offer appends a frame, returning false when the queue is full and the frame is dropped
func (tq *txQueue) offer(f *frame) bool {
	if tq.limit > 0 && tq.qlen() >= tq.limit {
		return false
	}
	tq.frames = append(tq.frames, f)
	return true
}

// head returns the earliest frame, if present
func (tq *txQueue) head() (*frame, bool) {
	if tq.qlen() == 0 {
		return nil, false
	}
	return tq.frames[0], true
}

// popQ removes the earliest frame
func (tq *txQueue) popQ() {
	if tq.qlen() > 0 {
		tq.frames = tq.frames[1:]
	}
}

// rngstream.New draws from a package-wide seed that each call advances
var streamLock sync.Mutex

// moduli of the two component generators; a stream seed must lie below them
const (
	streamM1 uint64 = 4294967087
	streamM2 uint64 = 4294944443
)

// nodeStream returns the random stream of one node.  It depends only on the
// engine seed, the run number and the node, not on how many streams were made
// before it or on which goroutine asks.
func nodeStream(seed uint64, run, node int) *rngstream.RngStream {
	streamLock.Lock()
	defer streamLock.Unlock()
	rs := rngstream.New(fmt.Sprintf("run-%d-node-%d", run, node))
	parts := streamSeed(seed, run, node)
	rs.SetSeed(parts[:])
	return rs
}

// streamSeed spreads (seed, run, node) over the six seed components with splitmix64
func streamSeed(seed uint64, run, node int) [6]uint64 {
	state := mix64(mix64(mix64(seed) ^ uint64(run)) ^ uint64(node))
	var parts [6]uint64
	for idx := range parts {
		state = mix64(state)
		modulus := streamM1
		if idx >= 3 {
			modulus = streamM2
		}
		// zero is not a valid component
		parts[idx] = 1 + state%(modulus-1)
	}
	return parts
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// backoffSlots draws a uniform number of slots from the contention window [0,cw]
func (tq *txQueue) backoffSlots(cw int) int {
	return int(math.Floor(tq.rngstrm.RandU01() * float64(cw+1)))
}

var rdigits uint = 12

// round computed simulation time to avoid non-sensical comparisons
// induced by rounding error
func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV gives an exponential inter-arrival time, params[0] is the arrival rate
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst gives a constant inter-arrival time, params[0] is the arrival rate
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}

// interArrivalSampler selects the sampler for a traffic model
func interArrivalSampler(model string) func(float64, []float64) float64 {
	switch model {
	case "exponential", "exp", ExponModel:
		return sampleExpRV
	}
	return sampleConst
}
