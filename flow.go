package nsweep

// flow.go holds the traffic sources of the reference engine.  Each installed
// FlowSpec becomes a trafficSource that hands packets to its sender's queue
// from Start until Stop, paced by the flow's inter-arrival model.

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// trafficSource generates the packets of one flow
type trafficSource struct {
	engine  *RefEngine
	spec    FlowSpec
	idx     int     // install order
	rate    float64 // packets per second
	sent    int
	stats   *FlowRecord
	sampler func(float64, []float64) float64
}

// createTrafficSource is a constructor.  A flow that cannot produce a packet
// (zero rate and interval) gets rate 0 and is never started.
func createTrafficSource(engine *RefEngine, idx int, spec FlowSpec) *trafficSource {
	ts := new(trafficSource)
	ts.engine = engine
	ts.spec = spec
	ts.idx = idx
	ts.stats = &FlowRecord{FlowID: idx + 1}
	ts.sampler = interArrivalSampler(spec.Model)
	if interval := spec.PacketInterval(); interval > 0 {
		ts.rate = 1.0 / interval
	}
	return ts
}

// startFlow schedules the first packet at the flow's start time
func (ts *trafficSource) startFlow(evtMgr *evtm.EventManager) {
	if !(ts.rate > 0) || ts.spec.Stop <= ts.spec.Start {
		return
	}
	evtMgr.Schedule(ts, nil, srcPacketArrival, vrtime.SecondsToTime(ts.spec.Start))
}

// exhausted says whether the flow has sent all it may
func (ts *trafficSource) exhausted(now float64) bool {
	if ts.spec.MaxPackets > 0 && ts.sent >= ts.spec.MaxPackets {
		return true
	}
	return now >= ts.spec.Stop
}

// srcPacketArrival emits one packet and schedules the next
func srcPacketArrival(evtMgr *evtm.EventManager, context any, data any) any {
	ts := context.(*trafficSource)
	now := evtMgr.CurrentSeconds()
	if ts.exhausted(now) {
		return nil
	}

	pkt := &frame{flowIdx: ts.idx, dst: ts.spec.Dst, size: ts.spec.PacketSize, created: now}
	ts.sent += 1
	ts.stats.TxPackets += 1
	ts.stats.TxBytes += uint64(ts.spec.PacketSize)
	ts.engine.enqueue(evtMgr, ts.spec.Src, pkt)

	u01 := ts.engine.queues[ts.spec.Src].rngstrm.RandU01()
	interarrival := ts.sampler(u01, []float64{ts.rate})
	if !ts.exhausted(now + interarrival) {
		evtMgr.Schedule(context, data, srcPacketArrival, vrtime.SecondsToTime(interarrival))
	}
	return nil
}
