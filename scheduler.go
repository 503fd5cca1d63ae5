package nsweep

// scheduler.go holds the structs and methods that share a radio medium among
// the senders of one contention domain.  A sender asks for the medium for a
// given amount of time (one complete frame exchange).  The medium serves
// requests first-come first-served on a fixed number of channels; a request
// that finds every channel busy waits its turn.

import (
	"container/heap"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// airTask describes one claim on the medium
type airTask struct {
	OpType   string  // what exchange is being performed
	req      float64 // time the exchange occupies the medium
	started  float64 // simulation time service began
	ends     float64 // simulation time service ends
	context  any     // remember this from caller, to return when finished
	Msg      any     // the frame being carried
	onStart  func(*evtm.EventManager, *airTask)
	complete evtm.EventHandlerFunction // call when finished
}

// endsHeap and its methods implement a min-priority heap
// on the completion times of tasks in service
type endsHeap []*airTask

func (h endsHeap) Len() int           { return len(h) }
func (h endsHeap) Less(i, j int) bool { return h[i].ends < h[j].ends }
func (h endsHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *endsHeap) Push(x any) {
	*h = append(*h, x.(*airTask))
}

func (h *endsHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// MediumScheduler holds data structures supporting the FCFS sharing of a medium
type MediumScheduler struct {
	channels  int        // exchanges that may proceed at once
	waiting   []*airTask // work to do, not in service
	inservice endsHeap   // work being served
	busy      float64    // total time the medium has been held
	served    int        // exchanges completed
}

// CreateMediumScheduler is a constructor
func CreateMediumScheduler(channels int) *MediumScheduler {
	ms := new(MediumScheduler)
	ms.channels = max(channels, 1)
	ms.waiting = []*airTask{}
	ms.inservice = []*airTask{}
	heap.Init(&ms.inservice)
	return ms
}

// Schedule asks for the medium.  Parameters are
// - op : a code for the exchange
// - req : how long the exchange holds the medium
// - msg : the frame being sent
// - onStart : called (may be nil) at the moment the exchange takes the medium
// - complete : an event handler called when the exchange finishes, with the *airTask as data
// The return is true if the exchange went straight into service.
func (ms *MediumScheduler) Schedule(evtMgr *evtm.EventManager, op string, req float64,
	context any, msg any, onStart func(*evtm.EventManager, *airTask), complete evtm.EventHandlerFunction) bool {

	task := &airTask{OpType: op, req: req, Msg: msg, context: context, onStart: onStart, complete: complete}
	return ms.joinQueue(evtMgr, task)
}

// joinQueue puts a task into service if a channel is free, else at the back of the line
func (ms *MediumScheduler) joinQueue(evtMgr *evtm.EventManager, task *airTask) bool {
	if ms.channels <= len(ms.inservice) {
		ms.waiting = append(ms.waiting, task)
		return false
	}

	now := evtMgr.CurrentSeconds()
	task.started = now
	task.ends = roundFloat(now+task.req, rdigits)
	heap.Push(&ms.inservice, task)
	if task.onStart != nil {
		task.onStart(evtMgr, task)
	}
	evtMgr.Schedule(ms, task, airTaskComplete, vrtime.SecondsToTime(task.req))
	return true
}

// qlen is the number of exchanges waiting for the medium
func (ms *MediumScheduler) qlen() int {
	return len(ms.waiting)
}

// airTaskComplete is called when an exchange releases the medium.  The next
// waiting exchange takes the medium before the owner of the finished one is told,
// so a sender with more to send goes to the back of the line.
func airTaskComplete(evtMgr *evtm.EventManager, context any, data any) any {
	ms := context.(*MediumScheduler)
	task := data.(*airTask)

	// take this task out of service
	for idx, inSrv := range ms.inservice {
		if inSrv == task {
			heap.Remove(&ms.inservice, idx)
			break
		}
	}
	ms.busy += task.req
	ms.served += 1

	if len(ms.waiting) > 0 {
		newtask := ms.waiting[0]
		ms.waiting = ms.waiting[1:]
		ms.joinQueue(evtMgr, newtask)
	}

	task.complete(evtMgr, task.context, task)
	return nil
}
