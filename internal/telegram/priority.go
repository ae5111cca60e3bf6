package telegram

import "context"

// Priority orders competing call classes on a single session's shared
// rate budget: interactive commands preempt live listening, which preempts
// backfill pagination, which preempts background enrichment scans.
type Priority int

// Priority levels, highest first.
const (
	PriorityInteractive Priority = iota
	PriorityLive
	PriorityBackfill
	PriorityEnrichment

	priorityCount = int(PriorityEnrichment) + 1
)

type job struct {
	ctx      context.Context
	fn       func(ctx context.Context) (interface{}, error)
	resultCh chan jobResult
}

type jobResult struct {
	val interface{}
	err error
}

// callQueue serializes calls for one session across priority classes.
// Each class has its own buffered channel; the worker loop always drains
// higher-priority channels before lower ones.
type callQueue struct {
	lanes [priorityCount]chan job
	stop  chan struct{}
}

func newCallQueue(laneBuffer int) *callQueue {
	q := &callQueue{stop: make(chan struct{})}
	for i := range q.lanes {
		q.lanes[i] = make(chan job, laneBuffer)
	}
	return q
}

// submit enqueues j on the given lane, blocking if that lane is full or
// until ctx is done.
func (q *callQueue) submit(ctx context.Context, p Priority, j job) error {
	select {
	case q.lanes[p] <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stop:
		return context.Canceled
	}
}

// next returns the highest-priority pending job, blocking until one is
// available or the queue is stopped.
func (q *callQueue) next() (job, bool) {
	// non-blocking sweep, highest priority first
	for i := range q.lanes {
		select {
		case j := <-q.lanes[i]:
			return j, true
		default:
		}
	}

	// nothing ready: block on any lane
	select {
	case j := <-q.lanes[PriorityInteractive]:
		return j, true
	case j := <-q.lanes[PriorityLive]:
		return j, true
	case j := <-q.lanes[PriorityBackfill]:
		return j, true
	case j := <-q.lanes[PriorityEnrichment]:
		return j, true
	case <-q.stop:
		return job{}, false
	}
}

func (q *callQueue) close() {
	select {
	case <-q.stop:
	default:
		close(q.stop)
	}
}
