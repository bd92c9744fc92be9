package bridge

import (
	"sort"
	"sync"
)

// turn is one finalized utterance waiting for a reply.
type turn struct {
	Text       string
	Confidence float64
	EndMs      int64
	Seq        int
}

// turnQueue collects finalized transcripts for a single call. The worker
// drains it one turn at a time, always taking the earliest transcript
// timestamp first, so replies keep utterance order even when the recognizer
// delivers results out of order. EndMs ties break on arrival order.
type turnQueue struct {
	mu      sync.Mutex
	pending []turn
	seq     int
	wake    chan struct{}
	closed  bool
}

func newTurnQueue() *turnQueue {
	return &turnQueue{wake: make(chan struct{}, 1)}
}

// push adds a finalized utterance and nudges the worker.
func (q *turnQueue) push(t turn) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.seq++
	t.Seq = q.seq
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes and returns the earliest pending turn.
func (q *turnQueue) pop() (turn, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return turn{}, false
	}
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].EndMs != q.pending[j].EndMs {
			return q.pending[i].EndMs < q.pending[j].EndMs
		}
		return q.pending[i].Seq < q.pending[j].Seq
	})
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t, true
}

// len reports the pending count.
func (q *turnQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// close rejects further pushes. Already queued turns stay poppable so the
// drain phase can finish them.
func (q *turnQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
