package relay

import (
	"sync"

	"go.uber.org/atomic"
)

// correlatorResult is what a waiter receives: either a resolved response
// body or a terminal error (timeout or disconnect).
type correlatorResult struct {
	response *ResponseBody
	err      error
}

type waiter struct {
	ch   chan correlatorResult
	done atomic.Bool
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan correlatorResult, 1)}
}

// deliver resolves the waiter exactly once; later calls are no-ops so a
// timeout that races a late-arriving response never double-sends.
func (w *waiter) deliver(res correlatorResult) bool {
	if !w.done.CompareAndSwap(false, true) {
		return false
	}
	w.ch <- res
	return true
}

// correlator implements spec.md §4.4: an outstanding-request map keyed by
// request_id, with exactly-once resolution via {response, timeout,
// disconnect}.
type correlator struct {
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*waiter

	discarded atomic.Uint64
	timedOut  atomic.Uint64
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[uint64]*waiter)}
}

// nextRequestID returns a fresh monotonic per-connection request id.
func (c *correlator) nextRequestID() uint64 {
	return c.nextID.Add(1)
}

func (c *correlator) register(id uint64) *waiter {
	w := newWaiter()
	c.mu.Lock()
	c.pending[id] = w
	c.mu.Unlock()
	return w
}

func (c *correlator) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve completes the waiter for resp.RequestID, if any is outstanding.
// It reports false (and counts a discard) for an unknown or already-resolved
// request_id, matching spec.md's "duplicate responses... logged and
// discarded."
func (c *correlator) resolve(resp *ResponseBody) bool {
	c.mu.Lock()
	w, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.discarded.Add(1)
		return false
	}
	if !w.deliver(correlatorResult{response: resp}) {
		c.discarded.Add(1)
		return false
	}
	return true
}

// timeout fails the waiter for id with RequestTimeout, if it is still
// outstanding. A later-arriving response for the same id will then find no
// entry and be discarded by resolve.
func (c *correlator) timeout(id uint64) {
	c.mu.Lock()
	w, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		w.deliver(correlatorResult{err: ErrRequestTimeout})
		c.timedOut.Add(1)
	}
}

// closeAll fails every outstanding waiter with Disconnected, emptying the
// map. Called once from the connection's Closed entry action.
func (c *correlator) closeAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*waiter)
	c.mu.Unlock()

	for _, w := range pending {
		w.deliver(correlatorResult{err: err})
	}
}

// Stats reports cumulative discarded-duplicate and timed-out response
// counts, exposed to operators via internal/diag.
func (c *correlator) Stats() (discarded, timedOut uint64) {
	return c.discarded.Load(), c.timedOut.Load()
}
