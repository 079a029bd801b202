package relay

import "sync"

// killQueue is the deferred-teardown work list. It has its own lock and wake
// condition, independent of the registry lock, so a fast enqueue never waits
// behind a slow teardown. Exactly one worker consumes it.
type killQueue struct {
	mu      sync.Mutex
	cv      *sync.Cond
	pending []int
	busy    bool
	closed  bool
}

func newKillQueue() *killQueue {
	k := &killQueue{}
	k.cv = sync.NewCond(&k.mu)
	return k
}

// push enqueues a slot for teardown. Re-enqueueing a slot already pending is
// a no-op; a slot currently mid-teardown may be re-queued and is discarded by
// the worker's status check. Reports whether the slot was newly queued.
func (k *killQueue) push(slot int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return false
	}
	for _, p := range k.pending {
		if p == slot {
			return false
		}
	}
	k.pending = append(k.pending, slot)
	k.cv.Broadcast()
	return true
}

// pop blocks until a slot is available or the queue is closed. The worker is
// marked busy until it calls done.
func (k *killQueue) pop() (int, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for len(k.pending) == 0 && !k.closed {
		k.cv.Wait()
	}
	if len(k.pending) == 0 {
		return 0, false
	}
	slot := k.pending[0]
	k.pending = k.pending[1:]
	k.busy = true
	return slot, true
}

func (k *killQueue) done() {
	k.mu.Lock()
	k.busy = false
	k.cv.Broadcast()
	k.mu.Unlock()
}

// drain blocks until the queue is empty and no teardown is in flight.
func (k *killQueue) drain() {
	k.mu.Lock()
	for len(k.pending) > 0 || k.busy {
		k.cv.Wait()
	}
	k.mu.Unlock()
}

// close wakes the worker so it can exit once the queue is empty.
func (k *killQueue) close() {
	k.mu.Lock()
	k.closed = true
	k.cv.Broadcast()
	k.mu.Unlock()
}
