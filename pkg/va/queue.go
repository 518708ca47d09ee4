package va

import "sync"

// workQueue runs pushed functions one at a time, in push order, on a single
// goroutine. push never blocks; the backlog is unbounded.
type workQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
	done   chan struct{}
	start  sync.Once
}

func newWorkQueue() *workQueue {
	q := &workQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends fn and reports whether it was accepted. After close it
// returns false.
func (q *workQueue) push(fn func()) bool {
	q.start.Do(func() { go q.loop() })

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
	return true
}

// close stops accepting work, runs everything already queued and waits for
// the goroutine to exit.
func (q *workQueue) close() {
	q.start.Do(func() { go q.loop() })

	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()
	<-q.done
}

func (q *workQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		fn()
	}
}
