package realtime

import "sync"

// keyedQueue runs tasks for the same key one at a time, in submission order.
// Each active key has one worker goroutine which exits once its queue drains.
type keyedQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{pending: make(map[string][]func())}
}

func (q *keyedQueue) Push(key string, task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, running := q.pending[key]
	q.pending[key] = append(tasks, task)
	if !running {
		q.wg.Add(1)
		go q.drain(key)
	}
}

func (q *keyedQueue) drain(key string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		tasks := q.pending[key]
		if len(tasks) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		task := tasks[0]
		tasks[0] = nil
		q.pending[key] = tasks[1:]
		q.mu.Unlock()

		task()
	}
}

// Wait blocks until every queued task has run.
func (q *keyedQueue) Wait() { q.wg.Wait() }

// keyedMutex hands out one lock per key. Entries are dropped once nobody holds or waits
// on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// held returns the number of keys with a holder or waiter.
func (k *keyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
