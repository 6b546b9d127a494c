package poll

import "sync"

// pollLocks hands out one mutex per poll id and forgets it once unused
type pollLocks struct {
	mu    sync.Mutex
	locks map[int64]*pollLock
}

type pollLock struct {
	sync.Mutex
	refs int
}

func newPollLocks() *pollLocks {
	return &pollLocks{locks: make(map[int64]*pollLock)}
}

func (l *pollLocks) lock(id int64) func() {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &pollLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
