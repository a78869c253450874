package instance

import "sync"

// lockSet hands out one RWMutex per instance id. Entries are reference
// counted and dropped when nobody holds or waits on them.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	rw   sync.RWMutex
	refs int
}

func newLockSet() *lockSet {
	return &lockSet{locks: make(map[string]*lockEntry)}
}

func (l *lockSet) get(id string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{}
		l.locks[id] = e
	}
	e.refs++
	return e
}

func (l *lockSet) put(id string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
}

// rlock blocks until a shared lock on id is held.
func (l *lockSet) rlock(id string) func() {
	e := l.get(id)
	e.rw.RLock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.rw.RUnlock()
			l.put(id, e)
		})
	}
}

// tryLock takes the exclusive lock on id without waiting.
func (l *lockSet) tryLock(id string) (func(), bool) {
	e := l.get(id)
	if !e.rw.TryLock() {
		l.put(id, e)
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.rw.Unlock()
			l.put(id, e)
		})
	}, true
}

func (l *lockSet) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
