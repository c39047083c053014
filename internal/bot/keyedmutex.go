package bot

import "sync"

// keyedMutex serializes work per user while letting different users run
// in parallel. Entries are dropped once nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*userLock)}
}

// Lock blocks until the user's lock is held and returns its unlock func.
func (k *keyedMutex) Lock(userID int64) func() {
	k.mu.Lock()
	l, ok := k.locks[userID]
	if !ok {
		l = &userLock{}
		k.locks[userID] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, userID)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
