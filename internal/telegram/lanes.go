package telegram

import "sync"

// lanes runs submitted work in order per user and in parallel across
// users. A user's goroutine exits as soon as its queue is empty.
type lanes struct {
	mu    sync.Mutex
	queue map[int64][]func()
	wg    sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queue: make(map[int64][]func())}
}

func (l *lanes) submit(userID int64, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending, running := l.queue[userID]
	l.queue[userID] = append(pending, fn)
	if !running {
		l.wg.Add(1)
		go l.run(userID)
	}
}

func (l *lanes) run(userID int64) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		pending := l.queue[userID]
		if len(pending) == 0 {
			delete(l.queue, userID)
			l.mu.Unlock()
			return
		}
		fn := pending[0]
		l.queue[userID] = pending[1:]
		l.mu.Unlock()

		fn()
	}
}

// wait blocks until every submitted function has returned.
func (l *lanes) wait() {
	l.wg.Wait()
}
