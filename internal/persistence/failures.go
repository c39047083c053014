package persistence

import (
	"sync"
	"time"
)

// Failure is one secondary write that was given up on.
type Failure struct {
	Sink          string    `json:"sink"`
	TransactionID string    `json:"transaction_id"`
	JobID         string    `json:"job_id,omitempty"`
	Attempts      int       `json:"attempts"`
	Error         string    `json:"error"`
	At            time.Time `json:"at"`
}

// FailureLog is a fixed-size ring of the most recent secondary failures.
type FailureLog struct {
	mu    sync.Mutex
	items []Failure
	next  int
	full  bool
	total int
}

// NewFailureLog creates a log that keeps the last size failures.
func NewFailureLog(size int) *FailureLog {
	if size <= 0 {
		size = 1
	}
	return &FailureLog{items: make([]Failure, size)}
}

// Add records a failure, overwriting the oldest when full.
func (l *FailureLog) Add(f Failure) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f.At.IsZero() {
		f.At = time.Now()
	}
	l.items[l.next] = f
	l.next = (l.next + 1) % len(l.items)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// Recent returns the retained failures, newest first.
func (l *FailureLog) Recent() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.items)
	}
	out := make([]Failure, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.items)) % len(l.items)
		out = append(out, l.items[idx])
	}
	return out
}

// Total returns how many failures were ever recorded, including evicted ones.
func (l *FailureLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
