package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-review-bot/internal/domain"
	"github.com/dvloznov/expense-review-bot/internal/jobs"
	"github.com/dvloznov/expense-review-bot/internal/jobs/inmemory"
	"github.com/dvloznov/expense-review-bot/internal/logger"
)

// MockSink is a mock implementation of Sink for testing.
type MockSink struct {
	NameValue string
	WriteFunc func(ctx context.Context, tx domain.Transaction) error

	mu      sync.Mutex
	written []string
}

func (m *MockSink) Name() string { return m.NameValue }

func (m *MockSink) Write(ctx context.Context, tx domain.Transaction) error {
	if m.WriteFunc != nil {
		if err := m.WriteFunc(ctx, tx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, tx.TransactionID)
	return nil
}

func (m *MockSink) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.written...)
}

func failing(msg string) func(context.Context, domain.Transaction) error {
	return func(context.Context, domain.Transaction) error { return errors.New(msg) }
}

func reviewedTx() domain.Transaction {
	cat := "Shopping"
	shared := true
	return domain.Transaction{
		TransactionID: "h1",
		Recipient:     "Cafe X",
		Amount:        decimal.NewFromInt(250),
		Category:      &cat,
		IsShared:      &shared,
		UserShare:     decimal.NewFromInt(100),
	}
}

// newTestWrapper wires the wrapper to a running in-memory queue.
func newTestWrapper(t *testing.T, primary Sink, secondaries ...Sink) (*Wrapper, *FailureLog) {
	t.Helper()
	failures := NewFailureLog(10)

	var w *Wrapper
	q := inmemory.NewQueue(inmemory.Config{BufferSize: 10, Workers: 2, MaxRetries: 1, Backoff: time.Millisecond},
		inmemory.NewStore(0),
		func(job *jobs.SecondaryWriteJob, err error) { w.RecordFailure(job, err) },
		logger.Nop())
	w = NewWrapper(primary, secondaries, q, failures, logger.Nop())

	require.NoError(t, q.Start(context.Background(), w.Handle))
	t.Cleanup(func() { _ = q.Close() })
	return w, failures
}

func TestWrapper_PrimaryFailureReturnsFalse(t *testing.T) {
	primary := &MockSink{NameValue: "sheets", WriteFunc: failing("quota exceeded")}
	secondary := &MockSink{NameValue: "postgres"}
	w, failures := newTestWrapper(t, primary, secondary)

	assert.False(t, w.Write(context.Background(), reviewedTx()))

	require.Eventually(t, func() bool { return len(secondary.Written()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, failures.Total())
}

func TestWrapper_PrimaryPanicReturnsFalse(t *testing.T) {
	primary := &MockSink{NameValue: "sheets", WriteFunc: func(context.Context, domain.Transaction) error {
		panic("index out of range")
	}}
	w, _ := newTestWrapper(t, primary)

	assert.False(t, w.Write(context.Background(), reviewedTx()))
}

func TestWrapper_SecondaryFailureDoesNotChangeResult(t *testing.T) {
	primary := &MockSink{NameValue: "sheets"}
	bad := &MockSink{NameValue: "bigquery", WriteFunc: failing("permission denied")}
	good := &MockSink{NameValue: "postgres"}
	w, failures := newTestWrapper(t, primary, bad, good)

	assert.True(t, w.Write(context.Background(), reviewedTx()))
	assert.Equal(t, []string{"h1"}, primary.Written())

	require.Eventually(t, func() bool { return failures.Total() == 1 }, time.Second, time.Millisecond)
	f := failures.Recent()[0]
	assert.Equal(t, "bigquery", f.Sink)
	assert.Equal(t, "h1", f.TransactionID)
	assert.Equal(t, 2, f.Attempts)
	assert.Contains(t, f.Error, "permission denied")

	require.Eventually(t, func() bool { return len(good.Written()) == 1 }, time.Second, time.Millisecond)
}

func TestWrapper_SecondaryPanicIsCaptured(t *testing.T) {
	primary := &MockSink{NameValue: "sheets"}
	bad := &MockSink{NameValue: "notion", WriteFunc: func(context.Context, domain.Transaction) error {
		panic("nil page")
	}}
	w, failures := newTestWrapper(t, primary, bad)

	assert.True(t, w.Write(context.Background(), reviewedTx()))
	require.Eventually(t, func() bool { return failures.Total() == 1 }, time.Second, time.Millisecond)
	assert.Contains(t, failures.Recent()[0].Error, "panic")
}

func TestWrapper_DoesNotWaitForSecondaries(t *testing.T) {
	release := make(chan struct{})
	primary := &MockSink{NameValue: "sheets"}
	slow := &MockSink{NameValue: "postgres", WriteFunc: func(ctx context.Context, tx domain.Transaction) error {
		<-release
		return nil
	}}
	w, _ := newTestWrapper(t, primary, slow)
	defer close(release)

	done := make(chan bool, 1)
	go func() { done <- w.Write(context.Background(), reviewedTx()) }()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Write waited for a secondary sink")
	}
}

func TestWrapper_FullQueueIsRecorded(t *testing.T) {
	primary := &MockSink{NameValue: "sheets"}
	secondary := &MockSink{NameValue: "postgres"}
	failures := NewFailureLog(10)

	// Never started, so the single slot stays occupied.
	q := inmemory.NewQueue(inmemory.Config{BufferSize: 1}, nil, nil, logger.Nop())
	defer q.Close()
	w := NewWrapper(primary, []Sink{secondary}, q, failures, logger.Nop())

	tx := reviewedTx()
	assert.True(t, w.Write(context.Background(), tx))
	assert.True(t, w.Write(context.Background(), tx))

	assert.Equal(t, 1, failures.Total())
	assert.Contains(t, failures.Recent()[0].Error, "full")
}

func TestWrapper_Sinks(t *testing.T) {
	w := NewWrapper(&MockSink{NameValue: "sheets"}, []Sink{&MockSink{NameValue: "bigquery"}, &MockSink{NameValue: "notion"}}, nil, nil, logger.Nop())
	assert.Equal(t, []string{"sheets", "bigquery", "notion"}, w.Sinks())
}
