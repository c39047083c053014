// Package persistence writes finalized transactions to one primary and any
// number of secondary stores.
//
// Only the primary result is reported back. Secondary writes are queued and
// never awaited; when one finally fails it is logged and kept in a bounded
// FailureLog.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/domain"
	"github.com/dvloznov/expense-review-bot/internal/jobs"
)

// Sink is a durable store for reviewed transactions.
type Sink interface {
	Name() string
	Write(ctx context.Context, tx domain.Transaction) error
}

// Wrapper fans a transaction out to its sinks.
type Wrapper struct {
	primary     Sink
	secondaries map[string]Sink
	order       []string
	publisher   jobs.Publisher
	failures    *FailureLog
	log         zerolog.Logger
}

// NewWrapper creates a wrapper. publisher may be nil when there are no
// secondary sinks.
func NewWrapper(primary Sink, secondaries []Sink, publisher jobs.Publisher, failures *FailureLog, log zerolog.Logger) *Wrapper {
	w := &Wrapper{
		primary:     primary,
		secondaries: make(map[string]Sink, len(secondaries)),
		publisher:   publisher,
		failures:    failures,
		log:         log.With().Str("component", "persistence").Logger(),
	}
	for _, s := range secondaries {
		w.secondaries[s.Name()] = s
		w.order = append(w.order, s.Name())
	}
	return w
}

// Write stores tx in the primary sink and queues it for every secondary
// sink. It reports whether the primary write succeeded; secondary outcomes
// never change the result.
func (w *Wrapper) Write(ctx context.Context, tx domain.Transaction) bool {
	log := w.log.With().Str("transaction_id", tx.TransactionID).Logger()

	ok := true
	if err := safeWrite(ctx, w.primary, tx); err != nil {
		log.Error().Err(err).Str("sink", w.primary.Name()).Msg("primary write failed")
		ok = false
	} else {
		log.Info().Str("sink", w.primary.Name()).Msg("transaction written")
	}

	w.dispatch(ctx, tx)
	return ok
}

func (w *Wrapper) dispatch(ctx context.Context, tx domain.Transaction) {
	for _, name := range w.order {
		job := &jobs.SecondaryWriteJob{
			Sink:          name,
			TransactionID: tx.TransactionID,
			Transaction:   tx.Clone(),
		}

		var err error
		if w.publisher == nil {
			err = errors.New("no dispatch queue configured")
		} else {
			err = w.publisher.PublishSecondaryWrite(ctx, job)
		}
		if err != nil {
			w.RecordFailure(job, err)
		}
	}
}

// Handle is the job handler that performs a queued secondary write.
func (w *Wrapper) Handle(ctx context.Context, job jobs.Job) error {
	j, ok := job.(*jobs.SecondaryWriteJob)
	if !ok {
		return fmt.Errorf("Wrapper.Handle: unexpected job type %s", job.GetType())
	}

	sink, ok := w.secondaries[j.Sink]
	if !ok {
		return fmt.Errorf("Wrapper.Handle: unknown sink %q", j.Sink)
	}

	if err := safeWrite(ctx, sink, j.Transaction); err != nil {
		return err
	}
	w.log.Debug().Str("sink", j.Sink).Str("transaction_id", j.TransactionID).Msg("secondary write done")
	return nil
}

// RecordFailure logs a secondary write that will not be retried. It is
// also the queue's FailureHandler.
func (w *Wrapper) RecordFailure(job *jobs.SecondaryWriteJob, err error) {
	w.log.Warn().Err(err).
		Str("sink", job.Sink).
		Str("transaction_id", job.TransactionID).
		Msg("secondary write abandoned")

	if w.failures == nil {
		return
	}
	w.failures.Add(Failure{
		Sink:          job.Sink,
		TransactionID: job.TransactionID,
		JobID:         job.JobID,
		Attempts:      job.RetryCount + 1,
		Error:         err.Error(),
	})
}

// Sinks returns the names of the configured sinks, primary first.
func (w *Wrapper) Sinks() []string {
	return append([]string{w.primary.Name()}, w.order...)
}

func safeWrite(ctx context.Context, sink Sink, tx domain.Transaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", sink.Name(), r)
		}
	}()
	if err := sink.Write(ctx, tx); err != nil {
		return fmt.Errorf("%s: %w", sink.Name(), err)
	}
	return nil
}
