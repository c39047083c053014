package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dvloznov/expense-review-bot/internal/cursor"
	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// ErrNotDelivered is returned when a cycle found transactions but none of
// the notifications could be sent. The cursor is left where it was so the
// next cycle tries again.
var ErrNotDelivered = errors.New("ingest: no notification was delivered")

// maxDeliveryAttempts bounds how many cycles a failed notification is
// retried for before it is dropped.
const maxDeliveryAttempts = 5

// Notifier starts a review conversation with one user about one transaction.
type Notifier interface {
	Notify(ctx context.Context, userID int64, tx domain.Transaction) error
}

// Recipients lists the users that should be notified about new transactions.
type Recipients interface {
	List() []int64
}

// Result describes one poll cycle.
type Result struct {
	Transactions []domain.Transaction `json:"transactions"`
	Previous     int                  `json:"previous_cursor"`
	Cursor       int                  `json:"cursor"`
	Delivered    int                  `json:"delivered"`
	Failed       int                  `json:"failed"`
	// Redelivered counts notifications from earlier cycles that went
	// through on this one. Pending is what is still waiting after it.
	Redelivered int `json:"redelivered"`
	Pending     int `json:"pending"`
}

// delivery is a notification that failed after the cursor moved past its
// row, kept so the next cycle can send it again.
type delivery struct {
	userID   int64
	tx       domain.Transaction
	attempts int
}

// Poller runs guarded poll cycles: load cursor, read new records, notify,
// save cursor. Concurrent callers of Check share the in-flight cycle.
type Poller struct {
	reader     *Reader
	cursor     cursor.Store
	notifier   Notifier
	recipients Recipients
	log        zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	pending []delivery
}

// NewPoller wires a poller.
func NewPoller(reader *Reader, store cursor.Store, notifier Notifier, recipients Recipients, log zerolog.Logger) *Poller {
	return &Poller{
		reader:     reader,
		cursor:     store,
		notifier:   notifier,
		recipients: recipients,
		log:        log.With().Str("component", "poller").Logger(),
	}
}

// Check runs one cycle, or joins the one already running.
func (p *Poller) Check(ctx context.Context) (Result, error) {
	v, err, shared := p.group.Do("check", func() (interface{}, error) {
		return p.cycle(ctx)
	})
	if shared {
		p.log.Debug().Msg("joined in-flight poll cycle")
	}
	res, _ := v.(Result)
	return res, err
}

// Preview reads what the next cycle would pick up without notifying anyone
// or moving the cursor.
func (p *Poller) Preview(ctx context.Context) (Result, error) {
	v, err, _ := p.group.Do("preview", func() (interface{}, error) {
		prev, txs, next, err := p.fetch(ctx)
		return Result{Transactions: txs, Previous: prev, Cursor: next}, err
	})
	res, _ := v.(Result)
	return res, err
}

func (p *Poller) fetch(ctx context.Context) (int, []domain.Transaction, int, error) {
	prev, err := p.cursor.Load(ctx)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("Poller.Check: load cursor: %w", err)
	}

	records, next, err := p.reader.Poll(ctx, prev)
	if err != nil {
		return prev, nil, prev, fmt.Errorf("Poller.Check: %w", err)
	}
	return prev, p.transactions(records), next, nil
}

func (p *Poller) cycle(ctx context.Context) (res Result, err error) {
	redelivered := p.retryPending(ctx)
	defer func() { res.Pending = p.pendingLen() }()

	prev, txs, next, err := p.fetch(ctx)
	res = Result{Transactions: txs, Previous: prev, Cursor: prev, Redelivered: redelivered}
	if err != nil {
		return res, err
	}
	if next == prev {
		return res, nil
	}

	var failed []delivery
	if len(txs) > 0 {
		for _, tx := range txs {
			for _, userID := range p.recipients.List() {
				if err := p.notifier.Notify(ctx, userID, tx); err != nil {
					res.Failed++
					failed = append(failed, delivery{userID: userID, tx: tx, attempts: 1})
					p.log.Error().Err(err).
						Int64("user_id", userID).
						Str("transaction_id", tx.TransactionID).
						Msg("failed to notify user")
					continue
				}
				res.Delivered++
			}
		}

		if res.Delivered == 0 {
			p.log.Warn().Int("transactions", len(txs)).Int("cursor", prev).Msg("nothing delivered, keeping cursor")
			return res, ErrNotDelivered
		}
	}

	if err := p.cursor.Save(ctx, next); err != nil {
		return res, fmt.Errorf("Poller.Check: save cursor: %w", err)
	}
	res.Cursor = next

	// The rows are behind the cursor now, so failed users only hear about
	// them through the pending list.
	p.mu.Lock()
	p.pending = append(p.pending, failed...)
	p.mu.Unlock()

	p.log.Info().
		Int("transactions", len(txs)).
		Int("delivered", res.Delivered).
		Int("failed", res.Failed).
		Int("redelivered", res.Redelivered).
		Int("cursor", next).
		Msg("poll cycle complete")
	return res, nil
}

// retryPending resends notifications that failed on earlier cycles and
// returns how many went through. Users no longer authorized are dropped.
func (p *Poller) retryPending(ctx context.Context) int {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	authorized := make(map[int64]bool)
	for _, userID := range p.recipients.List() {
		authorized[userID] = true
	}

	sent := 0
	var still []delivery
	for _, d := range pending {
		if !authorized[d.userID] {
			continue
		}
		err := p.notifier.Notify(ctx, d.userID, d.tx)
		if err == nil {
			sent++
			continue
		}

		d.attempts++
		if d.attempts >= maxDeliveryAttempts {
			p.log.Error().Err(err).
				Int64("user_id", d.userID).
				Str("transaction_id", d.tx.TransactionID).
				Int("attempts", d.attempts).
				Msg("giving up on notification")
			continue
		}
		still = append(still, d)
	}

	p.mu.Lock()
	p.pending = append(still, p.pending...)
	p.mu.Unlock()
	return sent
}

func (p *Poller) pendingLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// transactions converts records, dropping invalid amounts and repeats of an
// ID already seen in the same batch.
func (p *Poller) transactions(records []domain.RawRecord) []domain.Transaction {
	seen := make(map[string]bool, len(records))
	txs := make([]domain.Transaction, 0, len(records))
	for _, rec := range records {
		tx, err := domain.NewTransaction(rec)
		if err != nil {
			p.log.Warn().Err(err).Str("recipient", rec.Recipient).Msg("skipping record")
			continue
		}
		if seen[tx.TransactionID] {
			p.log.Info().Str("transaction_id", tx.TransactionID).Msg("duplicate record in batch")
			continue
		}
		seen[tx.TransactionID] = true
		txs = append(txs, tx)
	}
	return txs
}
