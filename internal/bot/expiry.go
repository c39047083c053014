package bot

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// ExpireIdle closes conversations idle for longer than ttl and tells each
// user which transaction was dropped. It returns the number closed.
//
// Each user is swept under that user's lock, so an expiry never lands in
// the middle of a callback or reply being handled.
func (m *Machine) ExpireIdle(ctx context.Context, ttl time.Duration) int {
	closed := 0
	for _, userID := range m.store.IdleUsers(ttl) {
		closed += m.expireUser(ctx, userID, ttl)
	}
	return closed
}

func (m *Machine) expireUser(ctx context.Context, userID int64, ttl time.Duration) int {
	unlock := m.locks.Lock(userID)
	defer unlock()

	expired := m.store.Sweep(userID, ttl)
	for _, e := range expired {
		recipient, amount := e.TransactionID, ""
		if e.Transaction != nil {
			recipient = e.Transaction.Recipient
			amount = domain.FormatAmount(e.Transaction.Amount)
		}

		text := fmt.Sprintf(msgExpired, html.EscapeString(recipient), amount)
		if _, err := m.transport.Send(ctx, e.UserID, Outgoing{Text: text, HTML: true}); err != nil {
			m.log.Error().Err(err).Int64("user_id", e.UserID).Msg("failed to send expiry notice")
		}
		m.log.Info().
			Int64("user_id", e.UserID).
			Str("transaction_id", e.TransactionID).
			Str("state", e.StateName).
			Msg("conversation expired")
	}
	return len(expired)
}

// RunExpiry sweeps every interval until ctx is done. A zero ttl disables it.
func (m *Machine) RunExpiry(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ExpireIdle(ctx, ttl)
		}
	}
}
