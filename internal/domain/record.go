package domain

import (
	"fmt"
	"strings"

	"github.com/dvloznov/expense-review-bot/internal/identity"
)

// ID returns the record's transaction ID. An ID already stored with the row
// is kept as is, so rows written by earlier importers keep matching the sinks
// even where those formatted the amount differently. Otherwise the ID is
// derived from the record's content.
func (r RawRecord) ID() string {
	if id := strings.ToLower(strings.TrimSpace(r.SourceID)); identity.Valid(id) {
		return id
	}
	return identity.TransactionID(
		strings.TrimSpace(r.Date),
		strings.TrimSpace(r.Recipient),
		CanonicalAmount(r.Amount),
		strings.TrimSpace(r.Bank),
	)
}

// NewTransaction builds an uncategorized Transaction from a raw record.
// It fails when the amount is not a non-negative number.
func NewTransaction(r RawRecord) (Transaction, error) {
	amount, err := ParseAmount(r.Amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("NewTransaction: amount %q: %w", r.Amount, err)
	}
	if amount.IsNegative() {
		return Transaction{}, fmt.Errorf("NewTransaction: amount %q is negative", r.Amount)
	}

	return Transaction{
		TransactionID: r.ID(),
		Date:          strings.TrimSpace(r.Date),
		Time:          strings.TrimSpace(r.Time),
		Recipient:     strings.TrimSpace(r.Recipient),
		Amount:        amount,
		Bank:          strings.TrimSpace(r.Bank),
		Mode:          strings.TrimSpace(r.Mode),
	}, nil
}
