package bigquery

import (
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// ReviewedTransactionRow is one row of the reviewed transactions table.
type ReviewedTransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	TransactionDate bigquery.NullDate   `bigquery:"transaction_date"` // NULLABLE, partition column
	TransactionTime bigquery.NullString `bigquery:"transaction_time"` // NULLABLE

	Recipient string   `bigquery:"recipient"` // REQUIRED STRING
	Amount    *big.Rat `bigquery:"amount"`    // REQUIRED NUMERIC
	Bank      string   `bigquery:"bank"`      // REQUIRED STRING
	Mode      string   `bigquery:"mode"`      // REQUIRED STRING

	Category  bigquery.NullString `bigquery:"category"`   // NULLABLE
	IsShared  bigquery.NullBool   `bigquery:"is_shared"`  // NULLABLE
	UserShare *big.Rat            `bigquery:"user_share"` // REQUIRED NUMERIC

	ReviewedTS time.Time `bigquery:"reviewed_ts"` // REQUIRED
}

const dateFormat = "2006-01-02"

// NewReviewedTransactionRow converts a finalized transaction. Dates that are
// not ISO formatted are stored as NULL.
func NewReviewedTransactionRow(tx domain.Transaction, reviewed time.Time) *ReviewedTransactionRow {
	row := &ReviewedTransactionRow{
		TransactionID: tx.TransactionID,
		Recipient:     tx.Recipient,
		Amount:        tx.Amount.Rat(),
		Bank:          tx.Bank,
		Mode:          tx.Mode,
		UserShare:     tx.UserShare.Rat(),
		ReviewedTS:    reviewed.UTC(),
	}

	if t, err := time.Parse(dateFormat, strings.TrimSpace(tx.Date)); err == nil {
		row.TransactionDate = bigquery.NullDate{Date: civil.DateOf(t), Valid: true}
	}
	if tx.Time != "" {
		row.TransactionTime = bigquery.NullString{StringVal: tx.Time, Valid: true}
	}
	if tx.Category != nil {
		row.Category = bigquery.NullString{StringVal: *tx.Category, Valid: true}
	}
	if tx.IsShared != nil {
		row.IsShared = bigquery.NullBool{Bool: *tx.IsShared, Valid: true}
	}
	return row
}
