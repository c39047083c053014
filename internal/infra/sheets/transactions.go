package sheets

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// Column names shared by the raw and reviewed tabs.
const (
	ColTransactionID = "Transaction ID"
	ColDate          = "Date"
	ColTime          = "Time"
	ColRecipient     = "Recipient"
	ColAmount        = "Amount"
	ColBank          = "Bank"
	ColMode          = "Mode"
	ColCategory      = "Category"
	ColIsShared      = "Is Shared"
	ColUserShare     = "User Share"

	yesValue = "Yes"
	noValue  = "No"
)

// RawColumns is the header of the raw transactions tab.
var RawColumns = []string{
	ColTransactionID, ColDate, ColTime, ColRecipient, ColAmount, ColBank, ColMode,
}

// ReviewedColumns is the header of the reviewed transactions tab.
var ReviewedColumns = append(append([]string(nil), RawColumns...), ColCategory, ColIsShared, ColUserShare)

// RawSource exposes the raw tab as an ingest.RowSource.
type RawSource struct {
	client *Client
	sheet  string
}

// NewRawSource reads rows from the named tab.
func NewRawSource(client *Client, sheet string) *RawSource {
	return &RawSource{client: client, sheet: sheet}
}

// Rows returns the full snapshot of the tab, header first.
func (s *RawSource) Rows(ctx context.Context) ([][]string, error) {
	rows, err := s.client.Values(ctx, s.sheet)
	if err != nil {
		if code := StatusCode(err); code != 0 {
			s.client.log.Warn().Int("status", code).Str("sheet", s.sheet).Msg("sheet read failed")
		}
		return nil, err
	}
	return rows, nil
}

// Reconnect rebuilds the underlying service.
func (s *RawSource) Reconnect(ctx context.Context) error {
	return s.client.Reconnect(ctx)
}

// ReviewedSink appends finalized transactions to the reviewed tab. It is the
// primary sink: its result is what the user is told.
type ReviewedSink struct {
	client *Client
	sheet  string
}

// NewReviewedSink writes to the named tab.
func NewReviewedSink(client *Client, sheet string) *ReviewedSink {
	return &ReviewedSink{client: client, sheet: sheet}
}

// Name implements persistence.Sink.
func (s *ReviewedSink) Name() string { return "sheets" }

// Write implements persistence.Sink.
func (s *ReviewedSink) Write(ctx context.Context, tx domain.Transaction) error {
	if err := s.client.appendWithHeader(ctx, s.sheet, ReviewedColumns, reviewedValues(tx)); err != nil {
		return fmt.Errorf("ReviewedSink.Write: %w", err)
	}
	return nil
}

// RawAppender adds imported transactions to the raw tab, where the poller
// will pick them up.
type RawAppender struct {
	client *Client
	sheet  string
}

// NewRawAppender writes to the named tab.
func NewRawAppender(client *Client, sheet string) *RawAppender {
	return &RawAppender{client: client, sheet: sheet}
}

// Append adds one uncategorized transaction.
func (a *RawAppender) Append(ctx context.Context, tx domain.Transaction) error {
	if err := a.client.appendWithHeader(ctx, a.sheet, RawColumns, rawValues(tx)); err != nil {
		return fmt.Errorf("RawAppender.Append: %w", err)
	}
	return nil
}

func rawValues(tx domain.Transaction) map[string]string {
	return map[string]string{
		ColTransactionID: tx.TransactionID,
		ColDate:          tx.Date,
		ColTime:          tx.Time,
		ColRecipient:     tx.Recipient,
		ColAmount:        domain.FormatAmount(tx.Amount),
		ColBank:          tx.Bank,
		ColMode:          tx.Mode,
	}
}

func reviewedValues(tx domain.Transaction) map[string]string {
	v := rawValues(tx)
	v[ColCategory] = tx.CategoryName()
	v[ColIsShared] = noValue
	if tx.Shared() {
		v[ColIsShared] = yesValue
	}
	v[ColUserShare] = domain.FormatAmount(tx.UserShare)
	return v
}
