package mail

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/cursor"
	"github.com/dvloznov/expense-review-bot/internal/domain"
	"github.com/dvloznov/expense-review-bot/internal/ingest"
)

// Appender stores an imported transaction in the raw sheet.
type Appender interface {
	Append(ctx context.Context, tx domain.Transaction) error
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
	Labelled   int `json:"labelled"`
	Previous   int `json:"previous_cursor"`
	Cursor     int `json:"cursor"`
}

// Importer copies new alerts from a label to the raw sheet. It keeps its
// own cursor over the label snapshot.
type Importer struct {
	source   *LabelSource
	reader   *ingest.Reader
	mailbox  Mailbox
	cursor   cursor.Store
	appender Appender
	log      zerolog.Logger
}

// NewImporter wires an importer.
func NewImporter(source *LabelSource, mailbox Mailbox, store cursor.Store, appender Appender, log zerolog.Logger) *Importer {
	return &Importer{
		source:   source,
		reader:   ingest.NewReader(source, log),
		mailbox:  mailbox,
		cursor:   store,
		appender: appender,
		log:      log.With().Str("component", "importer").Logger(),
	}
}

// Run imports every alert after the cursor. The cursor is saved only after
// all new rows were appended, so a failed run is repeated in full.
func (im *Importer) Run(ctx context.Context) (ImportResult, error) {
	prev, err := im.cursor.Load(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("Importer.Run: loading cursor: %w", err)
	}
	res := ImportResult{Previous: prev, Cursor: prev}

	records, next, err := im.reader.Poll(ctx, prev)
	if err != nil {
		return res, fmt.Errorf("Importer.Run: %w", err)
	}
	if next == prev {
		im.log.Debug().Int("cursor", prev).Msg("no new alerts")
		return res, nil
	}

	seen := make(map[string]bool, len(records))
	for _, r := range records {
		tx, err := domain.NewTransaction(r)
		if err != nil {
			res.Invalid++
			im.log.Warn().Err(err).Msg("dropping alert")
			continue
		}
		if seen[tx.TransactionID] {
			res.Duplicates++
			continue
		}
		seen[tx.TransactionID] = true

		if err := im.appender.Append(ctx, tx); err != nil {
			return res, fmt.Errorf("Importer.Run: %w", err)
		}
		res.Imported++
		im.log.Info().
			Str("transaction_id", tx.TransactionID).
			Str("bank", tx.Bank).
			Str("recipient", tx.Recipient).
			Msg("imported alert")
	}

	if labelID := im.source.ProcessedLabelID(); labelID != "" {
		for _, id := range im.source.MessageIDs(prev+1, next) {
			if err := im.mailbox.AddLabel(ctx, id, labelID); err != nil {
				im.log.Warn().Err(err).Str("message_id", id).Msg("failed to mark message processed")
				continue
			}
			res.Labelled++
		}
	}

	if err := im.cursor.Save(ctx, next); err != nil {
		return res, fmt.Errorf("Importer.Run: saving cursor: %w", err)
	}
	res.Cursor = next
	im.log.Info().
		Int("imported", res.Imported).
		Int("cursor", next).
		Msg("mail import finished")
	return res, nil
}
