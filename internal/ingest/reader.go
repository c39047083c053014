// Package ingest turns a polled, append-only record source into a stream of
// records that have not been seen before.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// MinColumns is the number of cells a header or data row must have.
// Columns are positional: id, date, time, recipient, amount, bank, mode.
const MinColumns = 7

const (
	colID = iota
	colDate
	colTime
	colRecipient
	colAmount
	colBank
	colMode
)

// ErrSourceUnavailable is returned when the source could not be read even
// after reconnecting.
var ErrSourceUnavailable = errors.New("ingest: source unavailable")

// RowSource is a tabular snapshot of an append-only source. Row 0 is the
// header. Rows never move once written.
type RowSource interface {
	// Rows returns the full current contents of the source.
	Rows(ctx context.Context) ([][]string, error)
	// Reconnect re-establishes the underlying client after a failed read.
	Reconnect(ctx context.Context) error
}

// Reader reads the records that appear after a cursor.
type Reader struct {
	source RowSource
	log    zerolog.Logger
}

// NewReader creates a Reader over source.
func NewReader(source RowSource, log zerolog.Logger) *Reader {
	return &Reader{source: source, log: log.With().Str("component", "reader").Logger()}
}

// Poll returns the valid records strictly after cursor together with the
// new cursor. The new cursor is the index of the last row of the snapshot
// when at least one valid record was found, and cursor otherwise. Rows with
// fewer than MinColumns cells are skipped. A missing or short header yields
// no records and no error.
//
// A read failure is retried once after Reconnect. If that fails too the
// error wraps ErrSourceUnavailable and the returned cursor is the input.
func (r *Reader) Poll(ctx context.Context, cursor int) ([]domain.RawRecord, int, error) {
	rows, err := r.read(ctx)
	if err != nil {
		return nil, cursor, err
	}

	if len(rows) == 0 {
		return nil, cursor, nil
	}

	if header := rows[0]; len(header) < MinColumns {
		r.log.Error().
			Strs("header", header).
			Int("min_columns", MinColumns).
			Msg("source does not have the expected columns")
		return nil, cursor, nil
	}

	// Rows are only ever appended; a shorter snapshot means rows were
	// deleted and anything appended until it grows back is not seen.
	if cursor >= len(rows) {
		r.log.Warn().
			Int("cursor", cursor).
			Int("rows", len(rows)).
			Msg("source has fewer rows than the cursor")
	}

	start := cursor + 1
	if start < 1 {
		start = 1
	}

	var records []domain.RawRecord
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if len(row) < MinColumns {
			r.log.Debug().Int("row", i).Int("cells", len(row)).Msg("skipping short row")
			continue
		}
		records = append(records, domain.RawRecord{
			SourceID:  row[colID],
			Date:      row[colDate],
			Time:      row[colTime],
			Recipient: row[colRecipient],
			Amount:    row[colAmount],
			Bank:      row[colBank],
			Mode:      row[colMode],
		})
	}

	if len(records) == 0 {
		return nil, cursor, nil
	}
	return records, len(rows) - 1, nil
}

func (r *Reader) read(ctx context.Context) ([][]string, error) {
	rows, err := r.source.Rows(ctx)
	if err == nil {
		return rows, nil
	}

	r.log.Warn().Err(err).Msg("reading source failed, reconnecting")

	if rerr := r.source.Reconnect(ctx); rerr != nil {
		return nil, fmt.Errorf("Reader.Poll: reconnect: %w: %w", ErrSourceUnavailable, rerr)
	}

	rows, err = r.source.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("Reader.Poll: read after reconnect: %w: %w", ErrSourceUnavailable, err)
	}
	return rows, nil
}
