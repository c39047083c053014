// Package app builds the shared components of the bot and the operator CLI
// from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/config"
	"github.com/dvloznov/expense-review-bot/internal/cursor"
	infraBQ "github.com/dvloznov/expense-review-bot/internal/infra/bigquery"
	"github.com/dvloznov/expense-review-bot/internal/infra/postgres"
	"github.com/dvloznov/expense-review-bot/internal/infra/sheets"
	"github.com/dvloznov/expense-review-bot/internal/ingest"
	"github.com/dvloznov/expense-review-bot/internal/mail"
	"github.com/dvloznov/expense-review-bot/internal/notionsync"
	"github.com/dvloznov/expense-review-bot/internal/persistence"
)

// Closers collects cleanup functions and runs them in reverse order.
type Closers []func() error

// Add registers fn.
func (c *Closers) Add(fn func() error) { *c = append(*c, fn) }

// Close runs every registered function, logging failures.
func (c Closers) Close(log zerolog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Error().Err(err).Msg("Cleanup failed")
		}
	}
}

// OpenCursor returns the store for the sheet poller cursor, or for the mail
// importer cursor when mail is true.
func OpenCursor(ctx context.Context, cfg *config.Config, mail bool) (cursor.Store, io.Closer, error) {
	switch cfg.Cursor.Backend {
	case "gcs":
		object := cfg.Cursor.Object
		if mail {
			object = cfg.Cursor.MailObject
		}
		store, err := cursor.NewGCSStore(ctx, cfg.Cursor.Bucket, object)
		if err != nil {
			return nil, nil, fmt.Errorf("OpenCursor: %w", err)
		}
		return store, store, nil
	default:
		path := cfg.Cursor.Path
		if mail {
			path = cfg.Cursor.MailPath
		}
		return cursor.NewFileStore(path), nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenSheets connects to the spreadsheet and makes sure both tabs exist.
func OpenSheets(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sheets.Client, error) {
	client, err := sheets.New(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.CredentialsFile, log)
	if err != nil {
		return nil, fmt.Errorf("OpenSheets: %w", err)
	}
	if err := client.EnsureSheets(ctx, cfg.Sheets.RawSheet, cfg.Sheets.ReviewedSheet); err != nil {
		return nil, fmt.Errorf("OpenSheets: %w", err)
	}
	return client, nil
}

// NewPreviewPoller builds a poller over the raw tab that is only used for
// Preview, so it has no notifier or recipients.
func NewPreviewPoller(client *sheets.Client, cfg *config.Config, store cursor.Store, log zerolog.Logger) *ingest.Poller {
	reader := ingest.NewReader(sheets.NewRawSource(client, cfg.Sheets.RawSheet), log)
	return ingest.NewPoller(reader, store, nil, nil, log)
}

// OpenPostgres connects the Postgres sink.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*postgres.Sink, *pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return postgres.Connect(ctx, cfg.Sinks.Postgres.DSN, cfg.Sinks.Postgres.Table)
}

// OpenBigQuery connects the BigQuery sink.
func OpenBigQuery(ctx context.Context, cfg *config.Config) (*infraBQ.Sink, error) {
	bq := cfg.Sinks.BigQuery
	return infraBQ.NewSink(ctx, bq.ProjectID, bq.Dataset, bq.Table)
}

// Secondaries opens every enabled secondary sink. On error the sinks opened
// so far are already registered with closers.
func Secondaries(ctx context.Context, cfg *config.Config, closers *Closers, log zerolog.Logger) ([]persistence.Sink, error) {
	var sinks []persistence.Sink

	if cfg.Sinks.BigQuery.Enabled {
		sink, err := OpenBigQuery(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("Secondaries: %w", err)
		}
		closers.Add(sink.Close)
		sinks = append(sinks, sink)
	}

	if cfg.Sinks.Postgres.Enabled {
		sink, pool, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("Secondaries: %w", err)
		}
		closers.Add(func() error { pool.Close(); return nil })
		sinks = append(sinks, sink)
	}

	if cfg.Sinks.Notion.Enabled {
		client := notionsync.NewNotionClient(cfg.Sinks.Notion.Token)
		sinks = append(sinks, notionsync.NewSink(client, cfg.Sinks.Notion.DatabaseID, log))
	}

	return sinks, nil
}

// NewMailImporter wires the Gmail label source to the raw tab.
func NewMailImporter(ctx context.Context, cfg *config.Config, client *sheets.Client, store cursor.Store, log zerolog.Logger) (*mail.Importer, error) {
	mailbox, err := mail.NewGmailMailbox(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("NewMailImporter: %w", err)
	}
	source := mail.NewLabelSource(mailbox, cfg.Gmail.Label, cfg.Gmail.ProcessedLabel, time.Local, log)
	appender := sheets.NewRawAppender(client, cfg.Sheets.RawSheet)
	return mail.NewImporter(source, mailbox, store, appender, log), nil
}
