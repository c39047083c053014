// Package notionsync mirrors reviewed transactions into a Notion database,
// one page per transaction ID.
package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// Sink upserts a page per transaction. Pages are matched on the
// Transaction ID property, so retries update instead of duplicating.
type Sink struct {
	client     NotionService
	databaseID string
	log        zerolog.Logger
}

// NewSink writes to databaseID through client.
func NewSink(client NotionService, databaseID string, log zerolog.Logger) *Sink {
	return &Sink{
		client:     client,
		databaseID: databaseID,
		log:        log.With().Str("sink", "notion").Logger(),
	}
}

// Name implements persistence.Sink.
func (s *Sink) Name() string { return "notion" }

// Write implements persistence.Sink.
func (s *Sink) Write(ctx context.Context, tx domain.Transaction) error {
	pages, err := s.findPages(ctx, tx.TransactionID)
	if err != nil {
		return fmt.Errorf("notion.Write: %w", err)
	}

	props := TransactionToNotionProperties(tx)
	if len(pages) == 0 {
		if _, err := s.client.CreatePage(ctx, s.databaseID, props); err != nil {
			return fmt.Errorf("notion.Write: %w", err)
		}
		s.log.Debug().Str("transaction_id", tx.TransactionID).Msg("created Notion page")
		return nil
	}

	if _, err := s.client.UpdatePage(ctx, string(pages[0].ID), props); err != nil {
		return fmt.Errorf("notion.Write: %w", err)
	}

	// Earlier failed runs can leave extra pages behind.
	for _, dup := range pages[1:] {
		if err := s.client.ArchivePage(ctx, string(dup.ID)); err != nil {
			s.log.Warn().Err(err).Str("page_id", string(dup.ID)).Msg("failed to archive duplicate page")
		}
	}
	return nil
}

// findPages returns every page whose Transaction ID equals id, handling
// pagination.
func (s *Sink) findPages(ctx context.Context, id string) ([]notionapi.Page, error) {
	var pages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter: notionapi.PropertyFilter{
				Property: PropTransactionID,
				RichText: &notionapi.TextFilterCondition{Equals: id},
			},
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := s.client.QueryDatabase(ctx, s.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("findPages: %w", err)
		}
		for _, p := range resp.Results {
			// Skip pages whose Transaction ID could not be read back.
			if extractTransactionID(p) == id {
				pages = append(pages, p)
			}
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return pages, nil
}
