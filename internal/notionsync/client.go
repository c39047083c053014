package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"
)

// NotionService is the subset of the Notion API the sink needs.
type NotionService interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)

	// ArchivePage moves a page to the trash.
	ArchivePage(ctx context.Context, pageID string) error
}

// RequestsPerSecond is Notion's documented average rate limit per
// integration.
const RequestsPerSecond = 3

// NotionClient calls Notion through jomei/notionapi, spacing requests to stay
// under the integration rate limit.
type NotionClient struct {
	client  *notionapi.Client
	limiter *rate.Limiter
}

var _ NotionService = (*NotionClient)(nil)

// NewNotionClient creates a client for the integration token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{
		client:  notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(rate.Limit(RequestsPerSecond), 1),
	}
}

// CreatePage adds a page to databaseID.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}

	page, err := n.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// UpdatePage overwrites the given properties of a page.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("UpdatePage: %w", err)
	}

	page, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage %s: %w", pageID, err)
	}
	return page, nil
}

// QueryDatabase returns one page of query results.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}

	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	return resp, nil
}

// ArchivePage implements NotionService.
func (n *NotionClient) ArchivePage(ctx context.Context, pageID string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ArchivePage: %w", err)
	}

	_, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Archived: true,
	})
	if err != nil {
		return fmt.Errorf("ArchivePage %s: %w", pageID, err)
	}
	return nil
}
