package notionsync

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-review-bot/internal/domain"
	"github.com/dvloznov/expense-review-bot/internal/logger"
)

// MockNotionService is a mock implementation of NotionService for testing.
type MockNotionService struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePageFunc    func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabaseFunc func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	ArchivePageFunc   func(ctx context.Context, pageID string) error

	created []notionapi.Properties
	updated []string
	deleted []string
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	m.created = append(m.created, properties)
	if m.CreatePageFunc != nil {
		return m.CreatePageFunc(ctx, databaseID, properties)
	}
	return &notionapi.Page{ID: "new-page"}, nil
}

func (m *MockNotionService) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	m.updated = append(m.updated, pageID)
	if m.UpdatePageFunc != nil {
		return m.UpdatePageFunc(ctx, pageID, properties)
	}
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if m.QueryDatabaseFunc != nil {
		return m.QueryDatabaseFunc(ctx, databaseID, filter)
	}
	return &notionapi.DatabaseQueryResponse{}, nil
}

func (m *MockNotionService) ArchivePage(ctx context.Context, pageID string) error {
	m.deleted = append(m.deleted, pageID)
	if m.ArchivePageFunc != nil {
		return m.ArchivePageFunc(ctx, pageID)
	}
	return nil
}

func pageWithID(pageID, txID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			PropTransactionID: &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: txID}},
			},
		},
	}
}

func testTransaction() domain.Transaction {
	category := "Health & Wellbeing"
	shared := true
	return domain.Transaction{
		TransactionID: "tx-1",
		Date:          "2025-03-01",
		Time:          "08:00:00",
		Recipient:     "Pharmacy",
		Amount:        decimal.RequireFromString("300"),
		Bank:          "Kotak",
		Mode:          "UPI",
		Category:      &category,
		IsShared:      &shared,
		UserShare:     decimal.RequireFromString("150"),
	}
}

func TestSink_WriteCreatesPage(t *testing.T) {
	var gotFilter notionapi.Filter
	mock := &MockNotionService{
		QueryDatabaseFunc: func(_ context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			if dbID != "db" {
				t.Errorf("database = %q, want db", dbID)
			}
			gotFilter = req.Filter
			return &notionapi.DatabaseQueryResponse{}, nil
		},
	}

	if err := NewSink(mock, "db", logger.Nop()).Write(context.Background(), testTransaction()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	pf, ok := gotFilter.(notionapi.PropertyFilter)
	if !ok || pf.Property != PropTransactionID || pf.RichText == nil || pf.RichText.Equals != "tx-1" {
		t.Errorf("filter = %#v", gotFilter)
	}
	if len(mock.created) != 1 || len(mock.updated) != 0 {
		t.Fatalf("created %d, updated %d; want 1, 0", len(mock.created), len(mock.updated))
	}
}

func TestSink_WriteUpdatesAndArchivesDuplicates(t *testing.T) {
	calls := 0
	mock := &MockNotionService{
		QueryDatabaseFunc: func(_ context.Context, _ string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			calls++
			if calls == 1 {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{pageWithID("p1", "tx-1"), pageWithID("other", "tx-9")},
					HasMore:    true,
					NextCursor: "c2",
				}, nil
			}
			if req.StartCursor != "c2" {
				t.Errorf("StartCursor = %q, want c2", req.StartCursor)
			}
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{pageWithID("p2", "tx-1")}}, nil
		},
	}

	if err := NewSink(mock, "db", logger.Nop()).Write(context.Background(), testTransaction()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if len(mock.updated) != 1 || mock.updated[0] != "p1" {
		t.Errorf("updated = %v, want [p1]", mock.updated)
	}
	if len(mock.deleted) != 1 || mock.deleted[0] != "p2" {
		t.Errorf("deleted = %v, want [p2]", mock.deleted)
	}
	if len(mock.created) != 0 {
		t.Errorf("created %d pages, want 0", len(mock.created))
	}
}

func TestSink_WriteQueryError(t *testing.T) {
	boom := errors.New("rate limited")
	mock := &MockNotionService{
		QueryDatabaseFunc: func(context.Context, string, *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return nil, boom
		},
	}

	err := NewSink(mock, "db", logger.Nop()).Write(context.Background(), testTransaction())
	if !errors.Is(err, boom) {
		t.Errorf("Write() error = %v, want %v", err, boom)
	}
	if len(mock.created) != 0 {
		t.Error("no page should be created when the lookup fails")
	}
}

func TestTransactionToNotionProperties(t *testing.T) {
	props := TransactionToNotionProperties(testTransaction())

	title, ok := props[PropRecipient].(notionapi.TitleProperty)
	if !ok || title.Title[0].Text.Content != "Pharmacy" {
		t.Errorf("title = %#v", props[PropRecipient])
	}
	if n := props[PropAmount].(notionapi.NumberProperty).Number; n != 300 {
		t.Errorf("amount = %v, want 300", n)
	}
	if n := props[PropUserShare].(notionapi.NumberProperty).Number; n != 150 {
		t.Errorf("user share = %v, want 150", n)
	}
	if !props[PropIsShared].(notionapi.CheckboxProperty).Checkbox {
		t.Error("is shared should be checked")
	}
	if c := props[PropCategory].(notionapi.SelectProperty).Select.Name; c != "Health & Wellbeing" {
		t.Errorf("category = %q", c)
	}
	if _, ok := props[PropDate].(notionapi.DateProperty); !ok {
		t.Error("date property missing")
	}
}

func TestTransactionToNotionProperties_Optional(t *testing.T) {
	props := TransactionToNotionProperties(domain.Transaction{TransactionID: "x", Date: "yesterday"})

	for _, name := range []string{PropDate, PropTime, PropBank, PropMode, PropCategory} {
		if _, ok := props[name]; ok {
			t.Errorf("property %q should be omitted", name)
		}
	}
	if props[PropIsShared].(notionapi.CheckboxProperty).Checkbox {
		t.Error("unset sharing should be unchecked")
	}
}
