package notionsync

import (
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// Property names of the reviewed transactions database.
const (
	PropRecipient     = "Recipient"
	PropTransactionID = "Transaction ID"
	PropDate          = "Date"
	PropTime          = "Time"
	PropAmount        = "Amount"
	PropBank          = "Bank"
	PropMode          = "Mode"
	PropCategory      = "Category"
	PropIsShared      = "Is Shared"
	PropUserShare     = "User Share"
)

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: s,
			},
		},
	}
}

// TransactionToNotionProperties converts a reviewed transaction to Notion
// page properties. The recipient is the page title.
func TransactionToNotionProperties(tx domain.Transaction) notionapi.Properties {
	props := notionapi.Properties{
		PropRecipient: notionapi.TitleProperty{
			Title: richText(tx.Recipient),
		},
		PropTransactionID: notionapi.RichTextProperty{
			RichText: richText(tx.TransactionID),
		},
		PropAmount: notionapi.NumberProperty{
			Number: tx.Amount.InexactFloat64(),
		},
		PropUserShare: notionapi.NumberProperty{
			Number: tx.UserShare.InexactFloat64(),
		},
		PropIsShared: notionapi.CheckboxProperty{
			Checkbox: tx.Shared(),
		},
	}

	// Date
	if d, err := time.Parse("2006-01-02", strings.TrimSpace(tx.Date)); err == nil {
		start := notionapi.Date(d)
		props[PropDate] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &start},
		}
	}

	if tx.Time != "" {
		props[PropTime] = notionapi.RichTextProperty{RichText: richText(tx.Time)}
	}
	if tx.Bank != "" {
		props[PropBank] = notionapi.SelectProperty{Select: notionapi.Option{Name: tx.Bank}}
	}
	if tx.Mode != "" {
		props[PropMode] = notionapi.SelectProperty{Select: notionapi.Option{Name: tx.Mode}}
	}
	// Select option names cannot contain commas.
	if c := tx.CategoryName(); c != "" {
		props[PropCategory] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: strings.ReplaceAll(c, ",", "")},
		}
	}

	return props
}

// extractTransactionID extracts the transaction ID from a Notion page's properties.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(rt.RichText) > 0 {
				return rt.RichText[0].PlainText
			}
		}
	}
	return ""
}
