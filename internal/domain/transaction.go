package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RawRecord is one normalized entry read from a record source (a row of the
// raw transactions sheet or a parsed bank email). It is never mutated after
// being read.
type RawRecord struct {
	// SourceID is the key stored with the row, if any. It becomes the
	// transaction ID when it is one.
	SourceID  string
	Date      string
	Time      string
	Recipient string
	Amount    string
	Bank      string
	Mode      string
}

// Transaction is the canonical entity carried through a review conversation.
// Category and IsShared stay nil until the user answers the matching question.
// UserShare is only meaningful once IsShared is set; for solo expenses it is
// the full Amount.
type Transaction struct {
	TransactionID string          `json:"transaction_id"`
	Date          string          `json:"date"`
	Time          string          `json:"time,omitempty"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	Bank          string          `json:"bank"`
	Mode          string          `json:"mode"`

	Category  *string         `json:"category,omitempty"`
	IsShared  *bool           `json:"is_shared,omitempty"`
	UserShare decimal.Decimal `json:"user_share"`
}

// Clone returns a deep copy so the caller can't mutate shared pointers.
func (t Transaction) Clone() Transaction {
	c := t
	if t.Category != nil {
		v := *t.Category
		c.Category = &v
	}
	if t.IsShared != nil {
		v := *t.IsShared
		c.IsShared = &v
	}
	return c
}

// CategoryName returns the category or "" when not chosen yet.
func (t Transaction) CategoryName() string {
	if t.Category == nil {
		return ""
	}
	return *t.Category
}

// Shared reports whether the user marked the expense as shared.
func (t Transaction) Shared() bool {
	return t.IsShared != nil && *t.IsShared
}

// ParseAmount parses an amount as written in a sheet cell or email body.
// Thousands separators and surrounding whitespace are tolerated.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return decimal.NewFromString(s)
}

// ParseShare parses an amount typed by a user. Unlike ParseAmount it does
// not tolerate separators, so "1,5" is rejected rather than read as 15.
func ParseShare(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// FormatAmount renders an amount in its canonical form ("250", "99.5").
// Identity fingerprints use this form so that "250.00" and "250" converge.
func FormatAmount(d decimal.Decimal) string {
	return d.String()
}

// CanonicalAmount canonicalizes a raw amount string. Unparseable input is
// returned trimmed and otherwise untouched.
func CanonicalAmount(s string) string {
	d, err := ParseAmount(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return FormatAmount(d)
}
