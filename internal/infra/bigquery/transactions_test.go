package bigquery

import (
	"math/big"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

func TestNewReviewedTransactionRow(t *testing.T) {
	category := "Shopping"
	shared := true
	reviewed := time.Date(2025, 3, 2, 9, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))

	tx := domain.Transaction{
		TransactionID: "0123456789abcdef0123456789abcdef",
		Date:          "2025-03-01",
		Time:          "18:45:00",
		Recipient:     "Bookshop",
		Amount:        decimal.RequireFromString("1250.75"),
		Bank:          "HSBC",
		Mode:          "CreditCard",
		Category:      &category,
		IsShared:      &shared,
		UserShare:     decimal.RequireFromString("625.375"),
	}

	row := NewReviewedTransactionRow(tx, reviewed)

	if row.TransactionID != tx.TransactionID {
		t.Errorf("TransactionID = %q", row.TransactionID)
	}
	wantDate := bigquery.NullDate{Date: civil.Date{Year: 2025, Month: time.March, Day: 1}, Valid: true}
	if row.TransactionDate != wantDate {
		t.Errorf("TransactionDate = %+v, want %+v", row.TransactionDate, wantDate)
	}
	if !row.TransactionTime.Valid || row.TransactionTime.StringVal != "18:45:00" {
		t.Errorf("TransactionTime = %+v", row.TransactionTime)
	}
	if row.Amount.Cmp(big.NewRat(125075, 100)) != 0 {
		t.Errorf("Amount = %s", row.Amount.RatString())
	}
	if row.UserShare.Cmp(big.NewRat(625375, 1000)) != 0 {
		t.Errorf("UserShare = %s", row.UserShare.RatString())
	}
	if !row.Category.Valid || row.Category.StringVal != "Shopping" {
		t.Errorf("Category = %+v", row.Category)
	}
	if !row.IsShared.Valid || !row.IsShared.Bool {
		t.Errorf("IsShared = %+v", row.IsShared)
	}
	if row.ReviewedTS.Location() != time.UTC || !row.ReviewedTS.Equal(reviewed) {
		t.Errorf("ReviewedTS = %v", row.ReviewedTS)
	}
}

func TestNewReviewedTransactionRow_Nulls(t *testing.T) {
	tx := domain.Transaction{
		TransactionID: "id",
		Date:          "01/03/2025",
		Amount:        decimal.NewFromInt(10),
		UserShare:     decimal.NewFromInt(10),
	}

	row := NewReviewedTransactionRow(tx, time.Now())

	if row.TransactionDate.Valid {
		t.Errorf("TransactionDate should be NULL for non-ISO date, got %+v", row.TransactionDate)
	}
	if row.TransactionTime.Valid || row.Category.Valid || row.IsShared.Valid {
		t.Errorf("expected NULL time, category and is_shared, got %+v", row)
	}
}

func TestSchema(t *testing.T) {
	schema, err := Schema()
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}

	want := map[string]bigquery.FieldType{
		"transaction_id":   bigquery.StringFieldType,
		"transaction_date": bigquery.DateFieldType,
		"amount":           bigquery.NumericFieldType,
		"is_shared":        bigquery.BooleanFieldType,
		"user_share":       bigquery.NumericFieldType,
		"reviewed_ts":      bigquery.TimestampFieldType,
	}
	got := make(map[string]*bigquery.FieldSchema, len(schema))
	for _, f := range schema {
		got[f.Name] = f
	}
	for name, typ := range want {
		f, ok := got[name]
		if !ok {
			t.Errorf("schema missing %s", name)
			continue
		}
		if f.Type != typ {
			t.Errorf("%s type = %s, want %s", name, f.Type, typ)
		}
	}
	if !got["transaction_id"].Required {
		t.Error("transaction_id should be REQUIRED")
	}
	if got["category"].Required {
		t.Error("category should be NULLABLE")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(&googleapi.Error{Code: http.StatusNotFound}) {
		t.Error("404 should be not found")
	}
	if isNotFound(&googleapi.Error{Code: http.StatusForbidden}) {
		t.Error("403 should not be not found")
	}
}
