package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/expense-review-bot/internal/logger"
)

// MockRowSource is a mock implementation of RowSource for testing.
type MockRowSource struct {
	RowsFunc      func(ctx context.Context) ([][]string, error)
	ReconnectFunc func(ctx context.Context) error

	RowsCalls      int
	ReconnectCalls int
}

func (m *MockRowSource) Rows(ctx context.Context) ([][]string, error) {
	m.RowsCalls++
	if m.RowsFunc != nil {
		return m.RowsFunc(ctx)
	}
	return nil, nil
}

func (m *MockRowSource) Reconnect(ctx context.Context) error {
	m.ReconnectCalls++
	if m.ReconnectFunc != nil {
		return m.ReconnectFunc(ctx)
	}
	return nil
}

func staticRows(rows [][]string) *MockRowSource {
	return &MockRowSource{RowsFunc: func(ctx context.Context) ([][]string, error) { return rows, nil }}
}

var header = []string{"Transaction ID", "Date", "Time", "Recipient", "Amount", "Bank", "Mode"}

func row(recipient, amount string) []string {
	return []string{"", "2024-01-05", "10:00", recipient, amount, "HDFC", "UPI"}
}

func TestReader_Poll(t *testing.T) {
	tests := []struct {
		name           string
		rows           [][]string
		cursor         int
		wantRecipients []string
		wantCursor     int
	}{
		{
			name:       "empty source",
			rows:       nil,
			cursor:     4,
			wantCursor: 4,
		},
		{
			name:       "short header",
			rows:       [][]string{{"Date", "Amount"}, row("Cafe X", "250")},
			cursor:     0,
			wantCursor: 0,
		},
		{
			name:           "all rows new",
			rows:           [][]string{header, row("A", "1"), row("B", "2"), row("C", "3")},
			cursor:         0,
			wantRecipients: []string{"A", "B", "C"},
			wantCursor:     3,
		},
		{
			name:           "negative cursor starts after header",
			rows:           [][]string{header, row("A", "1")},
			cursor:         -3,
			wantRecipients: []string{"A"},
			wantCursor:     1,
		},
		{
			name:           "only rows after cursor",
			rows:           [][]string{header, row("A", "1"), row("B", "2"), row("C", "3")},
			cursor:         2,
			wantRecipients: []string{"C"},
			wantCursor:     3,
		},
		{
			name:           "short rows skipped and cursor jumps to last row",
			rows:           [][]string{header, row("A", "1"), {"", "2024-01-05"}, row("C", "3"), {"x"}},
			cursor:         0,
			wantRecipients: []string{"A", "C"},
			wantCursor:     4,
		},
		{
			name:       "only short rows leaves cursor",
			rows:       [][]string{header, row("A", "1"), {"x"}, {"y", "z"}},
			cursor:     1,
			wantCursor: 1,
		},
		{
			name:       "nothing new",
			rows:       [][]string{header, row("A", "1"), row("B", "2")},
			cursor:     2,
			wantCursor: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(staticRows(tt.rows), logger.Nop())

			records, next, err := r.Poll(context.Background(), tt.cursor)
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if next != tt.wantCursor {
				t.Errorf("Poll() cursor = %d, want %d", next, tt.wantCursor)
			}
			if len(records) != len(tt.wantRecipients) {
				t.Fatalf("Poll() returned %d records, want %d", len(records), len(tt.wantRecipients))
			}
			for i, rec := range records {
				if rec.Recipient != tt.wantRecipients[i] {
					t.Errorf("record %d recipient = %q, want %q", i, rec.Recipient, tt.wantRecipients[i])
				}
			}
		})
	}
}

func TestReader_Poll_MapsColumns(t *testing.T) {
	r := NewReader(staticRows([][]string{
		header,
		{"m-17", "2024-01-05", "10:00", "Cafe X", "250", "HDFC", "UPI", "extra"},
	}), logger.Nop())

	records, _, err := r.Poll(context.Background(), 0)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0]
	if got.Date != "2024-01-05" || got.Time != "10:00" || got.Recipient != "Cafe X" ||
		got.Amount != "250" || got.Bank != "HDFC" || got.Mode != "UPI" || got.SourceID != "m-17" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestReader_Poll_KeepsStoredTransactionID(t *testing.T) {
	// Written by an importer that formatted the amount as "250.0".
	const stored = "3017f2a1be4a5d0ab4e0d50de6ccfb97"
	r := NewReader(staticRows([][]string{
		header,
		{stored, "2024-01-05", "10:00", "Cafe X", "250", "HDFC", "UPI"},
		row("Cafe X", "250"),
	}), logger.Nop())

	records, _, err := r.Poll(context.Background(), 0)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if got := records[0].ID(); got != stored {
		t.Errorf("ID() = %q, want stored %q", got, stored)
	}
	if got := records[1].ID(); got == stored {
		t.Errorf("row without a stored ID reused %q", got)
	}
}

func TestReader_Poll_IdempotentRepoll(t *testing.T) {
	r := NewReader(staticRows([][]string{header, row("A", "1"), row("B", "2")}), logger.Nop())
	ctx := context.Background()

	first, cursor, err := r.Poll(ctx, 0)
	if err != nil || len(first) != 2 {
		t.Fatalf("first Poll() = %d records, err %v", len(first), err)
	}

	second, again, err := r.Poll(ctx, cursor)
	if err != nil {
		t.Fatalf("second Poll() error = %v", err)
	}
	if len(second) != 0 || again != cursor {
		t.Errorf("second Poll() = (%d records, %d), want (0, %d)", len(second), again, cursor)
	}
}

func TestReader_Poll_RetriesOnceAfterReconnect(t *testing.T) {
	calls := 0
	src := &MockRowSource{
		RowsFunc: func(ctx context.Context) ([][]string, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection reset")
			}
			return [][]string{header, row("A", "1")}, nil
		},
	}

	records, next, err := NewReader(src, logger.Nop()).Poll(context.Background(), 0)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(records) != 1 || next != 1 {
		t.Errorf("Poll() = (%d, %d), want (1, 1)", len(records), next)
	}
	if src.ReconnectCalls != 1 {
		t.Errorf("Reconnect called %d times, want 1", src.ReconnectCalls)
	}
}

func TestReader_Poll_FailsAfterSecondError(t *testing.T) {
	tests := []struct {
		name         string
		reconnectErr error
		wantRows     int
	}{
		{name: "read fails twice", wantRows: 2},
		{name: "reconnect fails", reconnectErr: errors.New("auth expired"), wantRows: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &MockRowSource{
				RowsFunc: func(ctx context.Context) ([][]string, error) {
					return nil, errors.New("timeout")
				},
				ReconnectFunc: func(ctx context.Context) error { return tt.reconnectErr },
			}

			records, next, err := NewReader(src, logger.Nop()).Poll(context.Background(), 7)
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("Poll() error = %v, want ErrSourceUnavailable", err)
			}
			if records != nil || next != 7 {
				t.Errorf("Poll() = (%v, %d), want (nil, 7)", records, next)
			}
			if src.RowsCalls != tt.wantRows {
				t.Errorf("Rows called %d times, want %d", src.RowsCalls, tt.wantRows)
			}
			if src.ReconnectCalls != 1 {
				t.Errorf("Reconnect called %d times, want 1", src.ReconnectCalls)
			}
		})
	}
}
