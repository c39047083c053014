package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"250", "250"},
		{"250.00", "250"},
		{" 1,250.50 ", "1250.5"},
		{"abc", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalAmount(tt.in))
		})
	}
}

func TestRawRecordID_ConvergesOnFormatting(t *testing.T) {
	a := RawRecord{Date: "2024-01-05", Recipient: "Cafe X", Amount: "250", Bank: "HDFC"}
	b := RawRecord{Date: " 2024-01-05", Recipient: "Cafe X ", Amount: "250.00", Bank: "HDFC", Mode: "UPI", Time: "10:00"}
	assert.Equal(t, a.ID(), b.ID())
}

func TestRawRecordID_PrefersStoredID(t *testing.T) {
	r := RawRecord{Date: "2024-01-05", Recipient: "Cafe X", Amount: "250", Bank: "HDFC"}
	computed := r.ID()

	r.SourceID = " 3017F2A1BE4A5D0AB4E0D50DE6CCFB97 "
	assert.Equal(t, "3017f2a1be4a5d0ab4e0d50de6ccfb97", r.ID())

	tx, err := NewTransaction(r)
	require.NoError(t, err)
	assert.Equal(t, "3017f2a1be4a5d0ab4e0d50de6ccfb97", tx.TransactionID)

	for _, key := range []string{"", "18c2f1a9b3d4e5f6", "not-an-id"} {
		r.SourceID = key
		assert.Equal(t, computed, r.ID(), "source id %q", key)
	}
}

func TestParseShare_RejectsSeparators(t *testing.T) {
	for _, in := range []string{"1,5", "4,0", ",,40", "1,000"} {
		_, err := ParseShare(in)
		assert.Error(t, err, "input %q", in)
	}

	d, err := ParseShare(" 40.50 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("40.5")))

	d, err = ParseAmount("1,000")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(1000)))
}

func TestNewTransaction(t *testing.T) {
	tx, err := NewTransaction(RawRecord{
		Date: "2024-01-05", Time: "10:00", Recipient: "Cafe X",
		Amount: "250", Bank: "HDFC", Mode: "UPI",
	})
	require.NoError(t, err)

	assert.Len(t, tx.TransactionID, 32)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(250)))
	assert.Nil(t, tx.Category)
	assert.Nil(t, tx.IsShared)
	assert.False(t, tx.Shared())
	assert.Equal(t, "", tx.CategoryName())
}

func TestNewTransaction_RejectsBadAmounts(t *testing.T) {
	for _, amount := range []string{"", "abc", "-5"} {
		_, err := NewTransaction(RawRecord{Date: "2024-01-05", Recipient: "x", Amount: amount, Bank: "HDFC"})
		assert.Error(t, err, "amount %q", amount)
	}
}

func TestTransactionClone(t *testing.T) {
	cat := "Shopping"
	shared := true
	tx := Transaction{TransactionID: "id", Category: &cat, IsShared: &shared}

	c := tx.Clone()
	*c.Category = "Commute"
	*c.IsShared = false

	assert.Equal(t, "Shopping", tx.CategoryName())
	assert.True(t, tx.Shared())
}
