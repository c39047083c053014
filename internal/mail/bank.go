package mail

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Payment modes written to the raw sheet.
const (
	ModeCreditCard = "CreditCard"
	ModeUPI        = "UPI"
)

var (
	// ErrUnknownBank is returned for alerts from a bank with no patterns.
	ErrUnknownBank = errors.New("mail: unknown bank")
	// ErrNotATransaction marks reversal and decline notices.
	ErrNotATransaction = errors.New("mail: not a completed transaction")
	// ErrUnparseable is returned when no pattern of the bank matches.
	ErrUnparseable = errors.New("mail: unparseable alert")
)

// Parsed is what an alert normalizes to. Amount is the raw matched text.
type Parsed struct {
	Bank      string
	Recipient string
	Amount    string
	Mode      string
}

type pattern struct {
	mode      string
	amount    *regexp.Regexp
	recipient *regexp.Regexp
}

type bank struct {
	name     string
	key      string
	patterns []pattern
}

func newPattern(mode, amount, recipient string) pattern {
	return pattern{
		mode:      mode,
		amount:    regexp.MustCompile(`(?i)` + amount),
		recipient: regexp.MustCompile(`(?i)` + recipient),
	}
}

// Detection order matters: the first bank whose key appears wins.
var banks = []bank{
	{name: "HDFC", key: "hdfc", patterns: []pattern{
		newPattern(ModeCreditCard, `7883\s+for\s+(?:Rs\.?|INR)\s+([\d,]+(?:\.\d+)?)`, `\bat\s+(.*?)\s+on\b`),
	}},
	{name: "ICICI", key: "icici", patterns: []pattern{
		newPattern(ModeCreditCard, `transaction\s+of\s+(?:Rs\.?|INR)\s+([\d,]+(?:\.\d+)?)`, `\bInfo:\s+(.*?)\.`),
	}},
	{name: "HSBC", key: "hsbc", patterns: []pattern{
		newPattern(ModeCreditCard, `been\s+used\s+for\s+(?:Rs\.?|INR)\s+([\d,]+(?:\.\d+)?)`, `\bpayment\s+to\s+(.*?)\s+on\b`),
	}},
	{name: "Axis", key: "axis", patterns: []pattern{
		newPattern(ModeCreditCard, `9339\s+for\s+(?:Rs\.?|INR)\s+([\d,]+(?:\.\d+)?)`, `\bat\s+(.*?)\s+on\b`),
	}},
	{name: "Federal", key: "federal", patterns: []pattern{
		newPattern(ModeCreditCard, `txn\s+of\s+(?:₹|Rs\.?|INR)\s*([\d,]+(?:\.\d+)?)`, `\bat\s+(.*?)\s+on\b`),
		newPattern(ModeUPI, `(?:₹|Rs\.?|INR)\s*([\d,]+(?:\.\d+)?)`, `\bto\s+(.*?)\.`),
	}},
	{name: "Kotak", key: "kotak", patterns: []pattern{
		newPattern(ModeUPI, `Sent\s+(?:₹|Rs\.?|INR)\s*([\d,]+(?:\.\d+)?)`, `\bto\s+(.*?)\s+on\b`),
	}},
}

var notCompleted = regexp.MustCompile(`(?i)has\s+been\s+reversed|declined|not\s+be\s+completed`)

// DetectBank names the bank that sent an alert, or "" when unknown. The
// sender address is checked for the bank's key, the body for "<key> bank".
func DetectBank(sender, body string) string {
	sender = strings.ToLower(sender)
	body = strings.ToLower(body)
	for _, b := range banks {
		if strings.Contains(sender, b.key) || strings.Contains(body, b.key+" bank") {
			return b.name
		}
	}
	return ""
}

// Parse extracts the recipient and amount of a spend alert.
func Parse(sender, body string) (Parsed, error) {
	name := DetectBank(sender, body)
	if name == "" {
		return Parsed{}, ErrUnknownBank
	}

	if notCompleted.MatchString(body) {
		return Parsed{}, ErrNotATransaction
	}

	var b bank
	for _, candidate := range banks {
		if candidate.name == name {
			b = candidate
			break
		}
	}

	for _, pt := range b.patterns {
		amount := pt.amount.FindStringSubmatch(body)
		recipient := pt.recipient.FindStringSubmatch(body)
		if amount == nil || recipient == nil {
			continue
		}
		r := strings.TrimSpace(recipient[1])
		if r == "" {
			continue
		}
		return Parsed{
			Bank:      name,
			Recipient: r,
			Amount:    strings.ReplaceAll(amount[1], ",", ""),
			Mode:      pt.mode,
		}, nil
	}

	return Parsed{}, fmt.Errorf("%w: %s", ErrUnparseable, name)
}
