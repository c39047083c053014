// Package identity derives content-addressed transaction IDs.
//
// Two ingestion passes that see the same real-world transaction (for example
// a sheet poll and an email re-scan) compute the same ID without sharing a
// counter, which is what makes deduplication possible.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Delimiter separates the fields of a fingerprint.
const Delimiter = "|"

// Length is the number of hex characters in a transaction ID.
const Length = md5.Size * 2

// Fingerprint builds the canonical string a transaction ID is derived from.
func Fingerprint(date, recipient, amount, bank string) string {
	return strings.Join([]string{date, recipient, amount, bank}, Delimiter)
}

// TransactionID returns the lowercase hex MD5 digest of the fingerprint.
// The digest depends on the exact amount text, so "250" and "250.0" give
// different IDs.
func TransactionID(date, recipient, amount, bank string) string {
	sum := md5.Sum([]byte(Fingerprint(date, recipient, amount, bank)))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s looks like an ID produced by TransactionID. It is
// used to tell a stored transaction ID apart from other row keys such as a
// mail message ID.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
