package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureLog_KeepsNewestFirst(t *testing.T) {
	l := NewFailureLog(3)
	assert.Empty(t, l.Recent())

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		l.Add(Failure{TransactionID: id})
	}

	var ids []string
	for _, f := range l.Recent() {
		ids = append(ids, f.TransactionID)
		assert.False(t, f.At.IsZero())
	}
	assert.Equal(t, []string{"e", "d", "c"}, ids)
	assert.Equal(t, 5, l.Total())
}

func TestFailureLog_PartiallyFilled(t *testing.T) {
	l := NewFailureLog(4)
	l.Add(Failure{TransactionID: "a"})
	l.Add(Failure{TransactionID: "b"})

	recent := l.Recent()
	assert.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].TransactionID)
}
