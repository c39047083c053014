// Package conversation holds the in-flight review conversations, one per
// user and transaction, together with the messages each one owns.
package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// Key identifies a conversation.
type Key struct {
	UserID        int64
	TransactionID string
}

type messageKey struct {
	userID    int64
	messageID int
}

// Entry is a snapshot of one conversation. Transaction is nil when the state
// was set before the transaction was attached.
type Entry struct {
	UserID            int64               `json:"user_id"`
	TransactionID     string              `json:"transaction_id"`
	Transaction       *domain.Transaction `json:"transaction,omitempty"`
	State             State               `json:"-"`
	StateName         string              `json:"state"`
	RelatedMessageIDs []int               `json:"related_message_ids"`
	OpenedAt          time.Time           `json:"opened_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Store owns every conversation entry. All methods are safe for concurrent
// use and return copies.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
	links   map[messageKey]string
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[Key]*Entry),
		links:   make(map[messageKey]string),
		now:     time.Now,
	}
}

// Open creates the entry for (userID, tx.TransactionID), replacing any
// existing one together with its message links.
func (s *Store) Open(userID int64, tx domain.Transaction, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{UserID: userID, TransactionID: tx.TransactionID}
	s.remove(key)

	t := tx.Clone()
	now := s.now()
	s.entries[key] = &Entry{
		UserID:        userID,
		TransactionID: tx.TransactionID,
		Transaction:   &t,
		State:         state,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
}

// OpenDetached creates an entry whose transaction is not loaded yet. The
// first Set* call attaches a placeholder carrying only the ID.
func (s *Store) OpenDetached(userID int64, txID string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{UserID: userID, TransactionID: txID}
	s.remove(key)

	now := s.now()
	s.entries[key] = &Entry{
		UserID:        userID,
		TransactionID: txID,
		State:         state,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
}

// Transition sets the state of an existing entry. It reports whether the
// entry exists.
func (s *Store) Transition(userID int64, txID string, state State) bool {
	return s.update(userID, txID, func(e *Entry) { e.State = state })
}

// SetCategory records the chosen category.
func (s *Store) SetCategory(userID int64, txID, category string) bool {
	return s.updateTx(userID, txID, func(tx *domain.Transaction) { tx.Category = &category })
}

// SetIsShared records the solo/shared decision.
func (s *Store) SetIsShared(userID int64, txID string, shared bool) bool {
	return s.updateTx(userID, txID, func(tx *domain.Transaction) { tx.IsShared = &shared })
}

// SetUserShare records the user's part of the amount.
func (s *Store) SetUserShare(userID int64, txID string, share decimal.Decimal) bool {
	return s.updateTx(userID, txID, func(tx *domain.Transaction) { tx.UserShare = share })
}

// LinkMessage marks messageID as owned by the conversation so a reply to it
// can be routed back.
func (s *Store) LinkMessage(userID int64, txID string, messageID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[Key{UserID: userID, TransactionID: txID}]
	if !ok {
		return false
	}
	e.RelatedMessageIDs = append(e.RelatedMessageIDs, messageID)
	e.UpdatedAt = s.now()
	s.links[messageKey{userID: userID, messageID: messageID}] = txID
	return true
}

// Resolve returns the transaction whose conversation owns messageID.
func (s *Store) Resolve(userID int64, messageID int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txID, ok := s.links[messageKey{userID: userID, messageID: messageID}]
	return txID, ok
}

// FindByState returns the user's conversations currently in the given
// state, keyed by transaction ID.
func (s *Store) FindByState(userID int64, kind Kind) map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]Entry)
	for key, e := range s.entries {
		if key.UserID != userID || e.State == nil || e.State.Kind() != kind {
			continue
		}
		found[key.TransactionID] = e.snapshot()
	}
	return found
}

// Get returns the entry for (userID, txID).
func (s *Store) Get(userID int64, txID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[Key{UserID: userID, TransactionID: txID}]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// List returns the user's open conversations, oldest first.
func (s *Store) List(userID int64) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for key, e := range s.entries {
		if key.UserID == userID {
			out = append(out, e.snapshot())
		}
	}
	sortByOpened(out)
	return out
}

// Len returns the number of open conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close removes the entry. Closing a missing entry is a no-op.
func (s *Store) Close(userID int64, txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(Key{UserID: userID, TransactionID: txID})
}

// CloseAll removes every conversation of the user and returns them.
func (s *Store) CloseAll(userID int64) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed []Entry
	for key, e := range s.entries {
		if key.UserID != userID {
			continue
		}
		closed = append(closed, e.snapshot())
		s.remove(key)
	}
	sortByOpened(closed)
	return closed
}

// IdleUsers returns the users owning at least one conversation that has not
// changed for longer than ttl. A zero ttl never reports anyone.
func (s *Store) IdleUsers(ttl time.Duration) []int64 {
	if ttl <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-ttl)
	seen := make(map[int64]bool)
	var users []int64
	for key, e := range s.entries {
		if e.UpdatedAt.Before(cutoff) && !seen[key.UserID] {
			seen[key.UserID] = true
			users = append(users, key.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Sweep removes the user's conversations that have not changed for longer
// than ttl and returns them. A zero ttl never expires anything.
func (s *Store) Sweep(userID int64, ttl time.Duration) []Entry {
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	var expired []Entry
	for key, e := range s.entries {
		if key.UserID == userID && e.UpdatedAt.Before(cutoff) {
			expired = append(expired, e.snapshot())
			s.remove(key)
		}
	}
	sortByOpened(expired)
	return expired
}

func (s *Store) update(userID int64, txID string, fn func(e *Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[Key{UserID: userID, TransactionID: txID}]
	if !ok {
		return false
	}
	fn(e)
	e.UpdatedAt = s.now()
	return true
}

// updateTx mutates the held transaction, attaching a placeholder carrying
// only the ID when none was attached.
func (s *Store) updateTx(userID int64, txID string, fn func(tx *domain.Transaction)) bool {
	return s.update(userID, txID, func(e *Entry) {
		if e.Transaction == nil {
			e.Transaction = &domain.Transaction{TransactionID: txID}
		}
		fn(e.Transaction)
	})
}

// remove must be called with mu held.
func (s *Store) remove(key Key) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	for _, id := range e.RelatedMessageIDs {
		delete(s.links, messageKey{userID: key.UserID, messageID: id})
	}
	delete(s.entries, key)
}

func (e *Entry) snapshot() Entry {
	c := *e
	if e.Transaction != nil {
		t := e.Transaction.Clone()
		c.Transaction = &t
	}
	c.RelatedMessageIDs = append([]int(nil), e.RelatedMessageIDs...)
	if e.State != nil {
		c.StateName = e.State.Kind().String()
	}
	return c
}

func sortByOpened(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OpenedAt.Equal(entries[j].OpenedAt) {
			return entries[i].TransactionID < entries[j].TransactionID
		}
		return entries[i].OpenedAt.Before(entries[j].OpenedAt)
	})
}
