// Package auth keeps the allowlist of Telegram users that receive
// notifications and may drive conversations.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

type document struct {
	UserIDs []int64 `json:"user_ids"`
}

// Store is a small persisted set of user IDs. An empty path keeps the set
// in memory only.
type Store struct {
	path  string
	mu    sync.RWMutex
	users map[int64]struct{}
}

// Open loads the allowlist at path and merges seed into it. The file is
// rewritten when seeding added anyone.
func Open(path string, seed []int64) (*Store, error) {
	s := &Store{path: path, users: make(map[int64]struct{})}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("auth.Open: reading %s: %w", path, err)
		default:
			var doc document
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("auth.Open: decoding %s: %w", path, err)
			}
			for _, id := range doc.UserIDs {
				s.users[id] = struct{}{}
			}
		}
	}

	added := false
	for _, id := range seed {
		if _, ok := s.users[id]; !ok {
			s.users[id] = struct{}{}
			added = true
		}
	}
	if added {
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IsAuthorized reports whether userID is on the allowlist.
func (s *Store) IsAuthorized(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// Add puts userID on the allowlist. It reports false when the user was
// already there.
func (s *Store) Add(userID int64) (bool, error) {
	if userID <= 0 {
		return false, fmt.Errorf("auth.Add: invalid user id %d", userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		return false, nil
	}
	s.users[userID] = struct{}{}
	if err := s.save(); err != nil {
		delete(s.users, userID)
		return false, err
	}
	return true, nil
}

// List returns the authorized user IDs in ascending order.
func (s *Store) List() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted()
}

func (s *Store) sorted() []int64 {
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// save must be called with mu held for writing, or before s is shared.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(document{UserIDs: s.sorted()}, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encoding allowlist: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("auth: creating directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("auth: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("auth: renaming into place: %w", err)
	}
	return nil
}
