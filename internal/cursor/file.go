package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps the watermark in a small JSON file. Writes go to a temp
// file first and are renamed into place.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the stored watermark or 0 if the file does not exist yet.
func (s *FileStore) Load(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (int, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("FileStore.Load: reading %s: %w", s.path, err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return 0, fmt.Errorf("FileStore.Load: decoding %s: %w", s.path, err)
	}
	return st.LastProcessedRow, nil
}

// Save writes the watermark. Equal values are rewritten; smaller values are
// rejected with ErrRegression.
func (s *FileStore) Save(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}
	if err := checkMonotonic(current, index); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state{LastProcessedRow: index, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("FileStore.Save: encoding: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("FileStore.Save: creating directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("FileStore.Save: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("FileStore.Save: renaming into place: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
