package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore keeps the watermark in a Cloud Storage object so that a bot
// redeployed on a fresh machine resumes where the previous one stopped.
// Saves are conditional on the generation that was read, so two writers can
// never interleave a read-modify-write.
type GCSStore struct {
	client *storage.Client
	bucket string
	object string
}

// NewGCSStore creates a GCS-backed store. It assumes Application Default
// Credentials are configured.
func NewGCSStore(ctx context.Context, bucket, object string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, object: object}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Load returns the stored watermark or 0 if the object does not exist.
func (s *GCSStore) Load(ctx context.Context) (int, error) {
	st, _, err := s.read(ctx)
	if err != nil {
		return 0, err
	}
	return st.LastProcessedRow, nil
}

// read returns the current state and the object generation (0 when absent).
func (s *GCSStore) read(ctx context.Context) (state, int64, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return state{}, 0, nil
	}
	if err != nil {
		return state{}, 0, fmt.Errorf("GCSStore.Load: open gs://%s/%s: %w", s.bucket, s.object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return state{}, 0, fmt.Errorf("GCSStore.Load: read object: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return state{}, 0, fmt.Errorf("GCSStore.Load: decoding object: %w", err)
	}
	return st, r.Attrs.Generation, nil
}

// Save writes the watermark if it does not move backwards.
func (s *GCSStore) Save(ctx context.Context, index int) error {
	current, generation, err := s.read(ctx)
	if err != nil {
		return err
	}
	if err := checkMonotonic(current.LastProcessedRow, index); err != nil {
		return err
	}

	data, err := json.Marshal(state{LastProcessedRow: index, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("GCSStore.Save: encoding: %w", err)
	}

	obj := s.client.Bucket(s.bucket).Object(s.object)
	if generation == 0 {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCSStore.Save: write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCSStore.Save: finalize upload: %w", err)
	}
	return nil
}

var _ Store = (*GCSStore)(nil)
