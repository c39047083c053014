// Package cursor persists the ingestion watermark: the index of the last
// source row that has been turned into notifications.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRegression is returned when a save would move the watermark backwards.
var ErrRegression = errors.New("cursor: watermark cannot decrease")

// Store loads and saves the watermark. A store that has never been written
// reports 0, which makes the reader start right after the header row.
type Store interface {
	Load(ctx context.Context) (int, error)
	Save(ctx context.Context, index int) error
}

// state is the persisted document shared by all backends.
type state struct {
	LastProcessedRow int       `json:"last_processed_row"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func checkMonotonic(current, next int) error {
	if next < current {
		return fmt.Errorf("%w: %d -> %d", ErrRegression, current, next)
	}
	return nil
}
