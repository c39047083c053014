package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-review-bot/internal/jobs"
)

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)
	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	for i, j := range []jobs.SecondaryWriteJob{
		{JobID: "1", Sink: "postgres", TransactionID: "h1", Status: jobs.JobStatusCompleted},
		{JobID: "2", Sink: "bigquery", TransactionID: "h1", Status: jobs.JobStatusFailed},
		{JobID: "3", Sink: "postgres", TransactionID: "h2", Status: jobs.JobStatusFailed},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveJob(ctx, &j))
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"3", "2", "1"}},
		{"by sink", jobs.JobFilter{Sink: "postgres"}, []string{"3", "1"}},
		{"by transaction", jobs.JobFilter{TransactionID: "h1"}, []string{"2", "1"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusFailed}, []string{"3", "2"}},
		{"limit", jobs.JobFilter{Limit: 1}, []string{"3"}},
		{"offset", jobs.JobFilter{Offset: 2}, []string{"1"}},
		{"offset past end", jobs.JobFilter{Offset: 5}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveJob(ctx, &jobs.SecondaryWriteJob{JobID: id}))
	}
	// Updating an existing job does not count twice.
	require.NoError(t, s.SaveJob(ctx, &jobs.SecondaryWriteJob{JobID: "c", Status: jobs.JobStatusCompleted}))

	_, err := s.GetJob(ctx, "a")
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	got, err := s.GetJob(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, got.Status)
}

func TestStore_UpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)

	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, "x"), jobs.ErrNotFound)
	assert.Error(t, s.SaveJob(ctx, &jobs.SecondaryWriteJob{}))

	require.NoError(t, s.SaveJob(ctx, &jobs.SecondaryWriteJob{JobID: "a"}))
	require.NoError(t, s.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "boom"))

	got, _ := s.GetJob(ctx, "a")
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}
