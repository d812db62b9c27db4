package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJobStore(t *testing.T) *JobStore {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewJobStore(store)
}

func newJob(t *testing.T, externalID string) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(domain.NewJobParams{ExternalID: externalID, VideoURL: "https://example.com/v.mp4"})
	require.NoError(t, err)
	return job
}

func TestJobStore_InsertAssignsIncreasingSequence(t *testing.T) {
	ctx := context.Background()
	s := newTestJobStore(t)

	a := newJob(t, "p1")
	b := newJob(t, "p1")
	require.NoError(t, s.Insert(ctx, a))
	require.NoError(t, s.Insert(ctx, b))

	assert.Greater(t, a.Sequence, int64(0))
	assert.Greater(t, b.Sequence, a.Sequence)
}

func TestJobStore_GetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestJobStore(t)

	job := newJob(t, "p1")
	job.CallbackURL = "http://hooks.local/cb"
	job.Metadata = map[string]any{"frames_processed": 12}
	require.NoError(t, s.Insert(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "p1", got.ExternalID)
	assert.Equal(t, job.VideoURL, got.VideoURL)
	assert.Equal(t, job.SimilarityThreshold, got.SimilarityThreshold)
	assert.Equal(t, "http://hooks.local/cb", got.CallbackURL)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, float64(12), got.Metadata["frames_processed"])
	assert.Equal(t, job.Sequence, got.Sequence)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.Nil(t, got.StartTime)
	assert.Nil(t, got.EndTime)
}

func TestJobStore_GetUnknown(t *testing.T) {
	s := newTestJobStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobStore_ListFiltersInAdmissionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestJobStore(t)

	a := newJob(t, "p1")
	b := newJob(t, "p2")
	c := newJob(t, "p1")
	for _, j := range []*domain.Job{a, b, c} {
		require.NoError(t, s.Insert(ctx, j))
	}

	all, err := s.List(ctx, domain.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	p1, err := s.List(ctx, domain.JobFilter{ExternalID: "p1"})
	require.NoError(t, err)
	require.Len(t, p1, 2)
	assert.Equal(t, a.ID, p1[0].ID)
	assert.Equal(t, c.ID, p1[1].ID)

	now := time.Now().UTC()
	require.NoError(t, b.Apply(domain.JobStatusProcessing, now))
	require.NoError(t, s.Update(ctx, b, 0))

	processing, err := s.List(ctx, domain.JobFilter{Status: domain.JobStatusProcessing})
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, b.ID, processing[0].ID)

	none, err := s.List(ctx, domain.JobFilter{ExternalID: "nope"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJobStore_ListCombinesFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestJobStore(t)

	a := newJob(t, "p1")
	b := newJob(t, "p2")
	c := newJob(t, "p1")
	for _, j := range []*domain.Job{a, b, c} {
		require.NoError(t, s.Insert(ctx, j))
	}

	now := time.Now().UTC()
	for _, j := range []*domain.Job{b, c} {
		require.NoError(t, j.Apply(domain.JobStatusProcessing, now))
		require.NoError(t, s.Update(ctx, j, 0))
	}

	got, err := s.List(ctx, domain.JobFilter{ExternalID: "p1", Status: domain.JobStatusProcessing})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)

	queued, err := s.List(ctx, domain.JobFilter{ExternalID: "p2", Status: domain.JobStatusQueued})
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestJobStore_UpdateCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := newTestJobStore(t)

	job := newJob(t, "p1")
	require.NoError(t, s.Insert(ctx, job))

	now := time.Now().UTC()
	first := job.Clone()
	require.NoError(t, first.Apply(domain.JobStatusProcessing, now))
	require.NoError(t, s.Update(ctx, first, 0))
	assert.Equal(t, int64(1), first.Version)

	// A writer holding the old version loses.
	second := job.Clone()
	require.NoError(t, second.Apply(domain.JobStatusCancelled, now))
	err := s.Update(ctx, second, 0)
	assert.ErrorIs(t, err, port.ErrStaleVersion)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	require.NotNil(t, got.StartTime)
	assert.WithinDuration(t, now, *got.StartTime, time.Millisecond)
}

func TestJobStore_UpdateUnknown(t *testing.T) {
	s := newTestJobStore(t)
	job := newJob(t, "p1")
	err := s.Update(context.Background(), job, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestJobStore(t)

	job := newJob(t, "p1")
	require.NoError(t, s.Insert(ctx, job))
	require.NoError(t, s.Delete(ctx, job.ID))

	_, err := s.Get(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, job.ID), domain.ErrNotFound)
}

func TestJobStore_DeleteTerminalBefore(t *testing.T) {
	ctx := context.Background()
	s := newTestJobStore(t)

	old := newJob(t, "p1")
	recent := newJob(t, "p1")
	queued := newJob(t, "p1")
	for _, j := range []*domain.Job{old, recent, queued} {
		require.NoError(t, s.Insert(ctx, j))
	}

	finish := func(j *domain.Job, at time.Time) {
		require.NoError(t, j.Apply(domain.JobStatusProcessing, at))
		require.NoError(t, s.Update(ctx, j, j.Version))
		require.NoError(t, j.Apply(domain.JobStatusFailed, at, domain.WithError("boom")))
		require.NoError(t, s.Update(ctx, j, j.Version))
	}
	finish(old, time.Now().UTC().Add(-48*time.Hour))
	finish(recent, time.Now().UTC())

	n, err := s.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = s.Get(ctx, queued.ID)
	assert.NoError(t, err)
}

func TestJobStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	job := newJob(t, "p1")
	require.NoError(t, NewJobStore(store).Insert(ctx, job))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	got, err := NewJobStore(reopened).Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Sequence, got.Sequence)
}
