package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threshold(f float64) *float64 { return &f }

func TestRegistry_CreateRejectsInvalidThreshold(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	job, err := r.Create(ctx, domain.NewJobParams{
		ExternalID:          "p1",
		VideoURL:            "https://cdn.example.com/v.mp4",
		SimilarityThreshold: threshold(1.5),
	})

	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Nil(t, job)

	jobs, err := r.List(ctx, domain.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRegistry_CreateAssignsSequence(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	a, err := r.Create(ctx, domain.NewJobParams{ExternalID: "p1", VideoURL: "/videos/a.mp4"})
	require.NoError(t, err)
	b, err := r.Create(ctx, domain.NewJobParams{ExternalID: "p1", VideoURL: "/videos/b.mp4"})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusQueued, a.Status)
	assert.Equal(t, 0.5, a.SimilarityThreshold)
	assert.Greater(t, b.Sequence, a.Sequence)
}

func TestRegistry_Transition(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	job, err := r.Create(ctx, domain.NewJobParams{ExternalID: "p1", VideoURL: "/v.mp4"})
	require.NoError(t, err)

	t.Run("illegal edge leaves record unchanged", func(t *testing.T) {
		_, err := r.Transition(ctx, job.ID, domain.JobStatusCompleted, domain.WithResultRef("x"))
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		got, err := r.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, got.Status)
		assert.Empty(t, got.ResultRef)
		assert.Equal(t, job.Version, got.Version)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := r.Transition(ctx, "missing", domain.JobStatusProcessing)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("full lifecycle", func(t *testing.T) {
		started, err := r.Transition(ctx, job.ID, domain.JobStatusProcessing)
		require.NoError(t, err)
		require.NotNil(t, started.StartTime)

		p, err := r.Transition(ctx, job.ID, domain.JobStatusProcessing, domain.WithProgress(60))
		require.NoError(t, err)
		assert.Equal(t, 60.0, p.Progress)

		p, err = r.Transition(ctx, job.ID, domain.JobStatusProcessing, domain.WithProgress(30))
		require.NoError(t, err)
		assert.Equal(t, 60.0, p.Progress)

		done, err := r.Transition(ctx, job.ID, domain.JobStatusCompleted, domain.WithResultRef("p1/r.json"))
		require.NoError(t, err)
		assert.Equal(t, 100.0, done.Progress)
		require.NotNil(t, done.EndTime)

		_, err = r.Transition(ctx, job.ID, domain.JobStatusFailed, domain.WithError("late"))
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestRegistry_StartAndCancelRace(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	for i := 0; i < 10; i++ {
		job, err := r.Create(ctx, domain.NewJobParams{ExternalID: "p1", VideoURL: "/v.mp4"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		targets := []domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusCancelled}
		for k, to := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[k] = r.Transition(ctx, job.ID, to)
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			}
		}
		assert.Equal(t, 1, succeeded, "exactly one of start/cancel must win")
	}
}

func TestRegistry_Delete(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	queued, err := r.Create(ctx, domain.NewJobParams{ExternalID: "p1", VideoURL: "/v.mp4"})
	require.NoError(t, err)
	running, err := r.Create(ctx, domain.NewJobParams{ExternalID: "p1", VideoURL: "/v.mp4"})
	require.NoError(t, err)
	_, err = r.Transition(ctx, running.ID, domain.JobStatusProcessing)
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, queued.ID))
	_, err = r.Get(ctx, queued.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = r.Delete(ctx, running.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	got, err := r.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)

	assert.ErrorIs(t, r.Delete(ctx, "missing"), domain.ErrNotFound)
}

func TestRegistry_Sweep(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	job, err := r.Create(ctx, domain.NewJobParams{ExternalID: "p1", VideoURL: "/v.mp4"})
	require.NoError(t, err)
	_, err = r.Transition(ctx, job.ID, domain.JobStatusProcessing)
	require.NoError(t, err)
	_, err = r.Transition(ctx, job.ID, domain.JobStatusFailed, domain.WithError("boom"))
	require.NoError(t, err)
	keep, err := r.Create(ctx, domain.NewJobParams{ExternalID: "p1", VideoURL: "/v.mp4"})
	require.NoError(t, err)

	n, err := r.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	r.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	n, err = r.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.Get(ctx, keep.ID)
	assert.NoError(t, err)
}
