package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/celluloid/internal/adapter/storage/sqlite/sqlitedb"
	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/port"
)

type JobStore struct {
	db      *sql.DB
	queries *sqlitedb.Queries
}

func NewJobStore(store *Store) *JobStore {
	return &JobStore{
		db:      store.db,
		queries: store.queries,
	}
}

func (s *JobStore) Insert(ctx context.Context, job *domain.Job) error {
	metadata, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}

	seq, err := s.queries.InsertJob(ctx, sqlitedb.InsertJobParams{
		ID:                  job.ID,
		ExternalID:          job.ExternalID,
		VideoUrl:            job.VideoURL,
		SimilarityThreshold: job.SimilarityThreshold,
		CallbackUrl:         job.CallbackURL,
		Status:              string(job.Status),
		Progress:            job.Progress,
		Metadata:            metadata,
		ErrorMessage:        job.ErrorMessage,
		ResultRef:           job.ResultRef,
		Version:             job.Version,
		CreatedAt:           job.CreatedAt,
		StartTime:           nullTime(job.StartTime),
		EndTime:             nullTime(job.EndTime),
	})
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	job.Sequence = seq
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	row, err := s.queries.GetJob(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return jobFromRow(row)
}

func (s *JobStore) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	rows, err := s.queries.ListJobs(ctx, sqlitedb.ListJobsParams{
		ExternalID: filter.ExternalID,
		Status:     string(filter.Status),
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := jobFromRow(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *JobStore) Update(ctx context.Context, job *domain.Job, expectedVersion int64) error {
	metadata, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}

	n, err := s.queries.UpdateJobIfVersion(ctx, sqlitedb.UpdateJobIfVersionParams{
		Status:       string(job.Status),
		Progress:     job.Progress,
		Metadata:     metadata,
		ErrorMessage: job.ErrorMessage,
		ResultRef:    job.ResultRef,
		StartTime:    nullTime(job.StartTime),
		EndTime:      nullTime(job.EndTime),
		ID:           job.ID,
		Version:      expectedVersion,
	})
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, job.ID); err != nil {
			return err
		}
		return port.ErrStaleVersion
	}

	job.Version = expectedVersion + 1
	return nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	n, err := s.queries.DeleteJob(ctx, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := s.queries.WithTx(tx)
	finished, err := q.ListFinishedJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("select expired jobs: %w", err)
	}

	// Compare in Go: TIMESTAMP values are stored as text and do not sort
	// reliably across fractional-second widths.
	var deleted int64
	for _, row := range finished {
		if !row.EndTime.Valid || !row.EndTime.Time.Before(cutoff) {
			continue
		}
		n, err := q.DeleteJob(ctx, row.ID)
		if err != nil {
			return 0, fmt.Errorf("delete expired job %s: %w", row.ID, err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return deleted, nil
}

func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func jobFromRow(row sqlitedb.Job) (*domain.Job, error) {
	job := &domain.Job{
		Sequence:            row.Seq,
		ID:                  row.ID,
		ExternalID:          row.ExternalID,
		VideoURL:            row.VideoUrl,
		SimilarityThreshold: row.SimilarityThreshold,
		CallbackURL:         row.CallbackUrl,
		Status:              domain.JobStatus(row.Status),
		Progress:            row.Progress,
		ErrorMessage:        row.ErrorMessage,
		ResultRef:           row.ResultRef,
		Version:             row.Version,
		CreatedAt:           row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.Metadata), &job.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", job.ID, err)
	}
	if row.StartTime.Valid {
		t := row.StartTime.Time
		job.StartTime = &t
	}
	if row.EndTime.Valid {
		t := row.EndTime.Time
		job.EndTime = &t
	}
	return job, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ port.JobStore = (*JobStore)(nil)
