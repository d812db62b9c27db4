package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `seq, id, external_id, video_url, similarity_threshold, callback_url, status,
	progress, metadata, error_message, result_ref, version, created_at, start_time, end_time`

// JobStore implements port.JobStore on PostgreSQL. Update is a conditional
// UPDATE on the version column, so several service instances can share one
// database.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

func (s *JobStore) Insert(ctx context.Context, job *domain.Job) error {
	metadata, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, external_id, video_url, similarity_threshold, callback_url, status,
			progress, metadata, error_message, result_ref, version, created_at, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING seq`,
		job.ID, job.ExternalID, job.VideoURL, job.SimilarityThreshold, job.CallbackURL, string(job.Status),
		job.Progress, metadata, job.ErrorMessage, job.ResultRef, job.Version, job.CreatedAt,
		job.StartTime, job.EndTime,
	).Scan(&job.Sequence)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("insert job %s: %w", job.ID, domain.ErrConflict)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *JobStore) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.ExternalID != "" {
		args = append(args, filter.ExternalID)
		conditions = append(conditions, fmt.Sprintf("external_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *JobStore) Update(ctx context.Context, job *domain.Job, expectedVersion int64) error {
	metadata, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, progress = $2, metadata = $3, error_message = $4, result_ref = $5,
			start_time = $6, end_time = $7, version = version + 1
		 WHERE id = $8 AND version = $9`,
		string(job.Status), job.Progress, metadata, job.ErrorMessage, job.ResultRef,
		job.StartTime, job.EndTime, job.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, job.ID); err != nil {
			return err
		}
		return port.ErrStaleVersion
	}

	job.Version = expectedVersion + 1
	return nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	terminal := []string{
		string(domain.JobStatusCompleted),
		string(domain.JobStatusFailed),
		string(domain.JobStatusCancelled),
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status = ANY($1) AND end_time IS NOT NULL AND end_time < $2`,
		terminal, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *JobStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job      domain.Job
		status   string
		metadata []byte
	)
	err := row.Scan(
		&job.Sequence, &job.ID, &job.ExternalID, &job.VideoURL, &job.SimilarityThreshold, &job.CallbackURL,
		&status, &job.Progress, &metadata, &job.ErrorMessage, &job.ResultRef, &job.Version,
		&job.CreatedAt, &job.StartTime, &job.EndTime,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", job.ID, err)
	}
	return &job, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ port.JobStore = (*JobStore)(nil)
