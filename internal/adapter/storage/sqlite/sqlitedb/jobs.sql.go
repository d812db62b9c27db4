package sqlitedb

import (
	"context"
	"database/sql"
	"time"
)

const jobColumns = `seq, id, external_id, video_url, similarity_threshold, callback_url, status,
       progress, metadata, error_message, result_ref, version, created_at, start_time, end_time`

func scanJob(row interface{ Scan(...interface{}) error }) (Job, error) {
	var i Job
	err := row.Scan(
		&i.Seq,
		&i.ID,
		&i.ExternalID,
		&i.VideoUrl,
		&i.SimilarityThreshold,
		&i.CallbackUrl,
		&i.Status,
		&i.Progress,
		&i.Metadata,
		&i.ErrorMessage,
		&i.ResultRef,
		&i.Version,
		&i.CreatedAt,
		&i.StartTime,
		&i.EndTime,
	)
	return i, err
}

const insertJob = `-- name: InsertJob :one
INSERT INTO jobs (id, external_id, video_url, similarity_threshold, callback_url, status,
                  progress, metadata, error_message, result_ref, version, created_at, start_time, end_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING seq
`

type InsertJobParams struct {
	ID                  string
	ExternalID          string
	VideoUrl            string
	SimilarityThreshold float64
	CallbackUrl         string
	Status              string
	Progress            float64
	Metadata            string
	ErrorMessage        string
	ResultRef           string
	Version             int64
	CreatedAt           time.Time
	StartTime           sql.NullTime
	EndTime             sql.NullTime
}

func (q *Queries) InsertJob(ctx context.Context, arg InsertJobParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertJob,
		arg.ID,
		arg.ExternalID,
		arg.VideoUrl,
		arg.SimilarityThreshold,
		arg.CallbackUrl,
		arg.Status,
		arg.Progress,
		arg.Metadata,
		arg.ErrorMessage,
		arg.ResultRef,
		arg.Version,
		arg.CreatedAt,
		arg.StartTime,
		arg.EndTime,
	)
	var seq int64
	err := row.Scan(&seq)
	return seq, err
}

const getJob = `-- name: GetJob :one
SELECT ` + jobColumns + `
FROM jobs
WHERE id = ?
`

func (q *Queries) GetJob(ctx context.Context, id string) (Job, error) {
	return scanJob(q.db.QueryRowContext(ctx, getJob, id))
}

// An empty filter value matches every row.
const listJobs = `-- name: ListJobs :many
SELECT ` + jobColumns + `
FROM jobs
WHERE (?1 = '' OR external_id = ?1)
  AND (?2 = '' OR status = ?2)
ORDER BY seq ASC
`

type ListJobsParams struct {
	ExternalID string
	Status     string
}

func (q *Queries) ListJobs(ctx context.Context, arg ListJobsParams) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, listJobs, arg.ExternalID, arg.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Job{}
	for rows.Next() {
		i, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateJobIfVersion = `-- name: UpdateJobIfVersion :execrows
UPDATE jobs
SET status = ?, progress = ?, metadata = ?, error_message = ?, result_ref = ?,
    start_time = ?, end_time = ?, version = version + 1
WHERE id = ? AND version = ?
`

type UpdateJobIfVersionParams struct {
	Status       string
	Progress     float64
	Metadata     string
	ErrorMessage string
	ResultRef    string
	StartTime    sql.NullTime
	EndTime      sql.NullTime
	ID           string
	Version      int64
}

func (q *Queries) UpdateJobIfVersion(ctx context.Context, arg UpdateJobIfVersionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateJobIfVersion,
		arg.Status,
		arg.Progress,
		arg.Metadata,
		arg.ErrorMessage,
		arg.ResultRef,
		arg.StartTime,
		arg.EndTime,
		arg.ID,
		arg.Version,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteJob = `-- name: DeleteJob :execrows
DELETE FROM jobs WHERE id = ?
`

func (q *Queries) DeleteJob(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteJob, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listFinishedJobs = `-- name: ListFinishedJobs :many
SELECT id, end_time
FROM jobs
WHERE status IN ('completed', 'failed', 'cancelled')
  AND end_time IS NOT NULL
`

type ListFinishedJobsRow struct {
	ID      string
	EndTime sql.NullTime
}

func (q *Queries) ListFinishedJobs(ctx context.Context) ([]ListFinishedJobsRow, error) {
	rows, err := q.db.QueryContext(ctx, listFinishedJobs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ListFinishedJobsRow{}
	for rows.Next() {
		var i ListFinishedJobsRow
		if err := rows.Scan(&i.ID, &i.EndTime); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
