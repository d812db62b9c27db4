package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/port"
	goredis "github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "celluloid:job:"
	jobIndexKey  = "celluloid:jobs"
	sequenceKey  = "celluloid:seq"
)

// JobStore keeps each job as a JSON document and the admission order in a
// sorted set scored by sequence.
type JobStore struct {
	client *goredis.Client
}

func NewJobStore(client *goredis.Client) *JobStore {
	return &JobStore{client: client}
}

// NewClient builds a client from a redis:// URL.
func NewClient(redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return goredis.NewClient(opts), nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *JobStore) Insert(ctx context.Context, job *domain.Job) error {
	seq, err := s.client.Incr(ctx, sequenceKey).Result()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	job.Sequence = seq

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, 0)
		pipe.ZAdd(ctx, jobIndexKey, goredis.Z{Score: float64(seq), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeJob(raw)
}

func (s *JobStore) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	ids, err := s.client.ZRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}

	jobs := []*domain.Job{}
	if len(ids) == 0 {
		return jobs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// deleted between ZRANGE and MGET
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Match(job) {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *JobStore) Update(ctx context.Context, job *domain.Job, expectedVersion int64) error {
	key := jobKey(job.ID)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeJob(raw)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return port.ErrStaleVersion
		}

		next := job.Clone()
		next.Version = expectedVersion + 1
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, goredis.TxFailedErr):
		return port.ErrStaleVersion
	case err != nil:
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, port.ErrStaleVersion) {
			return err
		}
		return fmt.Errorf("update job: %w", err)
	}

	job.Version = expectedVersion + 1
	return nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	var del *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, jobKey(id))
		pipe.ZRem(ctx, jobIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	jobs, err := s.List(ctx, domain.JobFilter{})
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, job := range jobs {
		if !job.Status.IsTerminal() || job.EndTime == nil || !job.EndTime.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, job.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *JobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeJob(raw []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

var _ port.JobStore = (*JobStore)(nil)
