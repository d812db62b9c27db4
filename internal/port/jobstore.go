package port

import (
	"context"
	"time"

	"github.com/bnema/celluloid/internal/domain"
)

// JobStore persists job records. Implementations must make Update a
// compare-and-set on Job.Version.
type JobStore interface {
	// Insert stores a new job and assigns its admission sequence.
	Insert(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	// List returns matching jobs in admission order.
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	// Update writes job if the stored version still equals expectedVersion and
	// bumps job.Version. It returns ErrStaleVersion when another writer won.
	Update(ctx context.Context, job *domain.Job, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	// DeleteTerminalBefore removes finished jobs whose end time is before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}
