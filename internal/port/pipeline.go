package port

import (
	"context"

	"github.com/bnema/celluloid/internal/domain"
)

// ProgressFunc receives the fraction done in [0,1] and the counters reported
// so far.
type ProgressFunc func(fraction float64, counters map[string]any)

type Pipeline interface {
	Run(ctx context.Context, req domain.PipelineRequest, progress ProgressFunc) (*domain.PipelineResult, error)
}
