package port

import (
	"context"

	"github.com/bnema/celluloid/internal/domain"
)

type CallbackClient interface {
	Post(ctx context.Context, url string, payload domain.CallbackPayload) error
}
