package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
	"github.com/bnema/celluloid/internal/port"
	"github.com/sethvargo/go-retry"
)

type NotifierConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
	Workers     int
	QueueSize   int
}

// CallbackSink accepts terminal job outcomes for webhook delivery without
// blocking the caller.
type CallbackSink interface {
	Notify(url string, payload domain.CallbackPayload) bool
}

type delivery struct {
	url     string
	payload domain.CallbackPayload
}

// Notifier delivers callbacks from a buffered channel with a small worker
// pool. Each delivery is retried with capped exponential backoff; failures
// are logged and dropped.
type Notifier struct {
	client port.CallbackClient
	cfg    NotifierConfig
	queue  chan delivery
	wg     sync.WaitGroup
	ctx    context.Context

	mu     sync.RWMutex
	closed bool
}

func NewNotifier(client port.CallbackClient, cfg NotifierConfig) *Notifier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Notifier{
		client: client,
		cfg:    cfg,
		queue:  make(chan delivery, cfg.QueueSize),
		ctx:    context.Background(),
	}
}

func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	n.ctx = ctx
	n.mu.Unlock()

	for i := range n.cfg.Workers {
		n.wg.Add(1)
		go n.runWorker(ctx, i)
	}
	logger.Info.Printf("started %d callback workers", n.cfg.Workers)
}

func (n *Notifier) runWorker(ctx context.Context, id int) {
	defer n.wg.Done()
	for d := range n.queue {
		if err := n.Deliver(ctx, d.url, d.payload); err != nil {
			logger.Error.Printf("callback worker %d: job %s: %v", id, d.payload.JobID, err)
			continue
		}
		logger.Info.Printf("callback delivered: job=%s, status=%s", d.payload.JobID, d.payload.Status)
	}
}

// Notify queues a delivery. When the queue is full the delivery runs on its
// own goroutine. It returns false only once the notifier is closed.
func (n *Notifier) Notify(url string, payload domain.CallbackPayload) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		logger.Warn.Printf("callback for job %s dropped: notifier closed", payload.JobID)
		return false
	}

	select {
	case n.queue <- delivery{url: url, payload: payload}:
		return true
	default:
		logger.Warn.Printf("callback queue full, delivering job %s inline", payload.JobID)
		n.wg.Add(1)
		go func(ctx context.Context) {
			defer n.wg.Done()
			if err := n.Deliver(ctx, url, payload); err != nil {
				logger.Error.Printf("callback overflow: job %s: %v", payload.JobID, err)
			}
		}(n.ctx)
		return true
	}
}

// Close stops accepting deliveries and waits for queued ones to finish.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}

// Deliver posts payload until it succeeds, a permanent error is returned or
// the attempt budget runs out. Failures are returned as *domain.DeliveryError.
func (n *Notifier) Deliver(ctx context.Context, url string, payload domain.CallbackPayload) error {
	b := retry.NewExponential(n.cfg.BaseDelay)
	b = retry.WithCappedDuration(n.cfg.MaxDelay, b)
	b = retry.WithMaxRetries(uint64(n.cfg.MaxAttempts-1), b)

	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()

		err := n.client.Post(attemptCtx, url, payload)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			logger.Warn.Printf("callback to %s rejected permanently: %v", logger.SanitizeForLog(url), err)
			return err
		}
		logger.Warn.Printf("callback attempt %d/%d to %s failed: %v",
			attempts, n.cfg.MaxAttempts, logger.SanitizeForLog(url), err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return &domain.DeliveryError{URL: url, Attempts: attempts, Err: err}
	}
	return nil
}

// isRetryable treats errors that do not classify themselves as transient.
func isRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
