package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bnema/celluloid/internal/adapter/storage/jsonfile"
	"github.com/bnema/celluloid/internal/adapter/storage/sqlite"
	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/port"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type pipelineFunc func(ctx context.Context, req domain.PipelineRequest, progress port.ProgressFunc) (*domain.PipelineResult, error)

func (f pipelineFunc) Run(ctx context.Context, req domain.PipelineRequest, progress port.ProgressFunc) (*domain.PipelineResult, error) {
	return f(ctx, req, progress)
}

func okResult(req domain.PipelineRequest) *domain.PipelineResult {
	return &domain.PipelineResult{
		Artifact: []byte(`{"job_id":"` + req.JobID + `","detections":[]}`),
		Counters: map[string]any{"frames_processed": 10, "total_detections": 0},
	}
}

func newTestStore(t *testing.T, dir string) port.JobStore {
	t.Helper()
	store, err := sqlite.NewStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return sqlite.NewJobStore(store)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(newTestStore(t, t.TempDir()))
}

type harnessConfig struct {
	client   port.CallbackClient
	executor ExecutorConfig
	jobs     JobServiceConfig
	store    port.JobStore
}

type harness struct {
	svc        *JobService
	registry   *Registry
	dispatcher *Dispatcher
	results    *Results
	bus        *EventBus
	notifier   *Notifier
	outputDir  string
	start      func()
}

// newHarness wires the full job stack around pipeline. The dispatcher loop
// is not started; call start.
func newHarness(t *testing.T, pipeline port.Pipeline, cfg harnessConfig) *harness {
	t.Helper()
	dir := t.TempDir()

	store := cfg.store
	if store == nil {
		store = newTestStore(t, dir)
	}
	outputDir := filepath.Join(dir, "outputs")
	index, err := jsonfile.NewStore(outputDir)
	require.NoError(t, err)

	h := &harness{
		registry:   NewRegistry(store),
		dispatcher: NewDispatcher(time.Minute, 0.3),
		bus:        NewEventBus(),
		outputDir:  outputDir,
	}
	h.results = NewResults(index, outputDir)

	var sink CallbackSink
	if cfg.client != nil {
		h.notifier = NewNotifier(cfg.client, NotifierConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Timeout:     time.Second,
			Workers:     1,
		})
		h.notifier.Start(context.Background())
		t.Cleanup(h.notifier.Close)
		sink = h.notifier
	}

	if cfg.executor.MaxJobDuration == 0 {
		cfg.executor.MaxJobDuration = 10 * time.Second
	}
	executor := NewExecutor(h.registry, h.dispatcher, pipeline, h.results, sink, h.bus, cfg.executor)
	h.svc = NewJobService(h.registry, h.dispatcher, h.results, sink, cfg.jobs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.start = func() {
		go func() {
			defer close(done)
			h.dispatcher.Run(ctx, executor.Execute)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}
	return h
}

func (h *harness) submit(t *testing.T, externalID string) *JobView {
	t.Helper()
	view, created, err := h.svc.Submit(context.Background(), SubmitRequest{
		ExternalID: externalID,
		VideoURL:   "https://cdn.example.com/" + externalID + ".mp4",
	})
	require.NoError(t, err)
	require.True(t, created)
	return view
}

func (h *harness) status(t *testing.T, jobID string) *JobView {
	t.Helper()
	view, err := h.svc.Status(context.Background(), jobID)
	require.NoError(t, err)
	return view
}

func (h *harness) waitStatus(t *testing.T, jobID string, want domain.JobStatus) *JobView {
	t.Helper()
	var last *JobView
	require.Eventually(t, func() bool {
		v, err := h.svc.Status(context.Background(), jobID)
		if err != nil {
			return false
		}
		last = v
		return v.Status == want
	}, waitFor, tick, "job %s never reached %s", jobID, want)
	return last
}

// gate blocks pipeline runs keyed by external id until opened.
type gate struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func newGate() *gate {
	return &gate{chans: map[string]chan struct{}{}}
}

func (g *gate) ch(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.chans[key]
	if !ok {
		c = make(chan struct{})
		g.chans[key] = c
	}
	return c
}

func (g *gate) open(key string) {
	close(g.ch(key))
}

func (g *gate) wait(ctx context.Context, key string) error {
	select {
	case <-g.ch(key):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
