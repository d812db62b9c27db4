package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bnema/celluloid/internal/adapter/http/ratelimit"
	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/service"
	"github.com/stretchr/testify/mock"
)

const testKey = "test-api-key"

type jobServiceMock struct {
	mock.Mock
}

func (m *jobServiceMock) Submit(ctx context.Context, req service.SubmitRequest) (*service.JobView, bool, error) {
	args := m.Called(ctx, req)
	view, _ := args.Get(0).(*service.JobView)
	return view, args.Bool(1), args.Error(2)
}

func (m *jobServiceMock) Status(ctx context.Context, jobID string) (*service.JobView, error) {
	args := m.Called(ctx, jobID)
	view, _ := args.Get(0).(*service.JobView)
	return view, args.Error(1)
}

func (m *jobServiceMock) Artifact(ctx context.Context, jobID string) (*service.ResultView, []byte, error) {
	args := m.Called(ctx, jobID)
	view, _ := args.Get(0).(*service.ResultView)
	data, _ := args.Get(1).([]byte)
	return view, data, args.Error(2)
}

func (m *jobServiceMock) ListResults(externalID string) ([]domain.ResultEntry, error) {
	args := m.Called(externalID)
	entries, _ := args.Get(0).([]domain.ResultEntry)
	return entries, args.Error(1)
}

func (m *jobServiceMock) List(ctx context.Context, filter domain.JobFilter) (*service.JobList, error) {
	args := m.Called(ctx, filter)
	list, _ := args.Get(0).(*service.JobList)
	return list, args.Error(1)
}

func (m *jobServiceMock) Queue(ctx context.Context) (*service.QueueView, error) {
	args := m.Called(ctx)
	view, _ := args.Get(0).(*service.QueueView)
	return view, args.Error(1)
}

func (m *jobServiceMock) Delete(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func (m *jobServiceMock) Health(ctx context.Context) *service.Health {
	health, _ := m.Called(ctx).Get(0).(*service.Health)
	return health
}

var errBadKey = errors.New("bad key")

type fakeAuth struct {
	key string
}

func (a *fakeAuth) Enabled() bool { return a.key != "" }

func (a *fakeAuth) ValidateKey(key string) error {
	if !a.Enabled() || key == a.key {
		return nil
	}
	return errBadKey
}

func (a *fakeAuth) GenerateToken() string { return "session-" + a.key }

func (a *fakeAuth) ValidateToken(token string) error {
	if token == "session-"+a.key {
		return nil
	}
	return errBadKey
}

type testServer struct {
	*Server
	jobs *jobServiceMock
	bus  *service.EventBus
}

func newTestServer(t *testing.T, key string) *testServer {
	t.Helper()
	jobs := &jobServiceMock{}
	t.Cleanup(func() { jobs.AssertExpectations(t) })

	bus := service.NewEventBus()
	auth := &fakeAuth{key: key}
	authenticator := NewAuthenticator(auth, ratelimit.NewLimiter(3, time.Minute, time.Minute), ratelimit.NewBackoff(time.Millisecond, time.Millisecond, 2), false)
	authenticator.sleep = func(context.Context, time.Duration) {}

	srv := NewServer(jobs, bus, authenticator, auth.Enabled(), ServerConfig{
		Version:    "test",
		CSRFSecret: []byte("csrf-secret"),
	})
	return &testServer{Server: srv, jobs: jobs, bus: bus}
}

func (s *testServer) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) api(method, target, body string) *httptest.ResponseRecorder {
	return s.do(method, target, body, "X-API-Key", testKey)
}

func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }
