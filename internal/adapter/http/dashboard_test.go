package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDashboardPage_Renders(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	data := DashboardData{
		Queue: &service.QueueView{
			QueueSize:     1,
			ProcessingJob: &service.JobView{Job: &domain.Job{ID: "run-1", ExternalID: "proj-a", Status: domain.JobStatusProcessing, Progress: 37, StartTime: &start}},
			QueuedJobs: []service.JobView{
				{Job: &domain.Job{ID: "next-1", ExternalID: "<script>", Status: domain.JobStatusQueued}, QueuePosition: intPtr(0), EstimatedWaitSeconds: floatPtr(90)},
			},
			AverageDurationSeconds: 300,
		},
		Recent: []service.JobView{
			{Job: &domain.Job{ID: "done-1", ExternalID: "proj-b", Status: domain.JobStatusCompleted, EndTime: &end}},
			{Job: &domain.Job{ID: "bad-1", ExternalID: "proj-c", Status: domain.JobStatusFailed, ErrorMessage: "download failed", EndTime: &end}},
		},
		CSRF:        "tok",
		AuthEnabled: true,
		Version:     "v1.2.3",
	}

	var buf bytes.Buffer
	require.NoError(t, DashboardPage(data).Render(context.Background(), &buf))
	html := buf.String()

	assert.Contains(t, html, `id="job-run-1"`)
	assert.Contains(t, html, `width:37%`)
	assert.Contains(t, html, "Queued (1)")
	assert.Contains(t, html, "1m30s")
	assert.Contains(t, html, `action="/dashboard/jobs/next-1/cancel"`)
	assert.Contains(t, html, `name="csrf_token" value="tok"`)
	assert.Contains(t, html, "&lt;script&gt;")
	assert.NotContains(t, html, "<td><script>")
	assert.Contains(t, html, `href="/job/done-1/results?download=1"`)
	assert.Contains(t, html, "download failed")
	assert.Contains(t, html, "Sign out")
	assert.Contains(t, html, "v1.2.3")
}

func TestDashboardPage_Idle(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, DashboardPage(DashboardData{Queue: &service.QueueView{}}).Render(context.Background(), &buf))

	html := buf.String()
	assert.Contains(t, html, "Idle")
	assert.Contains(t, html, "No jobs waiting")
	assert.Contains(t, html, "Nothing finished yet")
	assert.NotContains(t, html, "Sign out")
}

func TestDashboardHandler_ShowsRecentTerminalJobsNewestFirst(t *testing.T) {
	s := newTestServer(t, "")
	s.jobs.On("Queue", mock.Anything).Return(&service.QueueView{}, nil)

	var jobs []service.JobView
	for i := 0; i < 25; i++ {
		jobs = append(jobs, service.JobView{Job: &domain.Job{ID: fmt.Sprintf("old-%02d", i), Status: domain.JobStatusCompleted}})
	}
	jobs = append(jobs, service.JobView{Job: &domain.Job{ID: "waiting", Status: domain.JobStatusQueued}})
	s.jobs.On("List", mock.Anything, domain.JobFilter{}).Return(&service.JobList{Jobs: jobs}, nil)

	rec := s.do(http.MethodGet, "/dashboard", "")

	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, html, "old-24")
	assert.Contains(t, html, "old-05")
	assert.NotContains(t, html, "old-04", "only the newest entries are listed")
	assert.Less(t, strings.Index(html, "old-24"), strings.Index(html, "old-23"))
	assert.NotContains(t, html, ">waiting<")
}

func TestDashboardHandler_Cancel(t *testing.T) {
	s := newTestServer(t, "")
	s.jobs.On("Delete", mock.Anything, "q1").Return(nil)
	s.jobs.On("Delete", mock.Anything, "p1").Return(fmt.Errorf("%w: job p1 is processing", domain.ErrConflict))

	// Obtain a CSRF cookie from any page.
	s.jobs.On("Queue", mock.Anything).Return(&service.QueueView{}, nil)
	s.jobs.On("List", mock.Anything, mock.Anything).Return(&service.JobList{}, nil)
	page := s.do(http.MethodGet, "/dashboard", "")
	var csrf *http.Cookie
	for _, c := range page.Result().Cookies() {
		if c.Name == "celluloid_csrf" {
			csrf = c
		}
	}
	require.NotNil(t, csrf)

	cancel := func(id string) *httptest.ResponseRecorder {
		form := url.Values{"csrf_token": {csrf.Value}}
		req := httptest.NewRequest(http.MethodPost, "/dashboard/jobs/"+id+"/cancel", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(csrf)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec
	}

	rec := cancel("q1")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	rec = cancel("p1")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/dashboard?error="))
}

func TestLoginPage_EscapesMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, LoginPage(`<b>x</b>`, "tok").Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "&lt;b&gt;x&lt;/b&gt;")
	assert.Contains(t, buf.String(), `name="api_key"`)
}
