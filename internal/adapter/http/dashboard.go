package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/a-h/templ"
	"github.com/bnema/celluloid/internal/adapter/http/middleware"
	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
	"github.com/bnema/celluloid/internal/service"
	"github.com/go-chi/chi/v5"
)

const recentJobs = 20

type DashboardData struct {
	Queue       *service.QueueView
	Recent      []service.JobView
	CSRF        string
	AuthEnabled bool
	Version     string
	Error       string
}

func renderHTML(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		logger.Debug.Printf("render %s: %v", r.URL.Path, err)
	}
}

type DashboardHandler struct {
	jobs        JobService
	authEnabled bool
	version     string
}

func NewDashboardHandler(jobs JobService, authEnabled bool, version string) *DashboardHandler {
	return &DashboardHandler{jobs: jobs, authEnabled: authEnabled, version: version}
}

func (h *DashboardHandler) Page() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queue, err := h.jobs.Queue(r.Context())
		if err != nil {
			logger.Error.Printf("dashboard queue error: %v", err)
			queue = &service.QueueView{}
		}

		var recent []service.JobView
		if list, err := h.jobs.List(r.Context(), domain.JobFilter{}); err != nil {
			logger.Error.Printf("dashboard list error: %v", err)
		} else {
			for _, j := range slices.Backward(list.Jobs) {
				if j.Status.IsTerminal() {
					recent = append(recent, j)
					if len(recent) == recentJobs {
						break
					}
				}
			}
		}

		renderHTML(w, r, http.StatusOK, DashboardPage(DashboardData{
			Queue:       queue,
			Recent:      recent,
			CSRF:        middleware.CSRFToken(r.Context()),
			AuthEnabled: h.authEnabled,
			Version:     h.version,
			Error:       r.URL.Query().Get("error"),
		}))
	}
}

// Cancel is the form equivalent of DELETE /job/{jobID}.
func (h *DashboardHandler) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")
		if err := h.jobs.Delete(r.Context(), id); err != nil {
			logger.Warn.Printf("dashboard cancel %s: %v", id, err)
			http.Redirect(w, r, "/dashboard?error="+url.QueryEscape(err.Error()), http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	}
}

// page accumulates the first write error so components read linearly.
type page struct {
	w   io.Writer
	err error
}

func (p *page) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *page) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *page) printf(format string, args ...any) {
	p.raw(fmt.Sprintf(format, args...))
}

const styles = `body{font-family:system-ui,sans-serif;margin:2rem auto;max-width:64rem;color:#1d1d1f;background:#fafafa}
h1{font-size:1.4rem}h2{font-size:1.1rem;margin-top:2rem}
table{width:100%;border-collapse:collapse}th,td{text-align:left;padding:.4rem .6rem;border-bottom:1px solid #ddd}
.bar{background:#e5e5e5;border-radius:4px;height:.6rem;width:12rem}.bar span{display:block;background:#2f7d32;height:100%;border-radius:4px}
.muted{color:#777}.error{color:#b00020}.failed{color:#b00020}.completed{color:#2f7d32}
form.inline{display:inline}button{cursor:pointer}`

func layout(p *page, title string, body func()) {
	p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
	p.text(title)
	p.raw(`</title><style>`)
	p.raw(styles)
	p.raw(`</style></head><body>`)
	body()
	p.raw(`</body></html>`)
}

func csrfField(p *page, token string) {
	p.printf(`<input type="hidden" name="%s" value="`, middleware.CSRFFormField)
	p.text(token)
	p.raw(`">`)
}

func LoginPage(errMsg, csrf string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		layout(p, "celluloid - login", func() {
			p.raw(`<h1>celluloid</h1>`)
			if errMsg != "" {
				p.raw(`<p class="error">`)
				p.text(errMsg)
				p.raw(`</p>`)
			}
			p.raw(`<form method="post" action="/login">`)
			csrfField(p, csrf)
			p.raw(`<label>API key <input type="password" name="api_key" autocomplete="current-password" required autofocus></label> <button type="submit">Sign in</button></form>`)
		})
		return p.err
	})
}

func formatWait(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return (time.Duration(*seconds) * time.Second).Round(time.Second).String()
}

func progressBar(p *page, pct float64) {
	p.printf(`<div class="bar"><span style="width:%.0f%%"></span></div> %.0f%%`, pct, pct)
}

func DashboardPage(d DashboardData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		layout(p, "celluloid - queue", func() {
			p.raw(`<h1>celluloid queue</h1>`)
			if d.AuthEnabled {
				p.raw(`<form class="inline" method="post" action="/logout">`)
				csrfField(p, d.CSRF)
				p.raw(`<button type="submit">Sign out</button></form>`)
			}
			if d.Error != "" {
				p.raw(`<p class="error">`)
				p.text(d.Error)
				p.raw(`</p>`)
			}

			p.raw(`<h2>Processing</h2>`)
			if job := d.Queue.ProcessingJob; job != nil {
				p.printf(`<table><tr><th>Job</th><th>Project</th><th>Progress</th><th>Started</th></tr><tr id="job-%s"><td>`, templ.EscapeString(job.ID))
				p.text(job.ID)
				p.raw(`</td><td>`)
				p.text(job.ExternalID)
				p.raw(`</td><td class="progress">`)
				progressBar(p, job.Progress)
				p.raw(`</td><td>`)
				if job.StartTime != nil {
					p.text(job.StartTime.Format(time.RFC3339))
				}
				p.raw(`</td></tr></table>`)
			} else {
				p.raw(`<p class="muted">Idle</p>`)
			}

			p.printf(`<h2>Queued (%d)</h2>`, d.Queue.QueueSize)
			if len(d.Queue.QueuedJobs) == 0 {
				p.raw(`<p class="muted">No jobs waiting</p>`)
			} else {
				p.raw(`<table><tr><th>#</th><th>Job</th><th>Project</th><th>Estimated wait</th><th></th></tr>`)
				for _, j := range d.Queue.QueuedJobs {
					pos := 0
					if j.QueuePosition != nil {
						pos = *j.QueuePosition
					}
					p.printf(`<tr><td>%d</td><td>`, pos)
					p.text(j.ID)
					p.raw(`</td><td>`)
					p.text(j.ExternalID)
					p.raw(`</td><td>`)
					p.text(formatWait(j.EstimatedWaitSeconds))
					p.printf(`</td><td><form class="inline" method="post" action="/dashboard/jobs/%s/cancel">`, url.PathEscape(j.ID))
					csrfField(p, d.CSRF)
					p.raw(`<button type="submit">Cancel</button></form></td></tr>`)
				}
				p.raw(`</table>`)
			}

			p.raw(`<h2>Recent</h2>`)
			if len(d.Recent) == 0 {
				p.raw(`<p class="muted">Nothing finished yet</p>`)
			} else {
				p.raw(`<table><tr><th>Job</th><th>Project</th><th>Status</th><th>Finished</th><th>Detail</th></tr>`)
				for _, j := range d.Recent {
					p.raw(`<tr><td>`)
					p.text(j.ID)
					p.raw(`</td><td>`)
					p.text(j.ExternalID)
					p.printf(`</td><td class="%s">`, templ.EscapeString(string(j.Status)))
					p.text(string(j.Status))
					p.raw(`</td><td>`)
					if j.EndTime != nil {
						p.text(j.EndTime.Format(time.RFC3339))
					}
					p.raw(`</td><td>`)
					switch j.Status {
					case domain.JobStatusCompleted:
						p.printf(`<a href="/job/%s/results?download=1">results</a>`, url.PathEscape(j.ID))
					case domain.JobStatusFailed:
						p.text(j.ErrorMessage)
					}
					p.raw(`</td></tr>`)
				}
				p.raw(`</table>`)
			}

			p.printf(`<p class="muted">average job duration %s &middot; %s</p>`,
				templ.EscapeString((time.Duration(d.Queue.AverageDurationSeconds) * time.Second).String()),
				templ.EscapeString(d.Version))

			// Progress events update the bar in place; status changes reload.
			p.raw(`<script>
const es = new EventSource("/events");
es.addEventListener("progress", (e) => {
  const ev = JSON.parse(e.data);
  const cell = document.querySelector("#job-" + CSS.escape(ev.job_id) + " .progress");
  if (cell) { cell.innerHTML = '<div class="bar"><span style="width:' + Math.round(ev.progress) + '%"></span></div> ' + Math.round(ev.progress) + '%'; }
});
es.addEventListener("status", () => window.location.reload());
</script>`)
		})
		return p.err
	})
}
