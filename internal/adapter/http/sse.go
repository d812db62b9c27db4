package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/service"
	"github.com/go-chi/chi/v5"
)

type EventSource interface {
	Subscribe(jobID string) chan domain.Event
	Unsubscribe(jobID string, ch chan domain.Event)
}

type SSEHandler struct {
	events    EventSource
	jobs      JobService
	keepAlive time.Duration
}

func NewSSEHandler(events EventSource, jobs JobService) *SSEHandler {
	return &SSEHandler{
		events:    events,
		jobs:      jobs,
		keepAlive: 15 * time.Second,
	}
}

// sseWrite writes one event. The payload is single-line JSON.
func sseWrite(w http.ResponseWriter, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func snapshotEvent(view *service.JobView) domain.Event {
	return domain.Event{
		Type:     "status",
		JobID:    view.ID,
		Status:   view.Status,
		Progress: view.Progress,
		Message:  view.ErrorMessage,
	}
}

// JobEvents streams the status and progress of one job. The current state is
// sent first. Once the job is terminal the stream stays open until the client
// leaves, so EventSource does not reconnect in a loop.
func (h *SSEHandler) JobEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")

		// Subscribe before reading the snapshot so no transition falls between.
		ch := h.events.Subscribe(id)
		defer h.events.Unsubscribe(id, ch)

		view, err := h.jobs.Status(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		startStream(w)
		ctx := r.Context()
		if err := sseWrite(w, snapshotEvent(view)); err != nil {
			return
		}
		if view.Status.IsTerminal() {
			<-ctx.Done()
			return
		}

		h.stream(ctx, w, ch, func(ev domain.Event) bool {
			return ev.Type == "status" && ev.Status.IsTerminal()
		})
	}
}

// AllEvents streams events of every job, for the dashboard.
func (h *SSEHandler) AllEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch := h.events.Subscribe(service.AllJobs)
		defer h.events.Unsubscribe(service.AllJobs, ch)

		startStream(w)
		sendKeepAlive(w)
		h.stream(r.Context(), w, ch, func(domain.Event) bool { return false })
	}
}

// stream forwards events until the client leaves. After an event for which
// last returns true it only waits for the client to close.
func (h *SSEHandler) stream(ctx context.Context, w http.ResponseWriter, ch <-chan domain.Event, last func(domain.Event) bool) {
	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			sendKeepAlive(w)
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sseWrite(w, ev); err != nil {
				return
			}
			if last(ev) {
				<-ctx.Done()
				return
			}
		}
	}
}
