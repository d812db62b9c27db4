package service

import (
	"sync"

	"github.com/bnema/celluloid/internal/domain"
)

type EventPublisher interface {
	Publish(event domain.Event)
}

// EventBus fans job events out to subscribers keyed by job id. Subscribing
// to AllJobs receives every event.
type EventBus struct {
	subscribers map[string][]chan domain.Event
	mu          sync.RWMutex
}

const AllJobs = "*"

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan domain.Event),
	}
}

func (eb *EventBus) Subscribe(jobID string) chan domain.Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan domain.Event, 16)
	eb.subscribers[jobID] = append(eb.subscribers[jobID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(jobID string, ch chan domain.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[jobID]) == 0 {
		delete(eb.subscribers, jobID)
	}
}

func (eb *EventBus) Publish(event domain.Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, key := range []string{event.JobID, AllJobs} {
		for _, ch := range eb.subscribers[key] {
			select {
			case ch <- event:
			default:
				// Drop event if subscriber is slow
			}
		}
	}
}
