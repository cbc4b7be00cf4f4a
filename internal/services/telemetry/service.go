// Package telemetry fans fire-and-forget notifications out to
// subscribers without ever blocking the emitting code path.
package telemetry

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// Handler consumes telemetry events.
type Handler func(event interfaces.TelemetryEvent)

// Service implements interfaces.EventService with a buffered dispatch
// channel. Events are dropped when the buffer is full; scheduling
// correctness never depends on telemetry delivery.
type Service struct {
	logger arbor.ILogger

	mu       sync.RWMutex
	handlers []Handler
	closed   bool

	events chan interfaces.TelemetryEvent
	done   chan struct{}
	once   sync.Once
}

// NewService creates the telemetry sink and starts its dispatch loop.
func NewService(logger arbor.ILogger, buffer int) *Service {
	if buffer <= 0 {
		buffer = 256
	}
	s := &Service{
		logger: logger,
		events: make(chan interfaces.TelemetryEvent, buffer),
		done:   make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Subscribe registers a handler for every event.
func (s *Service) Subscribe(handler Handler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// Fire enqueues an event, dropping it if the buffer is full or the sink
// is already closed. The read lock is held across the send so Close
// cannot close the channel under a Fire in flight.
func (s *Service) Fire(event interfaces.TelemetryEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.logger.Debug().Str("event", event.Name).Msg("Telemetry buffer full, event dropped")
	}
}

// FireMismatch reports a parent/child match-count divergence.
func (s *Service) FireMismatch(mismatch models.Mismatch) {
	s.Fire(interfaces.TelemetryEvent{
		Name:           "mismatch." + string(mismatch.Status),
		BrokerID:       mismatch.ChildBrokerID,
		ProfileQueryID: mismatch.ProfileQueryID,
		Fields: map[string]interface{}{
			"parent_broker_id":   mismatch.ParentBrokerID,
			"parent_match_count": mismatch.ParentMatches,
			"child_match_count":  mismatch.ChildMatches,
		},
	})
}

// Close stops the dispatch loop. Events still buffered are delivered
// first; later Fire calls are dropped.
func (s *Service) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.events)
		<-s.done
	})
}

func (s *Service) dispatch() {
	defer close(s.done)
	for event := range s.events {
		s.mu.RLock()
		handlers := s.handlers
		s.mu.RUnlock()

		for _, handler := range handlers {
			handler(event)
		}

		s.logger.Debug().
			Str("event", event.Name).
			Str("broker", event.BrokerID).
			Msg("Telemetry event dispatched")
	}
}
