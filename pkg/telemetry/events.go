package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NoDesign marks an event not tied to a design.
const NoDesign = -1

// Event is a timeline entry of an optimization run.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	RunID     string                 `json:"run_id,omitempty"`
	Design    int                    `json:"design"`
	Stage     string                 `json:"stage,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted     = "run.started"
	EventTypeDesignCreated  = "design.created"
	EventTypeDesignReused   = "design.reused"
	EventTypeStageStarted   = "stage.started"
	EventTypeStageCompleted = "stage.completed"
	EventTypeStageFailed    = "stage.failed"
	EventTypeQueryFailed    = "query.failed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles published events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. Delivery is synchronous
// unless EnableAsync is set, in which case events are buffered and
// delivered from a background goroutine in publish order.
type EventPublisher struct {
	config      EventsConfig
	runID       string
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// SetRunID stamps every subsequently published event with runID.
func (ep *EventPublisher) SetRunID(runID string) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.runID = runID
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	if event.RunID == "" {
		event.RunID = ep.runID
	}
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes the start of an optimization run.
func (ep *EventPublisher) PublishRunStarted(root string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "engine",
		Design:  NoDesign,
		Message: fmt.Sprintf("Optimization run started for %s", root),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"root": root,
		},
	})
}

// PublishDesignCreated publishes a new current design.
func (ep *EventPublisher) PublishDesignCreated(index int, dir string) error {
	return ep.Publish(Event{
		Type:    EventTypeDesignCreated,
		Source:  "engine",
		Design:  index,
		Message: fmt.Sprintf("Design %d created in %s", index, dir),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"dir": dir,
		},
	})
}

// PublishDesignReused publishes a query answered by the current design.
func (ep *EventPublisher) PublishDesignReused(index int, query string) error {
	return ep.Publish(Event{
		Type:    EventTypeDesignReused,
		Source:  "engine",
		Design:  index,
		Message: fmt.Sprintf("Design %d reused for %s", index, query),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"query": query,
		},
	})
}

// PublishStageStarted publishes the start of a solver stage.
func (ep *EventPublisher) PublishStageStarted(index int, stage string) error {
	return ep.Publish(Event{
		Type:    EventTypeStageStarted,
		Source:  "engine",
		Design:  index,
		Stage:   stage,
		Message: fmt.Sprintf("Stage %s started for design %d", stage, index),
		Level:   EventLevelInfo,
	})
}

// PublishStageCompleted publishes a successful solver stage.
func (ep *EventPublisher) PublishStageCompleted(index int, stage string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeStageCompleted,
		Source:  "engine",
		Design:  index,
		Stage:   stage,
		Message: fmt.Sprintf("Stage %s completed for design %d", stage, index),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishStageFailed publishes a failed solver stage.
func (ep *EventPublisher) PublishStageFailed(index int, stage, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStageFailed,
		Source:  "engine",
		Design:  index,
		Stage:   stage,
		Message: fmt.Sprintf("Stage %s failed for design %d: %s", stage, index, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishQueryFailed publishes a failed optimizer query.
func (ep *EventPublisher) PublishQueryFailed(index int, query, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeQueryFailed,
		Source:  "engine",
		Design:  index,
		Message: fmt.Sprintf("Query %s failed: %s", query, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"query":  query,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in order.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// drain what is left
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByDesign creates a filter that only allows events of one design.
func FilterByDesign(index int) EventFilter {
	return func(event Event) bool {
		return event.Design == index
	}
}
