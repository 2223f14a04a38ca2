// Package events provides the decision engine's diagnostics event bus: a
// bounded worker-pool pub/sub that the orchestrator publishes decision and
// regime-change events to, and the API's WebSocket hub subscribes to for
// broadcast (§4.10, "diagnostics"). Adapted from the teacher's
// events.EventBus, trimmed from the teacher's backtest/live-trading event
// taxonomy (bars, ticks, orders, executions) down to the three event kinds
// this engine actually emits.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType defines the category of event
type EventType string

const (
	// EventTypeDecision fires once per processed request, carrying the
	// action the orchestrator returned.
	EventTypeDecision EventType = "decision"
	// EventTypeRegimeChange fires when a symbol's classified regime differs
	// from its previously observed regime.
	EventTypeRegimeChange EventType = "regime_change"
	// EventTypeAccountGuard fires when the Funded-Account Guard denies
	// trading for an account.
	EventTypeAccountGuard EventType = "account_guard"
)

// Event is the base interface for all trading events
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event functionality
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// NewBaseEvent creates a new base event with generated ID and timestamp
func NewBaseEvent(eventType EventType, symbol string) BaseEvent {
	return BaseEvent{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// DecisionEvent carries one request's reply for diagnostics broadcast (§6,
// §4.10). It mirrors types.Reply's shape rather than importing pkg/types
// directly, keeping the event bus free of a dependency on the domain model.
type DecisionEvent struct {
	BaseEvent
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Side       string  `json:"side,omitempty"`
	Lots       float64 `json:"lots,omitempty"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// RegimeChangeEvent fires when a symbol's classified regime changes.
type RegimeChangeEvent struct {
	BaseEvent
	Symbol    string `json:"symbol"`
	OldRegime string `json:"old_regime"`
	NewRegime string `json:"new_regime"`
}

// AccountGuardEvent fires when the Funded-Account Guard denies trading.
type AccountGuardEvent struct {
	BaseEvent
	Reason        string  `json:"reason"`
	DistanceDaily float64 `json:"distance_daily"`
	DistanceDD    float64 `json:"distance_dd"`
}

// EventHandler is a function that processes events
type EventHandler func(event Event) error

// EventFilter can selectively process events
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription behavior
type SubscriptionOptions struct {
	Filter     EventFilter // Optional filter
	Async      bool        // Process in separate goroutine (default: true)
	BufferSize int         // Channel buffer size for async
}

// Subscription represents an active event subscription
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive returns whether subscription is active
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats tracks performance metrics
type EventBusStats struct {
	EventsPublished   int64         `json:"events_published"`
	EventsProcessed   int64         `json:"events_processed"`
	TotalProcessed    int64         `json:"total_processed"` // Alias for EventsProcessed
	EventsDropped     int64         `json:"events_dropped"`
	ProcessingErrors  int64         `json:"processing_errors"`
	AvgLatencyNs      int64         `json:"avg_latency_ns"`
	MaxLatencyNs      int64         `json:"max_latency_ns"`
	P99LatencyNs      int64         `json:"p99_latency_ns"`
	P99Latency        time.Duration `json:"p99_latency"` // Convenience field
	ActiveSubscribers int64         `json:"active_subscribers"`
}

// EventBusConfig configures the event bus
type EventBusConfig struct {
	NumWorkers int `json:"numWorkers"`
	BufferSize int `json:"bufferSize"`
}

// DefaultEventBusConfig returns sensible defaults
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		NumWorkers: 16,
		BufferSize: 100000,
	}
}

// EventBus is the central event routing system
// Designed for 100K+ events/sec throughput with goroutine workers
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription // Subscribe to all events

	// Performance
	eventChan   chan Event
	workerCount int

	// Stats
	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	// Latency tracking
	latencies  []int64
	latencyMu  sync.Mutex
	maxLatency atomic.Int64
	avgLatency atomic.Int64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus creates a high-performance event bus
// workerCount: number of goroutines processing events (default: 16)
// bufferSize: event channel buffer size (default: 100000)
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	workerCount := config.NumWorkers
	bufferSize := config.BufferSize
	
	if workerCount <= 0 {
		workerCount = 16 // Default: 16 workers for parallel processing
	}
	if bufferSize <= 0 {
		bufferSize = 100000 // 100K event buffer
	}

	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		subscribers:    make(map[EventType][]*Subscription),
		allSubscribers: make([]*Subscription, 0),
		eventChan:      make(chan Event, bufferSize),
		workerCount:    workerCount,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
		latencies:      make([]int64, 0, 10000),
	}

	// Start worker pool - this enables 1M+ events/sec processing
	for i := 0; i < workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker(i)
	}

	eb.logger.Info("EventBus initialized",
		zap.Int("workers", workerCount),
		zap.Int("buffer_size", bufferSize),
	)

	return eb
}

// worker processes events from the channel
func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			startTime := time.Now()
			eb.processEvent(event)

			// Track latency
			latency := time.Since(startTime).Nanoseconds()
			eb.trackLatency(latency)
		}
	}
}

// processEvent routes event to subscribers
func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	// Process type-specific subscribers
	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}

		// Apply filter if present
		if sub.Options.Filter != nil && !sub.Options.Filter(event) {
			continue
		}

		if sub.Options.Async {
			go eb.executeHandler(sub, event)
		} else {
			eb.executeHandler(sub, event)
		}
	}

	// Process "all events" subscribers
	for _, sub := range allSubs {
		if !sub.active.Load() {
			continue
		}

		if sub.Options.Filter != nil && !sub.Options.Filter(event) {
			continue
		}

		if sub.Options.Async {
			go eb.executeHandler(sub, event)
		} else {
			eb.executeHandler(sub, event)
		}
	}

	eb.eventsProcessed.Add(1)
}

// executeHandler safely executes a handler with panic recovery
func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("Event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("Event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("event_type", string(event.GetType())),
			zap.Error(err),
		)
	}
}

// trackLatency records processing latency
func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	eb.latencies = append(eb.latencies, latencyNs)

	// Keep only last 10K samples
	if len(eb.latencies) > 10000 {
		eb.latencies = eb.latencies[5000:]
	}

	// Update max latency
	currentMax := eb.maxLatency.Load()
	if latencyNs > currentMax {
		eb.maxLatency.Store(latencyNs)
	}

	// Update average (exponential moving average)
	currentAvg := eb.avgLatency.Load()
	newAvg := (currentAvg*99 + latencyNs) / 100
	eb.avgLatency.Store(newAvg)
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	id := subscriptionCounter.Add(1)
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}

	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}

	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}

	if neg {
		pos--
		buf[pos] = '-'
	}

	return string(buf[pos:])
}

// Subscribe registers a handler for an event type
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{
		Async:      true,
		BufferSize: 1000,
	}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{
		ID:        generateSubscriptionID(),
		EventType: eventType,
		Handler:   handler,
		Options:   options,
	}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)

	eb.logger.Debug("Subscription added",
		zap.String("id", sub.ID),
		zap.String("event_type", string(eventType)),
	)

	return sub
}

// SubscribeAll registers a handler for all event types
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{
		Async:      true,
		BufferSize: 1000,
	}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{
		ID:        generateSubscriptionID(),
		EventType: "*",
		Handler:   handler,
		Options:   options,
	}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)

	return sub
}

// SubscribeMultiple registers a handler for multiple event types
func (eb *EventBus) SubscribeMultiple(eventTypes []EventType, handler EventHandler, opts ...SubscriptionOptions) []*Subscription {
	subs := make([]*Subscription, len(eventTypes))
	for i, eventType := range eventTypes {
		subs[i] = eb.Subscribe(eventType, handler, opts...)
	}
	return subs
}

// Unsubscribe removes a subscription
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish sends an event to all subscribers (non-blocking)
// If the buffer is full, the event is dropped and counted
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		// Buffer full - drop event
		eb.eventsDropped.Add(1)
		eb.logger.Warn("Event dropped - buffer full",
			zap.String("event_type", string(event.GetType())),
		)
	}
}

// PublishSync sends an event and waits for processing (blocking)
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.processEvent(event)
}

// GetStats returns current performance statistics
func (eb *EventBus) GetStats() EventBusStats {
	p99Ns := eb.GetP99LatencyNs()
	eventsProcessed := eb.eventsProcessed.Load()
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eventsProcessed,
		TotalProcessed:    eventsProcessed, // Alias
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		AvgLatencyNs:      eb.avgLatency.Load(),
		MaxLatencyNs:      eb.maxLatency.Load(),
		P99LatencyNs:      p99Ns,
		P99Latency:        time.Duration(p99Ns),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

// GetP99LatencyNs calculates the 99th percentile latency in nanoseconds
func (eb *EventBus) GetP99LatencyNs() int64 {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	if len(eb.latencies) == 0 {
		return 0
	}

	// Sort copy of latencies
	sorted := make([]int64, len(eb.latencies))
	copy(sorted, eb.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// GetP99Latency returns P99 latency as time.Duration
func (eb *EventBus) GetP99Latency() time.Duration {
	return time.Duration(eb.GetP99LatencyNs())
}

// Start begins processing events (workers are already started in constructor)
func (eb *EventBus) Start(ctx context.Context) error {
	eb.logger.Info("EventBus started",
		zap.Int("workers", eb.workerCount),
	)
	return nil
}

// Stop shuts down the event bus gracefully
func (eb *EventBus) Stop() {
	eb.logger.Info("Shutting down EventBus...")
	eb.cancel()

	// Wait for workers with timeout
	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("EventBus shutdown complete",
			zap.Int64("events_processed", eb.eventsProcessed.Load()),
			zap.Int64("events_dropped", eb.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		eb.logger.Warn("EventBus shutdown timed out")
	}
}

// Close is an alias for Stop (for backwards compatibility)
func (eb *EventBus) Close() {
	eb.Stop()
}

// Helper factory functions for creating events

var eventCounter atomic.Int64

func generateEventID() string {
	id := eventCounter.Add(1)
	return "evt_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

// NewDecisionEvent creates a new decision event.
func NewDecisionEvent(symbol, action, side string, lots float64, reason string, confidence float64) *DecisionEvent {
	return &DecisionEvent{
		BaseEvent: BaseEvent{
			ID:        generateEventID(),
			Type:      EventTypeDecision,
			Timestamp: time.Now(),
		},
		Symbol:     symbol,
		Action:     action,
		Side:       side,
		Lots:       lots,
		Reason:     reason,
		Confidence: confidence,
	}
}

// NewRegimeChangeEvent creates a new regime-change event.
func NewRegimeChangeEvent(symbol, oldRegime, newRegime string) *RegimeChangeEvent {
	return &RegimeChangeEvent{
		BaseEvent: BaseEvent{
			ID:        generateEventID(),
			Type:      EventTypeRegimeChange,
			Timestamp: time.Now(),
		},
		Symbol:    symbol,
		OldRegime: oldRegime,
		NewRegime: newRegime,
	}
}

// NewAccountGuardEvent creates a new account-guard event.
func NewAccountGuardEvent(reason string, distanceDaily, distanceDD float64) *AccountGuardEvent {
	return &AccountGuardEvent{
		BaseEvent: BaseEvent{
			ID:        generateEventID(),
			Type:      EventTypeAccountGuard,
			Timestamp: time.Now(),
		},
		Reason:        reason,
		DistanceDaily: distanceDaily,
		DistanceDD:    distanceDD,
	}
}
