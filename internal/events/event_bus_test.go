package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quantedge/decision-engine/internal/events"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) *events.EventBus {
	t.Helper()
	bus := events.NewEventBus(zap.NewNop(), events.EventBusConfig{NumWorkers: 2, BufferSize: 64})
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(bus.Stop)
	return bus
}

func TestSubscribeReceivesMatchingEventType(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var got *events.DecisionEvent
	done := make(chan struct{})

	bus.Subscribe(events.EventTypeDecision, func(ev events.Event) error {
		mu.Lock()
		got = ev.(*events.DecisionEvent)
		mu.Unlock()
		close(done)
		return nil
	})

	bus.Publish(events.NewDecisionEvent("EURUSD", "BUY", "long", 0.5, "", 0.7))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler")
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil || got.Symbol != "EURUSD" || got.Action != "BUY" {
		t.Fatalf("got = %+v", got)
	}
}

func TestSubscribeDoesNotReceiveOtherEventTypes(t *testing.T) {
	bus := newTestBus(t)

	called := make(chan struct{}, 1)
	bus.Subscribe(events.EventTypeRegimeChange, func(ev events.Event) error {
		called <- struct{}{}
		return nil
	})

	bus.Publish(events.NewDecisionEvent("EURUSD", "HOLD", "", 0, "degraded", 0))

	select {
	case <-called:
		t.Fatal("regime_change subscriber should not receive a decision event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEveryEventType(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	seen := map[events.EventType]bool{}
	var wg sync.WaitGroup
	wg.Add(3)

	bus.SubscribeAll(func(ev events.Event) error {
		mu.Lock()
		if !seen[ev.GetType()] {
			seen[ev.GetType()] = true
			wg.Done()
		}
		mu.Unlock()
		return nil
	})

	bus.Publish(events.NewDecisionEvent("EURUSD", "HOLD", "", 0, "degraded", 0))
	bus.Publish(events.NewRegimeChangeEvent("EURUSD", "trending", "ranging"))
	bus.Publish(events.NewAccountGuardEvent("daily loss limit", -10, 50))

	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if !seen[events.EventTypeDecision] || !seen[events.EventTypeRegimeChange] || !seen[events.EventTypeAccountGuard] {
		t.Fatalf("seen = %+v, want all three event types", seen)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus(t)

	called := make(chan struct{}, 4)
	sub := bus.Subscribe(events.EventTypeDecision, func(ev events.Event) error {
		called <- struct{}{}
		return nil
	})

	bus.Unsubscribe(sub)
	if sub.IsActive() {
		t.Fatal("subscription should be inactive after Unsubscribe")
	}

	bus.Publish(events.NewDecisionEvent("EURUSD", "HOLD", "", 0, "degraded", 0))

	select {
	case <-called:
		t.Fatal("unsubscribed handler should not run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerPanicIsRecoveredAndCountedAsProcessingError(t *testing.T) {
	bus := newTestBus(t)

	done := make(chan struct{})
	bus.Subscribe(events.EventTypeDecision, func(ev events.Event) error {
		defer close(done)
		panic("boom")
	})

	bus.Publish(events.NewDecisionEvent("EURUSD", "HOLD", "", 0, "degraded", 0))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for panicking handler to run")
	}

	// Allow executeHandler's recover() and stats update to land.
	time.Sleep(50 * time.Millisecond)
	if stats := bus.GetStats(); stats.ProcessingErrors == 0 {
		t.Fatalf("stats = %+v, want at least one processing error recorded", stats)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for WaitGroup")
	}
}
