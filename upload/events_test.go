package upload

import (
	"sync"
	"testing"
)

func TestEventsDispatchByType(t *testing.T) {
	events := newEvents()

	var progress, success []Event
	events.on(EventProgress, func(e Event) { progress = append(progress, e) })
	events.on(EventSuccess, func(e Event) { success = append(success, e) })

	events.emit(Event{Type: EventProgress, Percent: 43})
	events.emit(Event{Type: EventProgress, Percent: 85})
	events.emit(Event{Type: EventSuccess})
	// No handler registered for this one
	events.emit(Event{Type: EventAttempt})

	if len(progress) != 2 {
		t.Fatalf("Expected 2 progress events, got %d", len(progress))
	}
	if progress[0].Percent != 43 || progress[1].Percent != 85 {
		t.Errorf("Expected percents 43 and 85, got %d and %d", progress[0].Percent, progress[1].Percent)
	}
	if len(success) != 1 {
		t.Errorf("Expected 1 success event, got %d", len(success))
	}
}

func TestEventsMultipleHandlers(t *testing.T) {
	events := newEvents()

	var order []int
	events.on(EventError, func(e Event) { order = append(order, 1) })
	events.on(EventError, func(e Event) { order = append(order, 2) })

	events.emit(Event{Type: EventError})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("Expected handlers to run in registration order, got %v", order)
	}
}

func TestEventsRegisterDuringDispatch(t *testing.T) {
	events := newEvents()

	called := false
	events.on(EventProgress, func(e Event) {
		// Registering from a handler must not deadlock
		events.on(EventSuccess, func(e Event) { called = true })
	})

	events.emit(Event{Type: EventProgress})
	events.emit(Event{Type: EventSuccess})

	if !called {
		t.Error("Expected the handler registered during dispatch to run")
	}
}

func TestEventsConcurrentRegistration(t *testing.T) {
	events := newEvents()

	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events.on(EventProgress, func(e Event) {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	events.emit(Event{Type: EventProgress})

	if count != 10 {
		t.Errorf("Expected all 10 handlers to run, got %d", count)
	}
}
