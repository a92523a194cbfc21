package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	ctxErrs []error
	values  []any
	emitErr error
	done    chan struct{}
	release chan struct{}
}

type ctxKey struct{}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.values = append(m.values, ctx.Value(ctxKey{}))
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

func waitN(t *testing.T, done <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d emits", i, n)
		}
	}
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync(context.Background(), nil, &Event{EventType: "test"})

	emitter := &mockEventEmitter{}
	EmitAsync(context.Background(), emitter, nil)
	time.Sleep(10 * time.Millisecond)
	if n := len(emitter.getEvents()); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestEmitAsync_SurvivesRequestCancellation(t *testing.T) {
	emitter := &mockEventEmitter{done: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-7"))
	cancel()

	EmitAsync(ctx, emitter, &Event{AccountID: "acc-1", EventType: "moderation.suspend"})
	waitN(t, emitter.done, 1)

	events := emitter.getEvents()
	if len(events) != 1 || events[0].AccountID != "acc-1" {
		t.Errorf("events = %+v", events)
	}
	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if emitter.ctxErrs[0] != nil {
		t.Errorf("emit context already done: %v", emitter.ctxErrs[0])
	}
	if emitter.values[0] != "req-7" {
		t.Errorf("emit context lost request values: %v", emitter.values[0])
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: context.DeadlineExceeded, done: make(chan struct{}, 1)}
	EmitAsync(context.Background(), emitter, &Event{EventType: "test"})
	waitN(t, emitter.done, 1)
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := &mockEventEmitter{done: make(chan struct{}, 10)}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(context.Background(), emitter, &Event{EventType: "test"})
		}()
	}
	wg.Wait()
	waitN(t, emitter.done, 10)
	if n := len(emitter.getEvents()); n != 10 {
		t.Errorf("expected 10 events, got %d", n)
	}
}

func TestDrain_WaitsForInflightEmits(t *testing.T) {
	emitter := &mockEventEmitter{release: make(chan struct{})}
	EmitAsync(context.Background(), emitter, &Event{EventType: "moderation.softban"})

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := Drain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain with a blocked emit = %v, want deadline exceeded", err)
	}

	close(emitter.release)
	long, cancelLong := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelLong()
	if err := Drain(long); err != nil {
		t.Fatalf("Drain after release: %v", err)
	}
	if n := len(emitter.getEvents()); n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestDrain_NothingInflight(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := Drain(ctx); err != nil {
		t.Errorf("Drain with nothing in flight = %v", err)
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a := &mockEventEmitter{}
	b := &mockEventEmitter{emitErr: errors.New("kafka down")}
	m := Multi(a, nil, b)

	err := m.Emit(context.Background(), &Event{EventType: "moderation.purge"})
	if err == nil || err.Error() != "kafka down" {
		t.Errorf("err = %v, want kafka down", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Error("both emitters should receive the event")
	}
}
