package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// emitTimeout bounds a single background emit.
const emitTimeout = 5 * time.Second

var background inflight

// EmitAsync hands event to emitter on a goroutine and returns at once. The emit keeps the values of
// ctx (trace span, request id) but not its cancellation, and is bounded by emitTimeout. Failures are
// logged with the event identity. A nil emitter or event is a no-op.
func EmitAsync(ctx context.Context, emitter EventEmitter, event *Event) {
	if emitter == nil || event == nil {
		return
	}
	background.add()
	go func() {
		defer background.done()
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Error().Err(err).
				Str("event_type", event.EventType).
				Str("event_id", event.ID).
				Str("account_id", event.AccountID).
				Msg("telemetry: async emit failed")
		}
	}()
}

// Drain blocks until every emit started by EmitAsync has returned, or ctx is done.
// Call it after the listeners stop and before the providers shut down.
func Drain(ctx context.Context) error {
	return background.wait(ctx)
}

// inflight counts running emits. idle is closed when the count drops back to zero.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
