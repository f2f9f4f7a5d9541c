package engine

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSettleDelay is how long a document-change pass waits before it
// reads anything, so a document still being written is not read half done.
const DefaultSettleDelay = 2 * time.Second

// Engine runs reconciliation passes one at a time from a trigger queue.
//
// Thread-safety model:
//   - Enqueue(), Stop(), QueueLen(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	reconciler  *Reconciler
	queue       *triggerQueue
	settleDelay time.Duration
	after       func(time.Duration) <-chan time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSettleDelay sets the wait applied to document-change triggers.
// Zero disables it.
func WithSettleDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.settleDelay = d
	}
}

// New creates an Engine around r.
func New(r *Reconciler, opts ...EngineOption) *Engine {
	e := &Engine{
		reconciler:  r,
		queue:       newTriggerQueue(),
		settleDelay: DefaultSettleDelay,
		after:       time.After,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconciler returns the reconciler the engine drives.
func (e *Engine) Reconciler() *Reconciler {
	return e.reconciler
}

// Enqueue requests a pass. Returns false once the engine is stopped.
func (e *Engine) Enqueue(t Trigger) bool {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	return e.queue.Enqueue(t)
}

// QueueLen returns the number of triggers waiting.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run consumes triggers until ctx is cancelled or Stop is called.
//
// Pass failures are logged by the reconciler and the loop carries on: the
// next trigger starts an independent pass. Triggers still queued when Stop
// is called are run before Run returns nil; on ctx cancellation they are
// dropped and Run returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "settle_delay", e.settleDelay)

	for {
		if t, ok := e.queue.TryDequeue(); ok {
			if err := e.handle(ctx, t); err != nil && ctx.Err() != nil {
				e.queue.Close()
				slog.Info("engine stopping: context cancelled")
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the intake queue; Run returns once it has drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) handle(ctx context.Context, t Trigger) error {
	if t.Source == TriggerDocumentChange && e.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.after(e.settleDelay):
		}
	}

	slog.Debug("pass triggered",
		"trigger", t.Source.String(),
		"path", t.Path,
		"queued_for", time.Since(t.At).Round(time.Millisecond),
	)
	_, err := e.reconciler.Pass(ctx, t)
	return err
}
