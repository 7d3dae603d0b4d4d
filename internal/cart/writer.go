package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gomarketplace/cart-engine/internal/metrics"
	"github.com/gomarketplace/cart-engine/internal/model"
)

// ErrClosed is returned by Flush when the store closed before the
// awaited snapshots were written.
var ErrClosed = errors.New("cart: store closed before flush completed")

// writer persists cart snapshots one at a time. Only the newest
// unwritten snapshot is kept: a snapshot submitted while a write is in
// flight replaces any snapshot still waiting behind it.
type writer struct {
	ctx    context.Context
	p      Persister
	logger *slog.Logger

	mu         sync.Mutex
	pending    model.Cart
	hasPending bool
	paused     bool
	closing    bool
	submitted  uint64        // sequence of the newest submitted snapshot
	written    uint64        // sequence of the newest finished write
	progress   chan struct{} // closed and replaced whenever written advances

	wake chan struct{}
	done chan struct{}
}

// newWriter returns a paused writer; resume starts the writes.
func newWriter(ctx context.Context, p Persister, logger *slog.Logger) *writer {
	return &writer{
		ctx:      ctx,
		p:        p,
		logger:   logger,
		paused:   true,
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (w *writer) submit(cart model.Cart) {
	w.mu.Lock()
	if w.hasPending {
		metrics.CoalescedWrites.Inc()
	}
	w.pending = cart
	w.hasPending = true
	w.submitted++
	w.mu.Unlock()
	w.signal()
}

func (w *writer) resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	w.signal()
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	defer close(w.done)
	for {
		cart, seq, ok := w.next()
		if !ok {
			return
		}
		w.write(cart)
		w.finish(seq)
	}
}

// next blocks until there is a snapshot to write. It reports false once
// the writer is closing and nothing writable is left.
func (w *writer) next() (model.Cart, uint64, bool) {
	for {
		w.mu.Lock()
		if !w.paused && w.hasPending {
			cart, seq := w.pending, w.submitted
			w.pending, w.hasPending = nil, false
			w.mu.Unlock()
			return cart, seq, true
		}
		if w.closing {
			w.mu.Unlock()
			return nil, 0, false
		}
		w.mu.Unlock()
		<-w.wake
	}
}

func (w *writer) write(cart model.Cart) {
	start := time.Now()
	err := w.p.Save(w.ctx, cart)
	metrics.StorageWriteLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.StorageWrites.WithLabelValues("error").Inc()
		w.logger.Error("cart write failed",
			"items", len(cart),
			"err", err,
		)
		return
	}
	metrics.StorageWrites.WithLabelValues("ok").Inc()
}

func (w *writer) finish(seq uint64) {
	w.mu.Lock()
	w.written = seq
	close(w.progress)
	w.progress = make(chan struct{})
	w.mu.Unlock()
}

func (w *writer) flush(ctx context.Context) error {
	w.mu.Lock()
	target := w.submitted
	w.mu.Unlock()

	for {
		w.mu.Lock()
		if w.written >= target {
			w.mu.Unlock()
			return nil
		}
		progress := w.progress
		w.mu.Unlock()

		select {
		case <-progress:
		case <-w.done:
			w.mu.Lock()
			caught := w.written >= target
			w.mu.Unlock()
			if !caught {
				return ErrClosed
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// close drains writable snapshots and stops the goroutine.
func (w *writer) close(ctx context.Context) error {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()
	w.signal()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
