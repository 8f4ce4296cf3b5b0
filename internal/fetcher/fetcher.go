// Package fetcher concurrently fetches blocks ahead of the Applier,
// bounded by a permit pool, and hands them onward in completion order.
// It also provides Reorder, the buffer the Applier uses to put them back
// into strict height order: it holds blocks that arrived out of order,
// awaiting the next expected height.
package fetcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/masp-indexer/core/internal/chainclient"
	"github.com/masp-indexer/core/internal/errs"
	"github.com/masp-indexer/core/pkg/types"
)

const defaultMaxConcurrentFetches = 100

// Fetcher spawns one goroutine per height received from in, bounded by a
// weighted semaphore, and emits fetched blocks (in any order) on out.
type Fetcher struct {
	chain         chainclient.Client
	sem           *semaphore.Weighted
	retryInterval time.Duration
	exit          *atomic.Bool
}

// New creates a Fetcher. maxConcurrent of 0 defaults to 100.
func New(chain chainclient.Client, maxConcurrent int, retryInterval time.Duration, exit *atomic.Bool) *Fetcher {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentFetches
	}
	return &Fetcher{
		chain:         chain,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		retryInterval: retryInterval,
		exit:          exit,
	}
}

// Fetched pairs a requested height with its outcome, so the reorder
// buffer can place it even though fetches race.
type Fetched struct {
	Height types.Height
	Block  *types.Block
	Err    error
}

// Run consumes heights from in and emits Fetched results on out, one
// goroutine per height, until in is closed and every in-flight fetch has
// completed (then out is closed too).
func (f *Fetcher) Run(ctx context.Context, in <-chan types.Height, out chan<- Fetched) error {
	defer close(out)

	inflight := 0
	done := make(chan Fetched)

	for in != nil || inflight > 0 {
		select {
		case h, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			if err := f.sem.Acquire(ctx, 1); err != nil {
				return errs.Wrap(errs.KindShutdown, err)
			}
			inflight++
			go func(h types.Height) {
				defer f.sem.Release(1)
				block, err := f.fetchWithRetry(ctx, h)
				select {
				case done <- Fetched{Height: h, Block: block, Err: err}:
				case <-ctx.Done():
				}
			}(h)

		case result := <-done:
			inflight--
			select {
			case out <- result:
			case <-ctx.Done():
				return errs.Wrap(errs.KindShutdown, ctx.Err())
			}

		case <-ctx.Done():
			return errs.Wrap(errs.KindShutdown, ctx.Err())
		}
	}
	return nil
}

// fetchWithRetry retries transport failures with jittered backoff until
// the context is cancelled or the exit flag is set; a fatal (non-
// transport) error is returned immediately.
func (f *Fetcher) fetchWithRetry(ctx context.Context, h types.Height) (*types.Block, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = f.retryInterval
	b.MaxElapsedTime = 0

	for {
		if f.exit.Load() {
			return nil, errs.ErrShutdown
		}

		block, err := f.chain.FetchBlock(ctx, h)
		if err == nil {
			return block, nil
		}
		if errs.KindOf(err) != errs.KindTransport {
			return nil, fmt.Errorf("fetcher: fetch height %d: %w", h, err)
		}

		wait := b.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.Wrap(errs.KindShutdown, ctx.Err())
		}
	}
}

// Reorder buffers out-of-order Fetched results keyed by height and
// drains the strictly increasing prefix starting at next.
type Reorder struct {
	next    types.Height
	pending map[types.Height]Fetched
}

// NewReorder creates a Reorder expecting startHeight next.
func NewReorder(startHeight types.Height) *Reorder {
	return &Reorder{next: startHeight, pending: make(map[types.Height]Fetched)}
}

// Push records a fetched result and returns, in height order, every
// result that is now ready to be applied (possibly more than one, if
// this push fills a gap).
func (r *Reorder) Push(f Fetched) []Fetched {
	if f.Height != r.next {
		r.pending[f.Height] = f
		return nil
	}

	ready := []Fetched{f}
	r.next++
	for {
		next, ok := r.pending[r.next]
		if !ok {
			break
		}
		delete(r.pending, r.next)
		ready = append(ready, next)
		r.next++
	}
	return ready
}

// Pending reports whether any height is currently being held back by a
// gap, and if so the lowest such buffered height's result — used by the
// Applier to make one last finalize attempt on shutdown for a height
// that was being held back.
func (r *Reorder) Pending() (Fetched, bool) {
	lowest, ok := types.Height(0), false
	for h := range r.pending {
		if !ok || h < lowest {
			lowest, ok = h, true
		}
	}
	if !ok {
		return Fetched{}, false
	}
	return r.pending[lowest], true
}
