// Package follower produces the monotonically increasing sequence of
// heights the pipeline should process, blocking on the chain's own
// progress with jittered backoff until it catches up.
package follower

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/masp-indexer/core/internal/chainclient"
	"github.com/masp-indexer/core/internal/errs"
	"github.com/masp-indexer/core/pkg/types"
)

// Follower yields heights on Heights, starting just after the last
// committed height (or StartingHeight if the chain has no committed
// state at all).
type Follower struct {
	chain          chainclient.Client
	log            *zap.SugaredLogger
	interval       time.Duration
	startingHeight types.Height
	exit           *atomic.Bool
}

// New creates a Follower. exit is a process-wide flag the caller sets on
// shutdown; the follower checks it at every poll suspension point.
func New(chain chainclient.Client, log *zap.SugaredLogger, interval time.Duration, startingHeight types.Height, exit *atomic.Bool) *Follower {
	return &Follower{chain: chain, log: log, interval: interval, startingHeight: startingHeight, exit: exit}
}

// Run sends successive heights on out until the context is cancelled or
// the exit flag is set, then closes out. A height overflow is fatal and
// returned.
func (f *Follower) Run(ctx context.Context, out chan<- types.Height) error {
	defer close(out)

	next, err := f.firstHeight(ctx)
	if err != nil {
		return err
	}

	for {
		if f.exit.Load() {
			return errs.ErrShutdown
		}

		if err := f.waitForHeight(ctx, next); err != nil {
			return err
		}

		select {
		case out <- next:
		case <-ctx.Done():
			return errs.Wrap(errs.KindShutdown, ctx.Err())
		}

		next, err = next.Next()
		if err != nil {
			return err // ErrHeightOverflow, fatal
		}
	}
}

func (f *Follower) firstHeight(ctx context.Context) (types.Height, error) {
	committed, ok, err := f.chain.LastCommittedHeight(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		if f.startingHeight > 0 {
			return f.startingHeight, nil
		}
		return 1, nil
	}
	return committed.Next()
}

// waitForHeight blocks until the chain has committed at least h, polling
// with jittered exponential backoff capped at f.interval.
func (f *Follower) waitForHeight(ctx context.Context, h types.Height) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = f.interval
	b.MaxElapsedTime = 0 // retry indefinitely; the chain will eventually catch up

	for {
		if f.exit.Load() {
			return errs.ErrShutdown
		}

		committed, ok, err := f.chain.LastCommittedHeight(ctx)
		if err != nil && errs.KindOf(err) != errs.KindTransport {
			return err
		}
		if err == nil && ok && committed >= h {
			return nil
		}
		if err != nil {
			f.log.Warnw("follower: transient error polling chain height", "reason", err)
		}

		wait := b.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errs.Wrap(errs.KindShutdown, ctx.Err())
		}
	}
}
