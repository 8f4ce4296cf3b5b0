// Package applier implements the Applier: the single serial task that
// owns the commitment tree, the witness map, and the notes index, and
// drives each in-order block through a stage/validate/commit state
// machine.
package applier

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/masp-indexer/core/internal/chainclient"
	"github.com/masp-indexer/core/internal/errs"
	"github.com/masp-indexer/core/internal/fetcher"
	"github.com/masp-indexer/core/internal/metrics"
	"github.com/masp-indexer/core/internal/notesindex"
	"github.com/masp-indexer/core/internal/tree"
	"github.com/masp-indexer/core/internal/witness"
	"github.com/masp-indexer/core/pkg/sapling"
	"github.com/masp-indexer/core/pkg/types"
)

// State is one of the Applier's state machine states.
type State int

const (
	Idle State = iota
	Staging
	Validating
	Committing
	Failed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Staging:
		return "staging"
	case Validating:
		return "validating"
	case Committing:
		return "committing"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// maxAnchorMismatches bounds how many times the Applier retries a block
// whose staged root the chain doesn't recognize as an anchor before
// treating the mismatch as deterministic and aborting.
const maxAnchorMismatches = 3

// CommitRequest is everything a Store needs to persist one block's
// outcome in a single transaction.
type CommitRequest struct {
	Height types.Height

	TreeDirty bool
	TreeBytes []byte

	WitnessDirty bool
	Witnesses    map[types.NotePosition][]byte

	NotesIndex []notesindex.Record
	ShieldedTx []types.IndexedShieldedTx
}

// Store is the storage contract the Applier's commit step consumes.
// Concrete implementations (internal/storage) are responsible for
// do-nothing-on-conflict inserts on dependent tables and an
// unconditional upsert on chain_state.
type Store interface {
	Commit(ctx context.Context, req CommitRequest) error
}

// Config holds Applier tuning knobs.
type Config struct {
	RetryInterval time.Duration
	RootsToCheck  int // number_of_witness_map_roots_to_check; 0 disables validation
}

// DefaultConfig returns the Applier's default configuration.
func DefaultConfig() *Config {
	return &Config{
		RetryInterval: 5 * time.Second,
		RootsToCheck:  8,
	}
}

// Applier is the pipeline's single serial staging/validation/commit
// engine.
type Applier struct {
	chain  chainclient.Client
	store  Store
	hasher sapling.Hasher
	depth  int

	tree      *tree.Tree
	witnesses *witness.Map
	notes     *notesindex.Index
	staged    []types.IndexedShieldedTx

	cfg     *Config
	log     *zap.SugaredLogger
	exit    *atomic.Bool
	state   State
	metrics *metrics.Metrics
}

// SetMetrics attaches the pipeline's metrics to the Applier. Optional;
// a nil or never-set metrics leaves instrumentation off.
func (a *Applier) SetMetrics(m *metrics.Metrics) { a.metrics = m }

// New creates an Applier over an already-loaded tree and witness map
// (either fresh or reconstructed from storage at startup).
func New(chain chainclient.Client, store Store, hasher sapling.Hasher, depth int, t *tree.Tree, w *witness.Map, cfg *Config, log *zap.SugaredLogger, exit *atomic.Bool) *Applier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if depth == 0 {
		depth = sapling.Depth
	}
	return &Applier{
		chain:     chain,
		store:     store,
		hasher:    hasher,
		depth:     depth,
		tree:      t,
		witnesses: w,
		notes:     notesindex.New(),
		cfg:       cfg,
		log:       log,
		exit:      exit,
		state:     Idle,
	}
}

// State reports the Applier's current state, for introspection and
// tests.
func (a *Applier) State() State { return a.state }

func (a *Applier) setState(s State) { a.state = s }

// Run consumes fetched blocks (possibly out of order) from in, reorders
// them to the strictly increasing height sequence starting at
// startHeight, and applies each in turn until in is closed or the
// context is cancelled. On shutdown it performs one finalize attempt for
// any block that was being held back by a gap.
func (a *Applier) Run(ctx context.Context, in <-chan fetcher.Fetched, startHeight types.Height) error {
	reorder := fetcher.NewReorder(startHeight)

	for {
		select {
		case f, ok := <-in:
			if !ok {
				return a.finalize(ctx, reorder)
			}
			for _, ready := range reorder.Push(f) {
				if err := a.applyFetched(ctx, ready); err != nil {
					return err
				}
			}

		case <-ctx.Done():
			return a.finalize(ctx, reorder)
		}

		if a.exit.Load() {
			return a.finalize(ctx, reorder)
		}
	}
}

// finalize runs on orderly shutdown: if a block was being held back by
// a gap, apply it anyway rather than lose a block already fully
// fetched.
func (a *Applier) finalize(ctx context.Context, reorder *fetcher.Reorder) error {
	if pending, ok := reorder.Pending(); ok {
		if err := a.applyFetched(context.Background(), pending); err != nil {
			a.log.Warnw("applier: finalize attempt failed", "reason", err)
		}
	}
	return errs.ErrShutdown
}

func (a *Applier) applyFetched(ctx context.Context, f fetcher.Fetched) error {
	if f.Err != nil {
		return fmt.Errorf("applier: height %d: %w", f.Height, f.Err)
	}
	return a.ApplyBlock(ctx, f.Block)
}

// ApplyBlock drives block through the full state machine, retrying
// retryable failures with jittered backoff until it commits or a fatal
// error aborts the pipeline.
func (a *Applier) ApplyBlock(ctx context.Context, block *types.Block) error {
	anchorMismatches := 0

	for {
		if a.exit.Load() {
			return errs.ErrShutdown
		}

		err := a.attempt(ctx, block)
		if err == nil {
			a.setState(Idle)
			return nil
		}

		if errs.KindOf(err).Retryable() {
			a.setState(Failed)
			a.log.Warnw("applier: retryable failure, retrying", "height", block.Height, "reason", err)
			a.countRetry(errs.KindOf(err).String())
			if waitErr := a.sleepRetry(ctx); waitErr != nil {
				return waitErr
			}
			continue
		}

		if isAnchorMismatch(err) && anchorMismatches < maxAnchorMismatches {
			anchorMismatches++
			a.setState(Failed)
			a.log.Warnw("applier: anchor mismatch, retrying", "height", block.Height, "attempt", anchorMismatches)
			a.countRetry("anchor_mismatch")
			if waitErr := a.sleepRetry(ctx); waitErr != nil {
				return waitErr
			}
			continue
		}

		a.setState(Aborted)
		return fmt.Errorf("applier: fatal error at height %d: %w", block.Height, err)
	}
}

func (a *Applier) countRetry(kind string) {
	if a.metrics != nil {
		a.metrics.RetryCount.WithLabelValues("applier", kind).Inc()
	}
}

func isAnchorMismatch(err error) bool {
	for err != nil {
		if err == errs.ErrAnchorMismatch {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (a *Applier) sleepRetry(ctx context.Context) error {
	jitter := time.Duration(rand.Int63n(int64(a.cfg.RetryInterval) / 2))
	timer := time.NewTimer(a.cfg.RetryInterval + jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.KindShutdown, ctx.Err())
	}
}

// attempt runs one stage/validate/commit cycle over block exactly once.
func (a *Applier) attempt(ctx context.Context, block *types.Block) error {
	a.resetStaging()
	a.setState(Staging)

	if err := a.stage(ctx, block); err != nil {
		return err
	}

	a.setState(Validating)
	if err := a.validate(ctx); err != nil {
		return err
	}

	a.setState(Committing)
	return a.commit(ctx, block.Height)
}

// resetStaging is step 1: discard any partial work from a previous
// failed attempt.
func (a *Applier) resetStaging() {
	a.tree.Rollback()
	a.witnesses.Rollback()
	a.notes.Clear()
	a.staged = a.staged[:0]
}

// stage is step 2: ingest block.Transactions in MaspIndexedTx order.
func (a *Applier) stage(ctx context.Context, block *types.Block) error {
	for _, itx := range block.Transactions {
		p := types.NotePosition(a.tree.Size())
		a.notes.Insert(itx.Index, p)

		for _, output := range itx.Tx.Outputs {
			node := a.hasher.CommitmentFromOutput(output)

			if err := a.witnesses.UpdateAll(ctx, node); err != nil {
				return errs.Wrap(errs.KindInvariant, fmt.Errorf("%w: position %d: %v", errs.ErrWitnessFull, p, err))
			}
			if err := a.tree.Append(node); err != nil {
				return errs.Wrap(errs.KindInvariant, fmt.Errorf("%w: height %d", errs.ErrTreeFull, block.Height))
			}

			w := sapling.NewWitness(a.hasher, a.depth, uint64(p), node, a.tree.Snapshot())
			a.witnesses.Insert(p, w)
			p++
		}

		a.staged = append(a.staged, itx)
	}
	return nil
}

// validate is step 3: skipped entirely when the tree isn't dirty or
// validation is disabled, otherwise checks the staged root against the
// chain's anchor set and a sample of witness roots, concurrently.
func (a *Applier) validate(ctx context.Context) error {
	if !a.tree.Dirty() || a.cfg.RootsToCheck == 0 {
		return nil
	}

	root := a.tree.Root()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ok, err := a.chain.AnchorExists(gctx, root)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Wrap(errs.KindInvariant, errs.ErrAnchorMismatch)
		}
		return nil
	})
	g.Go(func() error {
		for _, r := range a.witnesses.Roots(a.cfg.RootsToCheck) {
			if r != root {
				return errs.Wrap(errs.KindInvariant, errs.ErrInconsistentState)
			}
		}
		return nil
	})
	return g.Wait()
}

// commit is step 4: a single storage transaction that advances
// chain_state and, only for what actually changed, the dependent
// tables.
func (a *Applier) commit(ctx context.Context, height types.Height) error {
	req := CommitRequest{Height: height}

	if a.tree.Dirty() {
		b, err := a.tree.Serialize()
		if err != nil {
			return fmt.Errorf("applier: serialize tree at height %d: %w", height, err)
		}
		req.TreeDirty = true
		req.TreeBytes = b
	}

	if a.witnesses.Dirty() {
		w, err := a.witnesses.Serialize()
		if err != nil {
			return fmt.Errorf("applier: serialize witnesses at height %d: %w", height, err)
		}
		req.WitnessDirty = true
		req.Witnesses = w
	}

	if a.notes.Len() > 0 {
		req.NotesIndex = a.notes.DrainIntoRecords()
	}
	if len(a.staged) > 0 {
		req.ShieldedTx = a.staged
	}

	if err := a.store.Commit(ctx, req); err != nil {
		return errs.Wrap(errs.KindTransport, fmt.Errorf("applier: commit height %d: %w", height, err))
	}

	a.tree.Commit()
	a.witnesses.Commit()

	if a.metrics != nil {
		commitments := 0
		for _, itx := range req.ShieldedTx {
			commitments += len(itx.Tx.Outputs)
		}
		a.metrics.AppliedHeight.Set(float64(height))
		a.metrics.StagedCommitments.Add(float64(commitments))
	}
	return nil
}
