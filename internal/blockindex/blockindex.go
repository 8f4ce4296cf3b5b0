// Package blockindex builds a periodic binary fuse xor filter over
// shielded block heights, giving external callers a cheap probabilistic
// "did this height ever carry a shielded transaction" membership test
// without querying the tx table directly.
package blockindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/FastFilter/xorfilter"
	"go.uber.org/zap"

	"github.com/masp-indexer/core/internal/metrics"
	"github.com/masp-indexer/core/pkg/types"
)

// DefaultInterval is the builder's default tick interval.
const DefaultInterval = 30 * time.Minute

// Store is the read/write surface the builder needs from storage.
type Store interface {
	LastCommittedHeight(ctx context.Context) (types.Height, bool, error)
	DistinctShieldedHeights(ctx context.Context) ([]types.Height, error)
	UpsertBlockIndex(ctx context.Context, serialized []byte, height types.Height) error
}

// Builder runs the block-index build loop on its own ticker.
type Builder struct {
	store    Store
	log      *zap.SugaredLogger
	interval time.Duration
	building sync.Mutex // try-locked: at-most-one concurrent build
	metrics  *metrics.Metrics
}

// New creates a Builder. interval of 0 uses DefaultInterval.
func New(store Store, log *zap.SugaredLogger, interval time.Duration) *Builder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Builder{store: store, log: log, interval: interval}
}

// SetMetrics attaches the pipeline's metrics to the Builder. Optional;
// a nil or never-set metrics leaves instrumentation off.
func (b *Builder) SetMetrics(m *metrics.Metrics) { b.metrics = m }

// Run ticks every b.interval until ctx is cancelled, attempting one
// build per tick. A failed build is logged and retried on the next
// tick rather than treated as fatal.
func (b *Builder) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.buildOnce(ctx); err != nil {
				b.log.Warnw("blockindex: build failed, retrying next tick", "reason", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Builder) countBuild(outcome string) {
	if b.metrics != nil {
		b.metrics.BlockIndexBuilds.WithLabelValues(outcome).Inc()
	}
}

// buildOnce attempts a single build, skipping entirely if another build
// is already in flight (at-most-one-concurrent-build).
func (b *Builder) buildOnce(ctx context.Context) error {
	if !b.building.TryLock() {
		b.log.Debugw("blockindex: build already in progress, skipping tick")
		return nil
	}
	defer b.building.Unlock()

	if err := b.doBuild(ctx); err != nil {
		b.countBuild("failure")
		return err
	}
	b.countBuild("success")
	return nil
}

func (b *Builder) doBuild(ctx context.Context) error {
	height, _, err := b.store.LastCommittedHeight(ctx)
	if err != nil {
		return fmt.Errorf("blockindex: read last committed height: %w", err)
	}

	heights, err := b.store.DistinctShieldedHeights(ctx)
	if err != nil {
		return fmt.Errorf("blockindex: read distinct shielded heights: %w", err)
	}

	filter, err := Build(heights)
	if err != nil {
		return fmt.Errorf("blockindex: construct filter: %w", err)
	}

	serialized := Serialize(filter)
	if err := b.store.UpsertBlockIndex(ctx, serialized, height); err != nil {
		return fmt.Errorf("blockindex: upsert filter: %w", err)
	}
	return nil
}

// Build converts a set of block heights into a binary fuse xor16 filter
// (2^-16 false-positive rate). Duplicate heights are deduped first:
// PopulateBinaryFuse16 rejects a key set containing duplicates, and
// DistinctShieldedHeights only guarantees distinctness against its own
// query, not against whatever callers pass directly to Build.
func Build(heights []types.Height) (*xorfilter.BinaryFuse16, error) {
	seen := make(map[uint64]struct{}, len(heights))
	keys := make([]uint64, 0, len(heights))
	for _, h := range heights {
		k := uint64(h)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return xorfilter.PopulateBinaryFuse16(keys)
}

// Contains reports whether h might have been included when filter was
// built; false positives occur with probability at most 2^-16, false
// negatives are not possible.
func Contains(filter *xorfilter.BinaryFuse16, h types.Height) bool {
	return filter.Contains(uint64(h))
}

// Serialize encodes a filter to its opaque persisted byte form: the
// scalar header fields, then the uint16 fingerprints.
func Serialize(filter *xorfilter.BinaryFuse16) []byte {
	buf := make([]byte, 8+4+4+4+4+2*len(filter.Fingerprints))
	binary.BigEndian.PutUint64(buf[0:8], filter.Seed)
	binary.BigEndian.PutUint32(buf[8:12], filter.SegmentLength)
	binary.BigEndian.PutUint32(buf[12:16], filter.SegmentLengthMask)
	binary.BigEndian.PutUint32(buf[16:20], filter.SegmentCount)
	binary.BigEndian.PutUint32(buf[20:24], filter.SegmentCountLength)
	for i, f := range filter.Fingerprints {
		binary.BigEndian.PutUint16(buf[24+2*i:26+2*i], f)
	}
	return buf
}

// Deserialize reconstructs a filter from Serialize's output.
func Deserialize(b []byte) (*xorfilter.BinaryFuse16, error) {
	const hdrSize = 24
	if len(b) < hdrSize || (len(b)-hdrSize)%2 != 0 {
		return nil, fmt.Errorf("blockindex: truncated filter encoding (%d bytes)", len(b))
	}
	filter := &xorfilter.BinaryFuse16{
		Seed:               binary.BigEndian.Uint64(b[0:8]),
		SegmentLength:      binary.BigEndian.Uint32(b[8:12]),
		SegmentLengthMask:  binary.BigEndian.Uint32(b[12:16]),
		SegmentCount:       binary.BigEndian.Uint32(b[16:20]),
		SegmentCountLength: binary.BigEndian.Uint32(b[20:24]),
	}
	n := (len(b) - hdrSize) / 2
	filter.Fingerprints = make([]uint16, n)
	for i := 0; i < n; i++ {
		filter.Fingerprints[i] = binary.BigEndian.Uint16(b[hdrSize+2*i : hdrSize+2*i+2])
	}
	return filter, nil
}
