// Package chainclient defines the capability surface the indexing
// pipeline consumes from the chain: fetching a decoded block, the
// chain's own notion of its highest committed height, and
// anchor-existence checks against the remote commitment tree. The wire
// protocol itself is an external collaborator — concrete adapters live
// in subpackages (chainclient/cometbft).
package chainclient

import (
	"context"

	"github.com/masp-indexer/core/pkg/sapling"
	"github.com/masp-indexer/core/pkg/types"
)

// Client is the chain client contract. All three methods may fail with
// an errs.KindTransport error (retryable) or an errs.KindInvariant /
// plain error for a malformed response (fatal).
type Client interface {
	// FetchBlock returns height h's shielded sub-transactions, already
	// decoded and sorted into MaspIndexedTx order.
	FetchBlock(ctx context.Context, h types.Height) (*types.Block, error)

	// LastCommittedHeight returns the chain's highest committed height,
	// or ok=false if the chain has not committed any block yet.
	LastCommittedHeight(ctx context.Context) (h types.Height, ok bool, err error)

	// AnchorExists reports whether root has ever been a committed anchor
	// of the on-chain commitment tree.
	AnchorExists(ctx context.Context, root sapling.Node) (bool, error)
}
