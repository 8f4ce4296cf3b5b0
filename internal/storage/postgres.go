// Package storage implements the pipeline's PostgreSQL persistence layer
// against the schema in schema.go: the chain-state checkpoint, the
// latest committed commitment-tree/witness snapshot, the notes index,
// the canonical shielded-tx log, and the block-index filter. A Store
// wraps a *pgxpool.Pool behind a Config/DefaultConfig pair, using
// parameterized queries and transactional multi-row writes.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/masp-indexer/core/internal/applier"
	"github.com/masp-indexer/core/pkg/sapling"
	"github.com/masp-indexer/core/pkg/types"
)

// Common errors.
var (
	ErrNotFound     = errors.New("storage: not found")
	ErrDBConnection = errors.New("storage: database connection error")
)

// Store implements persistent storage using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Config holds database configuration.
type Config struct {
	DatabaseURL string
	MaxConns    int32
}

// DefaultConfig returns default database configuration.
func DefaultConfig() *Config {
	return &Config{MaxConns: 20}
}

// New dials the database pool named by cfg.DatabaseURL.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Commit persists one block's applier outcome in a single transaction:
// dependent tables insert do-nothing-on-conflict, chain_state upserts
// unconditionally.
func (s *Store) Commit(ctx context.Context, req applier.CommitRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrDBConnection, err)
	}
	defer tx.Rollback(ctx)

	if req.TreeDirty {
		if _, err := tx.Exec(ctx,
			`INSERT INTO commitment_tree (tree, block_height) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			req.TreeBytes, uint64(req.Height),
		); err != nil {
			return fmt.Errorf("storage: insert commitment_tree: %w", err)
		}
	}

	if req.WitnessDirty {
		batch := &pgx.Batch{}
		for position, bytes := range req.Witnesses {
			batch.Queue(
				`INSERT INTO witness (witness_bytes, witness_idx, block_height) VALUES ($1, $2, $3)
				 ON CONFLICT (witness_idx, block_height) DO NOTHING`,
				bytes, uint64(position), uint64(req.Height),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("storage: insert witness rows: %w", err)
		}
	}

	if len(req.NotesIndex) > 0 {
		batch := &pgx.Batch{}
		for _, rec := range req.NotesIndex {
			batch.Queue(
				`INSERT INTO notes_index (note_position, block_index, block_height, masp_tx_index, is_fee_payment)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (note_position) DO NOTHING`,
				uint64(rec.NotePosition), uint32(rec.BlockIndex), uint64(rec.BlockHeight), uint32(rec.MaspTxIndex), rec.IsFeePayment,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("storage: insert notes_index rows: %w", err)
		}
	}

	if len(req.ShieldedTx) > 0 {
		batch := &pgx.Batch{}
		for _, itx := range req.ShieldedTx {
			batch.Queue(
				`INSERT INTO tx (block_index, tx_bytes, block_height, masp_tx_index, is_fee_payment)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (block_height, block_index, masp_tx_index) DO NOTHING`,
				uint32(itx.Index.BlockIndex), itx.Tx.Serialized, uint64(itx.Index.Height), uint32(itx.Index.MaspTxIndex), itx.Index.Kind.IsFeePayment(),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("storage: insert tx rows: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO chain_state (id, block_height) VALUES (0, $1)
		 ON CONFLICT (id) DO UPDATE SET block_height = $1`,
		uint64(req.Height),
	); err != nil {
		return fmt.Errorf("storage: upsert chain_state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// LastCommittedHeight reads chain_state's singleton row, reporting
// ok=false if no block has ever been committed.
func (s *Store) LastCommittedHeight(ctx context.Context) (types.Height, bool, error) {
	var h uint64
	err := s.pool.QueryRow(ctx, `SELECT block_height FROM chain_state WHERE id = 0`).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: read chain_state: %w", err)
	}
	return types.Height(h), true, nil
}

// LoadTree reads the latest-by-height committed commitment tree, or nil
// if none has ever been committed.
func (s *Store) LoadTree(ctx context.Context, hasher sapling.Hasher) (*sapling.CommitmentTree, error) {
	var b []byte
	err := s.pool.QueryRow(ctx,
		`SELECT tree FROM commitment_tree
		 WHERE block_height = (SELECT max(block_height) FROM commitment_tree)`,
	).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read commitment_tree: %w", err)
	}
	t, err := sapling.DeserializeTree(hasher, b)
	if err != nil {
		return nil, fmt.Errorf("storage: deserialize commitment_tree: %w", err)
	}
	return t, nil
}

// LoadWitnesses reads every witness row belonging to the latest-by-height
// snapshot.
func (s *Store) LoadWitnesses(ctx context.Context, hasher sapling.Hasher) (map[types.NotePosition]*sapling.Witness, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT witness_idx, witness_bytes FROM witness
		 WHERE block_height = (SELECT max(block_height) FROM witness)`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: read witness rows: %w", err)
	}
	defer rows.Close()

	out := make(map[types.NotePosition]*sapling.Witness)
	for rows.Next() {
		var idx uint64
		var b []byte
		if err := rows.Scan(&idx, &b); err != nil {
			return nil, fmt.Errorf("storage: scan witness row: %w", err)
		}
		w, err := sapling.DeserializeWitness(hasher, b)
		if err != nil {
			return nil, fmt.Errorf("storage: deserialize witness %d: %w", idx, err)
		}
		out[types.NotePosition(idx)] = w
	}
	return out, rows.Err()
}

// DistinctShieldedHeights returns the distinct block heights with at
// least one shielded sub-transaction, as of a single read-only
// snapshot.
func (s *Store) DistinctShieldedHeights(ctx context.Context) ([]types.Height, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("storage: begin read-only tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT DISTINCT block_height FROM tx`)
	if err != nil {
		return nil, fmt.Errorf("storage: read distinct tx heights: %w", err)
	}
	defer rows.Close()

	var heights []types.Height
	for rows.Next() {
		var h uint64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("storage: scan tx height: %w", err)
		}
		heights = append(heights, types.Height(h))
	}
	return heights, rows.Err()
}

// UpsertBlockIndex writes the singleton block_index filter row.
func (s *Store) UpsertBlockIndex(ctx context.Context, serialized []byte, height types.Height) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO block_index (id, serialized, block_height) VALUES (0, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET serialized = $1, block_height = $2`,
		serialized, uint64(height),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert block_index: %w", err)
	}
	return nil
}
