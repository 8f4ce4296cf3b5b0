package storage

// Schema is the logical DDL for the pipeline's six tables. Applied by
// operators/migration tooling, not by this package at runtime; kept
// here as the single source of truth for column names and types the
// queries in postgres.go assume.
const Schema = `
CREATE TABLE IF NOT EXISTS chain_state (
	id           INT PRIMARY KEY DEFAULT 0 CHECK (id = 0),
	block_height BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS commitment_tree (
	id           BIGSERIAL PRIMARY KEY,
	tree         BYTEA NOT NULL,
	block_height BIGINT NOT NULL,
	UNIQUE (block_height)
);
CREATE INDEX IF NOT EXISTS commitment_tree_height_idx ON commitment_tree (block_height DESC);

CREATE TABLE IF NOT EXISTS witness (
	id            BIGSERIAL PRIMARY KEY,
	witness_bytes BYTEA NOT NULL,
	witness_idx   BIGINT NOT NULL,
	block_height  BIGINT NOT NULL,
	UNIQUE (witness_idx, block_height)
);
CREATE INDEX IF NOT EXISTS witness_height_idx ON witness (block_height DESC);

CREATE TABLE IF NOT EXISTS notes_index (
	note_position  BIGINT PRIMARY KEY,
	block_index    INT NOT NULL,
	block_height   BIGINT NOT NULL,
	masp_tx_index  INT NOT NULL,
	is_fee_payment BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS tx (
	id             BIGSERIAL PRIMARY KEY,
	block_index    INT NOT NULL,
	tx_bytes       BYTEA NOT NULL,
	block_height   BIGINT NOT NULL,
	masp_tx_index  INT NOT NULL,
	is_fee_payment BOOLEAN NOT NULL,
	UNIQUE (block_height, block_index, masp_tx_index)
);
CREATE INDEX IF NOT EXISTS tx_height_idx ON tx (block_height);

CREATE TABLE IF NOT EXISTS block_index (
	id           INT PRIMARY KEY DEFAULT 0 CHECK (id = 0),
	serialized   BYTEA NOT NULL,
	block_height BIGINT NOT NULL
);
`
