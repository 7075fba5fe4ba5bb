// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store is the persistence adapter (spec.md §4.9): a
// jackc/pgx/v5/pgxpool-backed durable store for PoolMeta, PoolWeight,
// DexCursor, and EventRecord, fronted by a batched async writer so the
// hot path never blocks on a round-trip commit.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/logging"
	"github.com/luxfi/dexgraph/internal/store/migrations"
)

// Store is the pgx-backed persistence adapter. Reads go straight through
// the pool. Store also has direct, synchronous write methods (SaveCursor,
// UpsertMeta, UpsertWeights); cmd/dexgraph sends its runtime writes
// through the Writer instead (spec.md §4.9: "Reads are direct; writes go
// through a batched async writer").
type Store struct {
	pool   *pgxpool.Pool
	log    logging.Logger
	pooled bool // true when fronted by a transaction-pooling proxy (pgbouncer)
}

// Open connects to dsn, detecting a transaction-pooled front-end by
// scheme parameter, marker substring, or well-known port (spec.md §4.9)
// and disabling server-side statement caching accordingly.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pooled := isPooledFrontend(dsn, cfg)
	if pooled {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		cfg.ConnConfig.StatementCacheCapacity = 0
		cfg.ConnConfig.DescriptionCacheCapacity = 0
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Store{pool: pool, log: logging.Component("store"), pooled: pooled}, nil
}

// isPooledFrontend reports whether dsn points at a transaction-pooling
// proxy such as pgbouncer, per spec.md §4.9's three detection signals.
func isPooledFrontend(dsn string, cfg *pgxpool.Config) bool {
	lower := strings.ToLower(dsn)
	if strings.Contains(lower, "pgbouncer=true") || strings.Contains(lower, "pgbouncer") {
		return true
	}
	if cfg.ConnConfig.Port == 6432 {
		return true
	}
	return false
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Migrate applies every embedded migration in filename order. Safe to
// call on every startup; statements use IF NOT EXISTS.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sortStrings(names)

	for _, name := range names {
		body, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("store: apply migration %s: %w", name, err)
		}
	}
	return nil
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// LoadCursor implements discovery.CursorStore.
func (s *Store) LoadCursor(ctx context.Context, dexTag string) (chainmodel.Cursor, error) {
	row := s.pool.QueryRow(ctx, `SELECT dex, last_processed_block, mode, updated_at FROM dex_state WHERE dex = $1`, dexTag)
	var c chainmodel.Cursor
	var mode string
	if err := row.Scan(&c.DexTag, &c.LastProcessed, &mode, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return chainmodel.Cursor{DexTag: dexTag, Mode: chainmodel.ModeForward}, nil
		}
		return chainmodel.Cursor{}, fmt.Errorf("store: load cursor: %w", err)
	}
	if mode == "backfill" {
		c.Mode = chainmodel.ModeBackfill
	}
	return c, nil
}

// SaveCursor implements discovery.CursorStore directly (outside the
// batched writer; checkpoints flow through Writer.Checkpoint instead for
// the ordered-commit guarantee — this direct path is a synchronous write;
// cmd/dexgraph's discovery workers and gap repairers save cursors through
// the Writer instead).
func (s *Store) SaveCursor(ctx context.Context, c chainmodel.Cursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dex_state (dex, last_processed_block, mode, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dex) DO UPDATE SET last_processed_block = EXCLUDED.last_processed_block, mode = EXCLUDED.mode, updated_at = EXCLUDED.updated_at`,
		c.DexTag, c.LastProcessed, c.Mode.String(), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save cursor: %w", err)
	}
	return nil
}

// UpsertMeta implements discovery.MetaStore / graph.MetaLookup's write
// side, keyed idempotently on pool address (spec.md §4.9's idempotence
// contract).
func (s *Store) UpsertMeta(ctx context.Context, m *chainmodel.Meta) error {
	_, err := s.pool.Exec(ctx, upsertPoolSQL,
		m.Identity.Address.Hex(), m.Identity.ChainID, m.DexTag, m.Factory.Hex(),
		tokenOrZero(m.Tokens, 0), tokenOrZero(m.Tokens, 1), m.FeeBps, m.PoolIDHandle,
		m.Valid, m.Active, m.CreatedBlock)
	if err != nil {
		return fmt.Errorf("store: upsert pool: %w", err)
	}
	return nil
}

func tokenOrZero(tokens []common.Address, i int) string {
	if i < len(tokens) {
		return tokens[i].Hex()
	}
	return common.Address{}.Hex()
}

const upsertPoolSQL = `
	INSERT INTO pools (address, chain_id, dex, factory, token_a, token_b, fee, pool_id, valid, active, created_block, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	ON CONFLICT (address) DO UPDATE SET
		dex = EXCLUDED.dex, factory = EXCLUDED.factory, token_a = EXCLUDED.token_a, token_b = EXCLUDED.token_b,
		fee = EXCLUDED.fee, pool_id = EXCLUDED.pool_id, valid = EXCLUDED.valid, active = EXCLUDED.active,
		created_block = EXCLUDED.created_block, updated_at = now()`

// Get implements graph.MetaLookup's read side for a single identity.
func (s *Store) Get(id chainmodel.Identity) (*chainmodel.Meta, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	row := s.pool.QueryRow(ctx, `SELECT dex, factory, token_a, token_b, fee, valid, active, created_block FROM pools WHERE address = $1`, id.Address.Hex())
	var m chainmodel.Meta
	var factory, tokenA, tokenB string
	m.Identity = id
	if err := row.Scan(&m.DexTag, &factory, &tokenA, &tokenB, &m.FeeBps, &m.Valid, &m.Active, &m.CreatedBlock); err != nil {
		return nil, false
	}
	m.Factory = common.HexToAddress(factory)
	m.Tokens = []common.Address{common.HexToAddress(tokenA), common.HexToAddress(tokenB)}
	return &m, true
}

// All implements graph.MetaLookup's bulk read, used by FullRefresh.
func (s *Store) All() []*chainmodel.Meta {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT address, chain_id, dex, factory, token_a, token_b, fee, valid, active, created_block FROM pools`)
	if err != nil {
		s.log.Warn("store: query all pools failed", "err", err)
		return nil
	}
	defer rows.Close()

	var out []*chainmodel.Meta
	for rows.Next() {
		var m chainmodel.Meta
		var address, factory, tokenA, tokenB string
		if err := rows.Scan(&address, &m.Identity.ChainID, &m.DexTag, &factory, &tokenA, &tokenB, &m.FeeBps, &m.Valid, &m.Active, &m.CreatedBlock); err != nil {
			continue
		}
		m.Identity.Address = common.HexToAddress(address)
		m.Factory = common.HexToAddress(factory)
		m.Tokens = []common.Address{common.HexToAddress(tokenA), common.HexToAddress(tokenB)}
		out = append(out, &m)
	}
	return out
}

// UpsertWeights implements graph.WeightStore's write side.
func (s *Store) UpsertWeights(ctx context.Context, weights []chainmodel.Weight) error {
	batch := &pgx.Batch{}
	for _, w := range weights {
		batch.Queue(upsertWeightSQL, w.Identity.Address.Hex(), w.WeightUSD, w.LastComputedBlock, w.LastUpdatedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range weights {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: upsert weights batch: %w", err)
		}
	}
	return nil
}

const upsertWeightSQL = `
	INSERT INTO graph_weights (pool_address, weight, last_computed_block, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (pool_address) DO UPDATE SET weight = EXCLUDED.weight, last_computed_block = EXCLUDED.last_computed_block, updated_at = EXCLUDED.updated_at`

// LoadWeights implements graph.WeightStore's reactivation-pass read: the
// entire persisted weight table, no per-pool RPC.
func (s *Store) LoadWeights(ctx context.Context) ([]chainmodel.Weight, error) {
	rows, err := s.pool.Query(ctx, `SELECT pool_address, weight, last_computed_block, updated_at FROM graph_weights`)
	if err != nil {
		return nil, fmt.Errorf("store: load weights: %w", err)
	}
	defer rows.Close()

	var out []chainmodel.Weight
	for rows.Next() {
		var w chainmodel.Weight
		var address string
		if err := rows.Scan(&address, &w.WeightUSD, &w.LastComputedBlock, &w.LastUpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan weight row: %w", err)
		}
		w.Identity = chainmodel.Identity{Address: common.HexToAddress(address)}
		out = append(out, w)
	}
	return out, nil
}

// ScanWindowsSince implements discovery.ScanCoverageReader: every recorded
// scan window for dexTag, used by gap repair to find abandoned ranges.
func (s *Store) ScanWindowsSince(ctx context.Context, dexTag string, sinceBlock uint64) ([]chainmodel.ScanWindow, error) {
	rows, err := s.pool.Query(ctx, `SELECT dex, from_block, to_block FROM scan_windows WHERE dex = $1 AND to_block >= $2 ORDER BY from_block`, dexTag, sinceBlock)
	if err != nil {
		return nil, fmt.Errorf("store: scan windows since: %w", err)
	}
	defer rows.Close()

	var out []chainmodel.ScanWindow
	for rows.Next() {
		var w chainmodel.ScanWindow
		if err := rows.Scan(&w.DexTag, &w.From, &w.To); err != nil {
			return nil, fmt.Errorf("store: scan scan_window row: %w", err)
		}
		out = append(out, w)
	}
	return out, nil
}

// EventsSince returns every recorded pool-creation EventRecord for dexTag
// from sinceBlock onward, ordered by (block, log_index). Populated by
// discovery.Worker.cycle's AppendEvent calls; kept as a general read path
// into event_index for introspection and diagnostics even though gap
// repair itself now reads scan-window coverage instead (ScanWindowsSince).
func (s *Store) EventsSince(ctx context.Context, dexTag string, sinceBlock uint64) ([]chainmodel.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT dex, block, log_index, pool_address, factory FROM event_index WHERE dex = $1 AND block >= $2 ORDER BY block, log_index`, dexTag, sinceBlock)
	if err != nil {
		return nil, fmt.Errorf("store: events since: %w", err)
	}
	defer rows.Close()

	var out []chainmodel.Event
	for rows.Next() {
		var e chainmodel.Event
		var pool, factory string
		if err := rows.Scan(&e.DexTag, &e.Block, &e.LogIndex, &pool, &factory); err != nil {
			return nil, fmt.Errorf("store: scan event row: %w", err)
		}
		e.Pool = chainmodel.Identity{Address: common.HexToAddress(pool)}
		copy(e.Factory[:], common.HexToAddress(factory).Bytes())
		out = append(out, e)
	}
	return out, nil
}
