// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/logging"
)

// opKind is the closed set of batched writer operations (spec.md §4.9).
type opKind int

const (
	opUpsertPool opKind = iota
	opSetPoolActive
	opUpsertWeight
	opAppendEvent
	opRecordScanWindow
	opCheckpointDex
)

// op is one queued write. Only the fields relevant to Kind are populated.
type op struct {
	kind opKind

	meta   *chainmodel.Meta
	active struct {
		id     chainmodel.Identity
		active bool
	}
	weight     chainmodel.Weight
	event      chainmodel.Event
	scanWindow chainmodel.ScanWindow
	cursor     chainmodel.Cursor

	done chan error // non-nil when the caller awaits durability (checkpoint)
}

// WriterConfig tunes the flush cadence (spec.md §6 "store.*").
type WriterConfig struct {
	BatchSize   int
	FlushPeriod time.Duration
	QueueSize   int
}

// Writer is the batched async writer fronting Store (spec.md §4.9): a
// single goroutine drains a bounded channel of ops, flushing on whichever
// of N_batch / T_flush comes first. CheckpointDex ops are held out of the
// regular flush and only committed once every prior op for that dex has
// itself been durably applied, preserving the recovery invariant.
type Writer struct {
	store *Store
	cfg   WriterConfig
	log   logging.Logger

	ops  chan op
	done chan struct{}
}

// NewWriter constructs a batched writer over store. Call Run in its own
// goroutine to start draining.
func NewWriter(store *Store, cfg WriterConfig) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushPeriod <= 0 {
		cfg.FlushPeriod = 100 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10_000
	}
	return &Writer{
		store: store,
		cfg:   cfg,
		log:   logging.Component("store.writer"),
		ops:   make(chan op, cfg.QueueSize),
		done:  make(chan struct{}),
	}
}

// UpsertPool enqueues a pool metadata upsert.
func (w *Writer) UpsertPool(m *chainmodel.Meta) { w.ops <- op{kind: opUpsertPool, meta: m} }

// SetPoolActive enqueues an active-flag flip without a full meta rewrite.
func (w *Writer) SetPoolActive(id chainmodel.Identity, active bool) {
	o := op{kind: opSetPoolActive}
	o.active.id = id
	o.active.active = active
	w.ops <- o
}

// UpsertWeight enqueues a single weight row upsert.
func (w *Writer) UpsertWeight(weight chainmodel.Weight) {
	w.ops <- op{kind: opUpsertWeight, weight: weight}
}

// AppendEvent enqueues a discovered pool-creation event record.
func (w *Writer) AppendEvent(e chainmodel.Event) { w.ops <- op{kind: opAppendEvent, event: e} }

// RecordScanWindow enqueues one discovery cycle's scanned block range,
// independent of whether it produced any events, so gap repair can detect
// abandoned ranges from scan continuity rather than event density.
func (w *Writer) RecordScanWindow(dexTag string, from, to uint64) {
	w.ops <- op{kind: opRecordScanWindow, scanWindow: chainmodel.ScanWindow{DexTag: dexTag, From: from, To: to}}
}

// UpsertWeights implements graph.WeightStore's write side by enqueueing one
// op per weight; they flush in the same batch as any other pending op.
func (w *Writer) UpsertWeights(_ context.Context, weights []chainmodel.Weight) error {
	for _, weight := range weights {
		w.ops <- op{kind: opUpsertWeight, weight: weight}
	}
	return nil
}

// LoadWeights implements graph.WeightStore's read side. Reads bypass the
// queue and go straight to the store, same as every other read path.
func (w *Writer) LoadWeights(ctx context.Context) ([]chainmodel.Weight, error) {
	return w.store.LoadWeights(ctx)
}

// LoadCursor implements discovery.CursorStore's read side.
func (w *Writer) LoadCursor(ctx context.Context, dexTag string) (chainmodel.Cursor, error) {
	return w.store.LoadCursor(ctx, dexTag)
}

// SaveCursor implements discovery.CursorStore's write side by routing
// through CheckpointDex, preserving the recovery invariant that a cursor
// only commits after every prior op for that dex is durable.
func (w *Writer) SaveCursor(ctx context.Context, c chainmodel.Cursor) error {
	return w.CheckpointDex(ctx, c)
}

// UpsertMeta satisfies discovery.MetaStore by enqueueing onto the batched
// writer instead of blocking the discovery cycle on a round-trip; the
// queue's own backpressure (it's bounded) is the only wait a caller sees.
func (w *Writer) UpsertMeta(_ context.Context, m *chainmodel.Meta) error {
	w.UpsertPool(m)
	return nil
}

// CheckpointDex enqueues a cursor checkpoint and blocks until it has been
// durably applied after every op queued for this dex before it (spec.md
// §4.9's recovery invariant). Discovery reaches it through SaveCursor at
// the end of each cycle; there is no separate flush call, since the
// checkpoint waits for the batch it is queued into.
func (w *Writer) CheckpointDex(ctx context.Context, c chainmodel.Cursor) error {
	done := make(chan error, 1)
	w.ops <- op{kind: opCheckpointDex, cursor: c, done: done}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the op channel until ctx is canceled, flushing batches of up
// to BatchSize ops or every FlushPeriod, whichever comes first.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.FlushPeriod)
	defer ticker.Stop()

	pending := make([]op, 0, w.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background(), pending)
			return
		case o := <-w.ops:
			pending = append(pending, o)
			if len(pending) >= w.cfg.BatchSize {
				w.flush(ctx, pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				w.flush(ctx, pending)
				pending = pending[:0]
			}
		}
	}
}

// Done is closed once Run has returned (after a final flush on shutdown).
func (w *Writer) Done() <-chan struct{} { return w.done }

// flush commits every non-checkpoint op first, then every checkpoint op —
// enforcing the "checkpoint after all prior ops for that dex are durable"
// invariant with a single ordering rule rather than per-dex bookkeeping,
// since all ops sharing one flush batch commit within the same round-trip.
func (w *Writer) flush(ctx context.Context, pending []op) {
	if len(pending) == 0 {
		return
	}
	var checkpoints []op
	batch := &pgx.Batch{}
	for _, o := range pending {
		switch o.kind {
		case opUpsertPool:
			queuePoolUpsert(batch, o.meta)
		case opSetPoolActive:
			batch.Queue(`UPDATE pools SET active = $2, updated_at = now() WHERE address = $1`, o.active.id.Address.Hex(), o.active.active)
		case opUpsertWeight:
			batch.Queue(upsertWeightSQL, o.weight.Identity.Address.Hex(), o.weight.WeightUSD, o.weight.LastComputedBlock, o.weight.LastUpdatedAt)
		case opAppendEvent:
			batch.Queue(`INSERT INTO event_index (dex, block, log_index, pool_address, factory) VALUES ($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING`,
				o.event.DexTag, o.event.Block, o.event.LogIndex, o.event.Pool.Address.Hex(), common.BytesToAddress(o.event.Factory[:]).Hex())
		case opRecordScanWindow:
			batch.Queue(`INSERT INTO scan_windows (dex, from_block, to_block, scanned_at) VALUES ($1,$2,$3,now()) ON CONFLICT (dex, from_block) DO UPDATE SET to_block = EXCLUDED.to_block, scanned_at = EXCLUDED.scanned_at`,
				o.scanWindow.DexTag, o.scanWindow.From, o.scanWindow.To)
		case opCheckpointDex:
			checkpoints = append(checkpoints, o)
			continue
		}
	}

	var flushErr error
	if batch.Len() > 0 {
		br := w.store.pool.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				flushErr = fmt.Errorf("store: writer flush op %d: %w", i, err)
				w.log.Error("batched write failed", "err", err)
			}
		}
		br.Close()
	}

	// Checkpoints commit only after the above batch's round-trip has
	// returned, satisfying spec.md §4.9's ordering invariant.
	for _, c := range checkpoints {
		var err error
		if flushErr != nil {
			err = flushErr
		} else {
			err = w.store.SaveCursor(ctx, c.cursor)
		}
		if c.done != nil {
			c.done <- err
		}
	}
}

func queuePoolUpsert(batch *pgx.Batch, m *chainmodel.Meta) {
	batch.Queue(upsertPoolSQL,
		m.Identity.Address.Hex(), m.Identity.ChainID, m.DexTag, m.Factory.Hex(),
		tokenOrZero(m.Tokens, 0), tokenOrZero(m.Tokens, 1), m.FeeBps, m.PoolIDHandle,
		m.Valid, m.Active, m.CreatedBlock)
}
