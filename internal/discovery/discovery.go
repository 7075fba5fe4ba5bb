// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package discovery runs one independent cycle per configured DEX: load
// cursor, compute the next block window, ask the adapter for new pools,
// validate them, upsert metadata, fetch initial state, advance the cursor
// (spec.md §4.4). Each DEX owns its own goroutine, cursor, and backoff
// state; there is no shared "discovery manager" goroutine multiplexing
// every DEX through one loop.
package discovery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/dexadapter"
	"github.com/luxfi/dexgraph/internal/logging"
	"github.com/luxfi/dexgraph/internal/rpcpool"
	"github.com/luxfi/dexgraph/internal/validator"
)

// CursorStore persists and loads DexCursor rows (spec.md §3). Implemented
// by the store package; accepted as an interface here to avoid an import
// cycle and to let tests substitute an in-memory fake.
type CursorStore interface {
	LoadCursor(ctx context.Context, dexTag string) (chainmodel.Cursor, error)
	SaveCursor(ctx context.Context, c chainmodel.Cursor) error
}

// MetaStore persists validated pool metadata.
type MetaStore interface {
	UpsertMeta(ctx context.Context, m *chainmodel.Meta) error
}

// StateWriter hands freshly-fetched initial state to whatever owns the
// authoritative copy (state cache today; the full graph/store pipeline
// consumes it from there).
type StateWriter interface {
	Put(id chainmodel.Identity, s *chainmodel.State, touched bool)
}

// EventSink records the durable history a cycle produces: one EventRecord
// per validated candidate, and one ScanWindow per cycle regardless of
// whether it found anything. Gap repair reads both back through
// ScanCoverageReader / the cursor, never through a shared in-process
// reference to this sink.
type EventSink interface {
	AppendEvent(e chainmodel.Event)
	RecordScanWindow(dexTag string, from, to uint64)
}

// Telemetry receives the per-cycle counter-factual gas estimate.
type Telemetry interface {
	ShadowGas(dexTag string, candidates int, savedGas uint64)
}

// PriceLookup is an alias of validator.PriceLookup, so NewWorker's
// signature can name it from this package.
type PriceLookup = validator.PriceLookup

// Config configures one DEX's discovery cycle (spec.md §6 "discovery.*").
type Config struct {
	DexTag                 string
	ChunkBlocks            int
	MaxParallelism         int
	IntervalPoll           time.Duration
	InitialBackfillBlock   uint64
	ActivationThresholdUSD float64
}

// Worker runs the discovery cycle for exactly one DEX tag.
type Worker struct {
	cfg       Config
	adapter   dexadapter.Adapter
	pool      *rpcpool.Pool
	validator *validator.Validator
	bytecode  bool
	cursors   CursorStore
	metas     MetaStore
	states    StateWriter
	prices    PriceLookup
	events    EventSink
	telemetry Telemetry
	log       logging.Logger
}

// NewWorker constructs a per-DEX discovery worker.
func NewWorker(cfg Config, adapter dexadapter.Adapter, pool *rpcpool.Pool, v *validator.Validator, cursors CursorStore, metas MetaStore, states StateWriter, prices PriceLookup, events EventSink, telemetry Telemetry) *Worker {
	return &Worker{
		cfg:       cfg,
		adapter:   adapter,
		pool:      pool,
		validator: v,
		bytecode:  adapter.BytecodeCheckRequired(),
		cursors:   cursors,
		metas:     metas,
		states:    states,
		prices:    prices,
		events:    events,
		telemetry: telemetry,
		log:       logging.Component("discovery").With("dex", cfg.DexTag),
	}
}

// Run loops forever, sleeping cfg.IntervalPoll between cycles, until ctx is
// canceled. Each cycle's errors are logged and retried on the next tick
// rather than stopping the worker — a single bad RPC window must not take
// down an otherwise-healthy DEX's discovery loop (spec.md §4.4).
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.IntervalPoll)
	defer ticker.Stop()

	if err := w.cycle(ctx); err != nil {
		w.log.Error("discovery cycle failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cycle(ctx); err != nil {
				w.log.Error("discovery cycle failed", "err", err)
			}
		}
	}
}

// cycle runs exactly one load-discover-validate-upsert-advance pass.
func (w *Worker) cycle(ctx context.Context) error {
	cursor, err := w.cursors.LoadCursor(ctx, w.cfg.DexTag)
	if err != nil {
		return err
	}
	from := cursor.LastProcessed
	if from == 0 {
		from = w.cfg.InitialBackfillBlock
	}

	tip, _, err := w.pool.GetBlockNumber(ctx)
	if err != nil {
		return err
	}
	if tip <= from {
		return nil
	}

	metas, err := w.discoverWithRetry(ctx, from, tip)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		w.events.RecordScanWindow(w.cfg.DexTag, from, tip)
		cursor.LastProcessed = tip
		cursor.Mode = chainmodel.ModeForward
		cursor.UpdatedAt = time.Now()
		return w.cursors.SaveCursor(ctx, cursor)
	}

	states, stateErrs := w.adapter.FetchState(ctx, metas)

	threshold := w.cfg.ActivationThresholdUSD
	validCount := 0
	for _, m := range metas {
		state := states[m.Identity]
		outcome := w.validator.Validate(ctx, m, state, w.bytecode, w.prices)
		switch outcome.Status {
		case validator.ResultValid:
			m.Status = chainmodel.StatusValid
			m.Valid = true
			// A concentrated-liquidity pool has no cheap USD figure at
			// discovery time (validator.Outcome.USDKnown is false for it);
			// the floor check already confirmed non-zero liquidity, so it
			// starts active and graph.Engine.reactivate corrects it once a
			// real weight exists.
			if outcome.USDKnown {
				m.Active = outcome.USDValue >= threshold
			} else {
				m.Active = true
			}
		case validator.ResultRejected:
			m.Status = chainmodel.StatusRejected
		case validator.ResultBlacklisted:
			m.Status = chainmodel.StatusBlacklisted
		case validator.ResultErrored:
			// Leave as Discovered; a later cycle retries validation once
			// state is fetchable.
			if serr, ok := stateErrs[m.Identity]; ok {
				w.log.Warn("state fetch failed during validation", "pool", m.Identity.Address, "err", serr)
			}
			continue
		}

		if err := w.metas.UpsertMeta(ctx, m); err != nil {
			w.log.Error("upsert meta failed", "pool", m.Identity.Address, "err", err)
			continue
		}
		if outcome.Status == validator.ResultValid && state != nil {
			w.states.Put(m.Identity, state, true)
		}

		var factory [20]byte
		copy(factory[:], m.Factory.Bytes())
		w.events.AppendEvent(chainmodel.Event{
			DexTag:   m.DexTag,
			Block:    m.CreatedBlock,
			LogIndex: m.LogIndex,
			Pool:     m.Identity,
			Factory:  factory,
		})
		if outcome.Status == validator.ResultValid {
			validCount++
		}
	}
	w.events.RecordScanWindow(w.cfg.DexTag, from, tip)
	if saved := shadowGasSavings(len(metas)); saved > 0 {
		w.telemetry.ShadowGas(w.cfg.DexTag, len(metas), saved)
	}

	cursor.LastProcessed = tip
	cursor.Mode = chainmodel.ModeForward
	cursor.UpdatedAt = time.Now()
	return w.cursors.SaveCursor(ctx, cursor)
}

// Gas cost constants used only for the shadow-gas estimate (spec.md §4.4
// step 5): the counter-factual cost of validating each candidate with its
// own individual call versus the multicall batch actually used.
const (
	estimatedGasPerIndividualCall = 30_000
	estimatedGasPerMulticallCall  = 5_000
)

// shadowGasSavings estimates the gas n candidates would have cost validated
// one RPC call at a time, against what the batched multicall path actually
// spends per candidate. Returns 0 for n<=0 rather than a negative figure.
func shadowGasSavings(n int) uint64 {
	if n <= 0 {
		return 0
	}
	individual := uint64(n) * estimatedGasPerIndividualCall
	batched := uint64(n) * estimatedGasPerMulticallCall
	if batched >= individual {
		return 0
	}
	return individual - batched
}

// discoverWithRetry wraps adapter.Discover in a bounded exponential
// backoff, since a single transient RPC failure on one window should not
// force the whole cycle to wait for the next poll interval.
func (w *Worker) discoverWithRetry(ctx context.Context, from, to uint64) ([]*chainmodel.Meta, error) {
	op := func() ([]*chainmodel.Meta, error) {
		metas, err := w.adapter.Discover(ctx, from, to, w.cfg.ChunkBlocks, w.cfg.MaxParallelism)
		if err != nil {
			return nil, err
		}
		return metas, nil
	}
	return backoff.Retry(ctx, op, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}
