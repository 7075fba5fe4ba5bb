// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recorder is the out-of-band event recorder (spec.md §4.11): a
// buffered producer-side channel drained by a single consumer goroutine
// that appends newline-delimited JSON to a file under recorder.dir. An
// event that arrives while the buffer is full is dropped and counted. When
// disabled, Record is a single boolean check with no allocation.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/luxfi/dexgraph/internal/logging"
)

// Kind is the closed set of event variants (spec.md §4.11).
type Kind string

const (
	KindBlockStart  Kind = "block_start"
	KindBlockEnd    Kind = "block_end"
	KindPhaseStart  Kind = "phase_start"
	KindPhaseEnd    Kind = "phase_end"
	KindDecision    Kind = "decision"
	KindRPCCall     Kind = "rpc_call"
	KindCacheEvent  Kind = "cache_event"
	KindError       Kind = "error"
	KindBlockSkipped Kind = "block_skipped"
	KindBlockGap    Kind = "block_gap"
	KindShadowGas   Kind = "shadow_gas"
)

// Event is one recorded occurrence. Payload must contain no secret
// material (spec.md §4.11's privacy constraint): no connection strings,
// credentials, or per-user data.
type Event struct {
	TimestampMs int64          `json:"ts_ms"`
	Kind        Kind           `json:"kind"`
	Block       *uint64        `json:"block,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Recorder is the process-wide event sink. The zero value with
// Enabled=false is safe to use and allocation-free on Record.
type Recorder struct {
	enabled bool
	events  chan Event
	dropped int64
	done    chan struct{}
	log     logging.Logger
}

// disabled is a package-level no-op sentinel returned by New when the
// recorder is turned off, so every call site can treat Record uniformly.
var disabled = &Recorder{enabled: false}

// New opens (creating if necessary) a newline-delimited-JSON file under
// dir, named with an ISO-8601-like timestamp, and starts the consumer
// goroutine. If enabled is false, it returns a no-op Recorder and touches
// no filesystem state at all.
func New(dir string, enabled bool) (*Recorder, error) {
	if !enabled {
		return disabled, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: mkdir %s: %w", dir, err)
	}
	name := fmt.Sprintf("events-%s.ndjson", time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}

	r := &Recorder{
		enabled: true,
		events:  make(chan Event, 4096), // buffered: producers never block; once 4096 events are waiting, Record drops and counts instead
		done:    make(chan struct{}),
		log:     logging.Component("recorder"),
	}
	go r.consume(f)
	return r, nil
}

// Record attempts to enqueue an event without ever blocking the caller.
// When the channel's buffer is full, the event is dropped and
// counted (spec.md §4.11: "the recorder never backpressures producers").
// When disabled, this is a single boolean check with zero allocation.
func (r *Recorder) Record(kind Kind, block *uint64, payload map[string]any) {
	if r == nil || !r.enabled {
		return
	}
	e := Event{TimestampMs: time.Now().UnixMilli(), Kind: kind, Block: block, Payload: payload}
	select {
	case r.events <- e:
	default:
		atomic.AddInt64(&r.dropped, 1)
	}
}

// Dropped returns the count of events dropped due to backpressure.
func (r *Recorder) Dropped() int64 {
	if r == nil {
		return 0
	}
	return atomic.LoadInt64(&r.dropped)
}

// Close stops the consumer goroutine and waits for it to finish flushing.
func (r *Recorder) Close() {
	if r == nil || !r.enabled {
		return
	}
	close(r.events)
	<-r.done
}

func (r *Recorder) consume(f *os.File) {
	defer close(r.done)
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	enc := json.NewEncoder(w)
	for e := range r.events {
		if err := enc.Encode(e); err != nil {
			r.log.Error("recorder: encode event failed", "err", err)
		}
	}
}
