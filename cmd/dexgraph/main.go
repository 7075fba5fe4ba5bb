// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// dexgraph is the liquidity discovery and weighting service (spec.md §1):
// it discovers DEX pools across configured factories, validates them,
// tracks their live state in a tiered cache, derives a USD weight per
// pool, and persists the result for downstream consumers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/config"
	"github.com/luxfi/dexgraph/internal/dexadapter"
	"github.com/luxfi/dexgraph/internal/discovery"
	"github.com/luxfi/dexgraph/internal/graph"
	"github.com/luxfi/dexgraph/internal/hotpool"
	"github.com/luxfi/dexgraph/internal/logging"
	"github.com/luxfi/dexgraph/internal/metrics"
	"github.com/luxfi/dexgraph/internal/priceusd"
	"github.com/luxfi/dexgraph/internal/priceusd/httpfeed"
	"github.com/luxfi/dexgraph/internal/priceusd/onchainoracle"
	"github.com/luxfi/dexgraph/internal/priceusd/poolderived"
	"github.com/luxfi/dexgraph/internal/priceusd/stablepeg"
	"github.com/luxfi/dexgraph/internal/recorder"
	"github.com/luxfi/dexgraph/internal/rpcpool"
	"github.com/luxfi/dexgraph/internal/scheduler"
	"github.com/luxfi/dexgraph/internal/statecache"
	"github.com/luxfi/dexgraph/internal/store"
	"github.com/luxfi/dexgraph/internal/tokenmeta"
	"github.com/luxfi/dexgraph/internal/validator"
)

const clientIdentifier = "dexgraph"

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "DEX liquidity discovery, validation, and USD weighting service",
	Version: "1.0.0",
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the YAML configuration document",
	EnvVars: []string{"DEXGRAPH_CONFIG"},
}

func init() {
	app.Flags = []cli.Flag{configFlag}
	app.Before = func(c *cli.Context) error {
		level := slog.LevelInfo
		if os.Getenv("DEXGRAPH_DEBUG") != "" {
			level = slog.LevelDebug
		}
		logging.Init(os.Stderr, level, os.Getenv("DEXGRAPH_LOG_JSON") != "")
		return nil
	}
	app.Commands = []*cli.Command{
		serveCommand,
		migrateCommand,
		healthcheckCommand,
	}
	app.Action = func(c *cli.Context) error {
		return cli.ShowAppHelp(c)
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var migrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "apply every pending database migration and exit",
	Flags: []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		ctx := context.Background()
		st, err := store.Open(ctx, cfg.Store.URL, cfg.Store.MaxConns)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var healthcheckCommand = &cli.Command{
	Name:  "healthcheck",
	Usage: "verify the configured RPC providers and database are reachable",
	Flags: []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st, err := store.Open(ctx, cfg.Store.URL, cfg.Store.MaxConns)
		if err != nil {
			return fmt.Errorf("store unreachable: %w", err)
		}
		defer st.Close()

		pool, err := rpcpool.New(ctx, rpcpool.Config{HTTPURLs: cfg.RPC.HTTPURLs, MaxConcurrency: int64(cfg.RPC.MaxConcurrency)})
		if err != nil {
			return fmt.Errorf("rpc pool unreachable: %w", err)
		}
		defer pool.Close()

		if _, _, err := pool.GetBlockNumber(ctx); err != nil {
			return fmt.Errorf("rpc block read failed: %w", err)
		}
		fmt.Println("ok")
		return nil
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run discovery, validation, pricing, and the graph engine until stopped",
	Flags: []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

// rpcEventRecorder adapts *recorder.Recorder to rpcpool.Recorder, since the
// recorder's own API is a single untyped Record call and rpcpool declares
// its own narrow interface rather than importing the recorder package
// (spec.md §9's "shared handle, never a back-reference").
type rpcEventRecorder struct{ rec *recorder.Recorder }

func (r rpcEventRecorder) RPCCall(provider, method string, latency time.Duration, err error) {
	payload := map[string]any{"provider": provider, "method": method, "latency_ms": latency.Milliseconds()}
	if err != nil {
		payload["err"] = err.Error()
	}
	r.rec.Record(recorder.KindRPCCall, nil, payload)
}

// cacheEventRecorder adapts *recorder.Recorder to statecache.CacheRecorder.
type cacheEventRecorder struct{ rec *recorder.Recorder }

func (r cacheEventRecorder) CacheMiss(dexTag string, id chainmodel.Identity) {
	r.rec.Record(recorder.KindCacheEvent, nil, map[string]any{
		"dex": dexTag, "pool": id.Address.Hex(), "event": "miss",
	})
}

// weightEventRecorder adapts *recorder.Recorder to graph.WeightRecorder.
// A missing price is recorded as an Error event, matching spec.md §8
// scenario 4's "an Error::PriceMissing event".
type weightEventRecorder struct{ rec *recorder.Recorder }

func (r weightEventRecorder) PriceMissing(dexTag string, id chainmodel.Identity, token common.Address) {
	r.rec.Record(recorder.KindError, nil, map[string]any{
		"dex": dexTag, "pool": id.Address.Hex(), "token": token.Hex(), "reason": "price_missing",
	})
}

// discoveryTelemetryRecorder adapts *recorder.Recorder to discovery.Telemetry.
type discoveryTelemetryRecorder struct{ rec *recorder.Recorder }

func (r discoveryTelemetryRecorder) ShadowGas(dexTag string, candidates int, savedGas uint64) {
	r.rec.Record(recorder.KindShadowGas, nil, map[string]any{
		"dex": dexTag, "candidates": candidates, "saved_gas": savedGas,
	})
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.Component("main")
	reg := metrics.New()
	serveMetricsHTTP(reg)

	rec, err := recorder.New(cfg.Recorder.Dir, cfg.Recorder.Enabled)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	defer rec.Close()

	st, err := store.Open(ctx, cfg.Store.URL, cfg.Store.MaxConns)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}

	writer := store.NewWriter(st, store.WriterConfig{
		BatchSize:   cfg.Store.BatchSize,
		FlushPeriod: time.Duration(cfg.Store.FlushMillis) * time.Millisecond,
	})
	go writer.Run(ctx)

	pool, err := rpcpool.New(ctx, rpcpool.Config{
		HTTPURLs:          cfg.RPC.HTTPURLs,
		MaxConcurrency:    int64(cfg.RPC.MaxConcurrency),
		MaxBatchSize:      cfg.Performance.MulticallBatchSize,
		Recorder:          rpcEventRecorder{rec: rec},
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("rpcpool: %w", err)
	}
	defer pool.Close()

	registry := dexadapter.NewRegistry()
	for _, d := range cfg.Dexes {
		deps := dexadapter.Deps{Pool: pool, ChainID: cfg.ChainID, Factory: common.HexToAddress(d.Factory), DexTag: d.Tag}
		var adapter dexadapter.Adapter
		switch d.Protocol {
		case "constant_product":
			adapter = dexadapter.NewConstantProduct(deps)
		case "concentrated_liquidity":
			adapter = dexadapter.NewConcentratedLiquidity(deps)
		case "weighted":
			adapter = dexadapter.NewWeighted(deps)
		case "stableswap":
			adapter = dexadapter.NewStableSwap(deps)
		default:
			return fmt.Errorf("config: dexes[%s]: unknown protocol %q", d.Tag, d.Protocol)
		}
		registry.Register(d.Tag, adapter)
	}

	anchors := parseAddressSet(cfg.Validator.AnchorTokens)
	blacklistedTokens := parseAddressSet(cfg.Validator.BlacklistedTokens)

	v := validator.NewValidator(validator.Config{
		AnchorTokens:      anchors,
		BlacklistedTokens: blacklistedTokens,
		MinLiquidityUSD:   cfg.Validator.MinLiquidityUSD,
	}, pool, validator.NewStaticBytecodeList(cfg.Validator.WhitelistedBytecodeHash), validator.NewShardedMap())

	decimals, err := tokenmeta.New(pool, nil)
	if err != nil {
		return fmt.Errorf("tokenmeta: %w", err)
	}

	var l3 statecache.L3
	if cfg.Cache.RedisURL != "" {
		redisL3, err := statecache.NewRedisL3(cfg.Cache.RedisURL, time.Duration(cfg.Performance.JitCacheTTLColdMs)*time.Millisecond*4)
		if err != nil {
			return fmt.Errorf("statecache: redis l3: %w", err)
		}
		defer redisL3.Close()
		l3 = redisL3
	}

	cache := statecache.New(statecache.Config{
		FuzzyBlockTolerance: uint64(cfg.Performance.JitCacheToleranceBlks),
		TTLHot:              time.Duration(cfg.Performance.JitCacheTTLHotMs) * time.Millisecond,
		TTLCold:             time.Duration(cfg.Performance.JitCacheTTLColdMs) * time.Millisecond,
		TouchedDecayBlocks:  3,
	}, st, registry, l3, cacheEventRecorder{rec: rec})

	priceFacade := priceusd.New(priceusd.Config{
		AnchorTokens:   addressSetToSlice(anchors),
		CriticalTokens: parseAddressSlice(cfg.Prices.CriticalTokens),
		RefreshPeriod:  time.Duration(cfg.Prices.RefreshSeconds) * time.Second,
	}, buildPriceSources(cfg, pool, cache, anchors)...)

	hotInterval, err := cfg.Graph.HotRefreshInterval()
	if err != nil {
		return fmt.Errorf("config: graph.hot_refresh_period: %w", err)
	}
	hot := hotpool.NewManager(hotpool.Config{
		KHot:         cfg.Graph.KHot,
		WHotMin:      cfg.Graph.WHotMin,
		BaseInterval: hotInterval,
	}, cache)

	engine := graph.New(graph.Config{
		MaxReasonableWeightUSD: cfg.Graph.MaxReasonableWeightUSD,
		PriceFetchChunkSize:    cfg.Performance.PriceFetchChunkSize,
		Parallelism:            cfg.Discovery.MaxParallelism,
		WHotMin:                cfg.Graph.WHotMin,
	}, st, cache, priceFacade, decimals, hot, writer, writer, weightEventRecorder{rec: rec})

	sched := scheduler.New()
	registerSchedulerTiers(sched, cfg, engine)

	workers, repairers := buildDiscoveryWorkers(cfg, registry, pool, v, st, writer, cache, priceFacade, rec)

	if err := engine.Prime(ctx, cfg.Graph.KHot); err != nil {
		log.Warn("priming pass failed, continuing with an empty graph", "err", err)
	}
	priceFacade.WarmUp(ctx)
	go hot.RunRefresh(ctx, hotInterval/10)

	for _, w := range workers {
		go w.Run(ctx)
	}
	for _, r := range repairers {
		go r.Run(ctx)
	}

	log.Info("dexgraph serving", "dexes", len(cfg.Dexes), "chain_id", cfg.ChainID)
	err = sched.Run(ctx)
	<-writer.Done()
	return err
}

// serveMetricsHTTP starts a best-effort /metrics exposition endpoint.
// Listen failures are logged, not fatal: an observability sink being down
// must never prevent discovery and pricing from running (spec.md §6
// "features.*": a disabled or failed optional surface degrades, it does
// not crash the process).
func serveMetricsHTTP(reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":9464", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Component("main").Warn("metrics http server stopped", "err", err)
		}
	}()
}

func registerSchedulerTiers(sched *scheduler.Scheduler, cfg *config.Config, engine *graph.Engine) {
	warmInterval, err := cfg.Graph.WarmRefreshInterval()
	if err != nil {
		warmInterval = time.Hour
	}
	sched.Register(&scheduler.Task{
		Name:                   "warm",
		Interval:               warmInterval,
		MaxConsecutiveFailures: 5,
		DisableFor:             10 * time.Minute,
		Run: func(ctx context.Context) error {
			ids := make([]chainmodel.Identity, 0)
			for _, w := range engine.All() {
				if w.WeightUSD >= cfg.Graph.WWarmMin && w.WeightUSD < cfg.Graph.WHotMin {
					ids = append(ids, w.Identity)
				}
			}
			return engine.IncrementalUpdate(ctx, ids)
		},
	})
	sched.Register(&scheduler.Task{
		Name:                   "full",
		NextFire:               scheduler.NextUTC(parseHourUTC(cfg.Graph.FullRefreshTimeUTC)),
		MaxConsecutiveFailures: 0, // best effort: a failed full refresh never disables the tier
		Run: func(ctx context.Context) error {
			return engine.FullRefresh(ctx)
		},
	})
}

func buildDiscoveryWorkers(cfg *config.Config, registry *dexadapter.Registry, pool *rpcpool.Pool, v *validator.Validator, st *store.Store, writer *store.Writer, cache *statecache.Cache, prices *priceusd.Facade, rec *recorder.Recorder) ([]*discovery.Worker, []*discovery.GapRepairer) {
	workers := make([]*discovery.Worker, 0, len(cfg.Dexes))
	repairers := make([]*discovery.GapRepairer, 0, len(cfg.Dexes))

	for _, d := range cfg.Dexes {
		adapter, ok := registry.Get(d.Tag)
		if !ok {
			continue
		}
		threshold := d.ActivationThresholdUSD
		if threshold == 0 {
			threshold = cfg.Validator.MinLiquidityUSD
		}
		w := discovery.NewWorker(discovery.Config{
			DexTag:                 d.Tag,
			ChunkBlocks:            cfg.Discovery.ChunkBlocks,
			MaxParallelism:         cfg.Discovery.MaxParallelism,
			IntervalPoll:           time.Duration(cfg.Discovery.IntervalSeconds) * time.Second,
			InitialBackfillBlock:   uint64(cfg.Discovery.InitialBackfillBlocks),
			ActivationThresholdUSD: threshold,
		}, adapter, pool, v, writer, writer, cache, prices, writer, discoveryTelemetryRecorder{rec: rec})
		workers = append(workers, w)

		repairers = append(repairers, discovery.NewGapRepairer(d.Tag, st, writer, time.Hour))
	}
	return workers, repairers
}

// anchorChain resolves an anchor token's USD price by falling through a
// fixed list of other sources (the oracle and the stable peg), letting
// poolderived be built
// before the full facade exists without creating an import cycle back
// onto the facade it will itself be registered into.
type anchorChain struct{ sources []priceusd.Source }

func (a anchorChain) USD(ctx context.Context, token common.Address) (float64, bool) {
	for _, s := range a.sources {
		if price, ok := s.Price(ctx, token); ok {
			return price, true
		}
	}
	return 0, false
}

func buildPriceSources(cfg *config.Config, pool *rpcpool.Pool, cache *statecache.Cache, anchors map[common.Address]struct{}) []priceusd.Source {
	var sources []priceusd.Source

	if src, err := onchainoracle.New(pool, nil); err == nil {
		sources = append(sources, src)
	} else {
		logging.Component("main").Warn("onchain oracle source disabled", "err", err)
	}

	peg := stablepeg.New(addressSetToSlice(anchors))

	sources = append(sources, poolderived.New(anchorChain{sources: append(append([]priceusd.Source{}, sources...), peg)}, cache, nil))

	if len(cfg.Prices.HTTPBaseURLs) > 0 {
		sources = append(sources, httpfeed.New(cfg.Prices.HTTPBaseURLs, 3*time.Second))
	}
	sources = append(sources, peg)
	return sources
}

func parseAddressSet(hexAddrs []string) map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, len(hexAddrs))
	for _, h := range hexAddrs {
		set[common.HexToAddress(h)] = struct{}{}
	}
	return set
}

func parseAddressSlice(hexAddrs []string) []common.Address {
	out := make([]common.Address, 0, len(hexAddrs))
	for _, h := range hexAddrs {
		out = append(out, common.HexToAddress(h))
	}
	return out
}

func addressSetToSlice(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

func parseHourUTC(hhmm string) int {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) == 0 {
		return 3
	}
	var hour int
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 3
	}
	return hour
}
