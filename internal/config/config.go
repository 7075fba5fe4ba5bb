// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads and validates the single configuration document
// described in spec.md §6, using spf13/viper (the teacher's direct
// dependency) for YAML + environment-variable overlay.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RPC configures the provider pool (spec.md §4.1, §6 "rpc.*").
type RPC struct {
	HTTPURLs          []string `mapstructure:"http_urls"`
	WSURLs            []string `mapstructure:"ws_urls"`
	MaxConcurrency    int      `mapstructure:"max_concurrency"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
}

// Discovery configures the orchestrator's pacing (spec.md §4.4, §6 "discovery.*").
type Discovery struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	ChunkBlocks           int `mapstructure:"chunk_blocks"`
	InitialBackfillBlocks int `mapstructure:"initial_backfill_blocks"`
	MaxParallelism        int `mapstructure:"max_parallelism"`
}

// Validator configures validation thresholds (spec.md §4.3, §6 "validator.*").
type Validator struct {
	AnchorTokens            []string `mapstructure:"anchor_tokens"`
	BlacklistedTokens       []string `mapstructure:"blacklisted_tokens"`
	WhitelistedBytecodeHash []string `mapstructure:"whitelisted_bytecode_hashes"`
	MinLiquidityUSD         float64  `mapstructure:"min_liquidity_usd"`
	MaxPriceDeviationBps    int      `mapstructure:"max_price_deviation_bps"`
}

// Performance configures hot-path tuning (spec.md §4.5, §6 "performance.*").
type Performance struct {
	MulticallBatchSize    int `mapstructure:"multicall_batch_size"`
	JitCacheToleranceBlks int `mapstructure:"jit_cache_tolerance_blocks"`
	JitCacheTTLHotMs      int `mapstructure:"jit_cache_ttl_hot_ms"`
	JitCacheTTLColdMs     int `mapstructure:"jit_cache_ttl_cold_ms"`
	PriceFetchChunkSize   int `mapstructure:"price_fetch_chunk_size"`
}

// Graph configures the scheduler and weight bounds (spec.md §4.7, §6 "graph.*").
type Graph struct {
	UpdateIntervalSeconds int     `mapstructure:"update_interval_seconds"`
	HotRefreshPeriod      string  `mapstructure:"hot_refresh_period"`
	WarmRefreshPeriod     string  `mapstructure:"warm_refresh_period"`
	FullRefreshTimeUTC    string  `mapstructure:"full_refresh_time_utc"` // "HH:MM"
	KHot                  int     `mapstructure:"k_hot"`
	WHotMin               float64 `mapstructure:"w_hot_min"`
	WWarmMin              float64 `mapstructure:"w_warm_min"`
	MaxReasonableWeightUSD float64 `mapstructure:"max_reasonable_weight_usd"`
}

// Features toggles optional behaviors (spec.md §6 "features.*"). A disabled
// toggle must produce functional degradation, never a failure to start.
type Features struct {
	WebsocketBlocks   bool `mapstructure:"websocket_blocks"`
	PollingFallback   bool `mapstructure:"polling_fallback"`
	EventIndexing     bool `mapstructure:"event_indexing"`
	PriceFallbackChain bool `mapstructure:"price_fallback_chain"`
	MerkleCache       bool `mapstructure:"merkle_cache"`
	StreamingMulticall bool `mapstructure:"streaming_multicall"`
}

// Store configures the persistence adapter.
type Store struct {
	URL          string `mapstructure:"url"`
	MaxConns     int32  `mapstructure:"max_conns"`
	BatchSize    int    `mapstructure:"batch_size"`
	FlushMillis  int    `mapstructure:"flush_millis"`
}

// Cache configures the optional L3 distributed tier.
type Cache struct {
	RedisURL string `mapstructure:"redis_url"`
}

// Prices configures the off-chain price sources.
type Prices struct {
	HTTPBaseURLs        []string `mapstructure:"http_base_urls"`
	CriticalTokens      []string `mapstructure:"critical_tokens"`
	RefreshSeconds      int      `mapstructure:"refresh_seconds"`
}

// Recorder configures the event recorder's sink.
type Recorder struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Dex names one registered dex_tag and the adapter it routes to (spec.md
// §4.2: "a DEX's clones are configuration, not new adapter code").
type Dex struct {
	Tag      string `mapstructure:"tag"`
	Protocol string `mapstructure:"protocol"` // constant_product | concentrated_liquidity | weighted | stableswap
	Factory  string `mapstructure:"factory"`
	// ActivationThresholdUSD overrides validator.min_liquidity_usd for the
	// is_active economic-activity test (spec.md §4.4 step 5). Zero falls
	// back to Validator.MinLiquidityUSD.
	ActivationThresholdUSD float64 `mapstructure:"activation_threshold_usd"`
}

// Config is the top-level configuration document (spec.md §6).
type Config struct {
	ChainID     uint64      `mapstructure:"chain_id"`
	RPC         RPC         `mapstructure:"rpc"`
	Discovery   Discovery   `mapstructure:"discovery"`
	Validator   Validator   `mapstructure:"validator"`
	Performance Performance `mapstructure:"performance"`
	Graph       Graph       `mapstructure:"graph"`
	Features    Features    `mapstructure:"features"`
	Store       Store       `mapstructure:"store"`
	Cache       Cache       `mapstructure:"cache"`
	Prices      Prices      `mapstructure:"prices"`
	Recorder    Recorder    `mapstructure:"recorder"`
	Dexes       []Dex       `mapstructure:"dexes"`
}

// Load reads a configuration document from path (YAML), overlaying any
// DEXGRAPH_-prefixed environment variables, and applies defaults for
// anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)
	v.SetEnvPrefix("dexgraph")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("rpc.max_concurrency", 32)
	v.SetDefault("discovery.interval_seconds", 15)
	v.SetDefault("discovery.chunk_blocks", 1000)
	v.SetDefault("discovery.initial_backfill_blocks", 500_000)
	v.SetDefault("discovery.max_parallelism", 4)
	v.SetDefault("validator.min_liquidity_usd", 1000.0)
	v.SetDefault("validator.max_price_deviation_bps", 500)
	v.SetDefault("performance.multicall_batch_size", 200)
	v.SetDefault("performance.jit_cache_tolerance_blocks", 3)
	v.SetDefault("performance.jit_cache_ttl_hot_ms", 30_000)
	v.SetDefault("performance.jit_cache_ttl_cold_ms", 300_000)
	v.SetDefault("performance.price_fetch_chunk_size", 20)
	v.SetDefault("graph.update_interval_seconds", 30)
	v.SetDefault("graph.hot_refresh_period", "30m")
	v.SetDefault("graph.warm_refresh_period", "1h")
	v.SetDefault("graph.full_refresh_time_utc", "03:00")
	v.SetDefault("graph.k_hot", 50)
	v.SetDefault("graph.w_hot_min", 1e5)
	v.SetDefault("graph.w_warm_min", 1e4)
	v.SetDefault("graph.max_reasonable_weight_usd", 1e13)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.batch_size", 1000)
	v.SetDefault("store.flush_millis", 100)
	v.SetDefault("prices.refresh_seconds", 5)
	v.SetDefault("recorder.enabled", true)
	v.SetDefault("recorder.dir", "./events")
	v.SetDefault("features.event_indexing", true)
	v.SetDefault("features.polling_fallback", true)
	v.SetDefault("features.price_fallback_chain", true)
}

// Validate checks the document for internal consistency beyond type
// checking. It never fails startup for a missing optional toggle (spec.md
// §6); it fails only for configuration that can never produce a working
// instance.
func (c *Config) Validate() error {
	if len(c.RPC.HTTPURLs) == 0 && len(c.RPC.WSURLs) == 0 {
		return fmt.Errorf("config: at least one rpc.http_urls or rpc.ws_urls entry is required")
	}
	if c.Store.URL == "" {
		return fmt.Errorf("config: store.url is required")
	}
	if c.Graph.WWarmMin > c.Graph.WHotMin {
		return fmt.Errorf("config: graph.w_warm_min must be <= graph.w_hot_min")
	}
	if len(c.Dexes) == 0 {
		return fmt.Errorf("config: at least one dexes[] entry is required")
	}
	return nil
}

// HotRefreshInterval parses Graph.HotRefreshPeriod.
func (g Graph) HotRefreshInterval() (time.Duration, error) {
	return time.ParseDuration(g.HotRefreshPeriod)
}

// WarmRefreshInterval parses Graph.WarmRefreshPeriod.
func (g Graph) WarmRefreshInterval() (time.Duration, error) {
	return time.ParseDuration(g.WarmRefreshPeriod)
}
