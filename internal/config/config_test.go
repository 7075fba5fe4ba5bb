package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalYAML = `
chain_id: 1
rpc:
  http_urls: ["https://rpc.example.com"]
store:
  url: "postgres://localhost/dexgraph"
dexes:
  - tag: "univ2"
    protocol: "constant_product"
    factory: "0x0000000000000000000000000000000000000001"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 32, cfg.RPC.MaxConcurrency)
	require.Equal(t, 1000, cfg.Discovery.ChunkBlocks)
	require.Equal(t, "30m", cfg.Graph.HotRefreshPeriod)
	require.Equal(t, 1000.0, cfg.Validator.MinLiquidityUSD)
	require.True(t, cfg.Recorder.Enabled)
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	yaml := minimalYAML + "\ngraph:\n  hot_refresh_period: \"5m\"\n"
	path := writeTempConfig(t, yaml)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "5m", cfg.Graph.HotRefreshPeriod)
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("DEXGRAPH_STORE_URL", "postgres://env-override/dexgraph")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://env-override/dexgraph", cfg.Store.URL)
}

func TestLoadFailsWhenNoRPCEndpointConfigured(t *testing.T) {
	yaml := `
chain_id: 1
store:
  url: "postgres://localhost/dexgraph"
dexes:
  - tag: "univ2"
    protocol: "constant_product"
    factory: "0x01"
`
	path := writeTempConfig(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadFailsWhenNoDexesConfigured(t *testing.T) {
	yaml := `
chain_id: 1
rpc:
  http_urls: ["https://rpc.example.com"]
store:
  url: "postgres://localhost/dexgraph"
`
	path := writeTempConfig(t, yaml)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsWarmWeightFloorAboveHotFloor(t *testing.T) {
	cfg := &Config{
		RPC:   RPC{HTTPURLs: []string{"https://rpc.example.com"}},
		Store: Store{URL: "postgres://localhost/dexgraph"},
		Graph: Graph{WHotMin: 100, WWarmMin: 200},
		Dexes: []Dex{{Tag: "univ2", Protocol: "constant_product"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestHotAndWarmRefreshIntervalParseConfiguredDurations(t *testing.T) {
	g := Graph{HotRefreshPeriod: "15m", WarmRefreshPeriod: "2h"}
	hot, err := g.HotRefreshInterval()
	require.NoError(t, err)
	require.Equal(t, "15m0s", hot.String())

	warm, err := g.WarmRefreshInterval()
	require.NoError(t, err)
	require.Equal(t, "2h0m0s", warm.String())
}
