package chainmodel

import "time"

// Weight is the dollar-denominated liquidity weight of a pool (spec.md §3
// "PoolWeight"). WeightUSD is always in [0, maxReasonableWeightUSD], finite,
// and non-NaN by the time it reaches this struct — graph.toUSD is the only
// place that clamp is applied.
type Weight struct {
	Identity          Identity
	WeightUSD         float64
	LastComputedBlock uint64
	LastUpdatedAt     time.Time
}

// CursorMode is the two-state mode of a DexCursor.
type CursorMode uint8

const (
	ModeForward CursorMode = iota
	ModeBackfill
)

func (m CursorMode) String() string {
	if m == ModeBackfill {
		return "backfill"
	}
	return "forward"
}

// Cursor is the per-DEX progress marker (spec.md §3 "DexCursor").
type Cursor struct {
	DexTag        string
	LastProcessed uint64
	Mode          CursorMode
	UpdatedAt     time.Time
}

// Event is a processed pool-creation event (spec.md §3 "EventRecord").
type Event struct {
	DexTag   string
	Block    uint64
	LogIndex uint32
	Pool     Identity
	Factory  [20]byte
}

// ScanWindow records one discovery cycle's scanned block range for a DEX,
// independent of whether any pool-creation event fell inside it. Gap repair
// walks these to find abandoned ranges, since pool creations are far too
// sparse on their own to stand in for scan continuity.
type ScanWindow struct {
	DexTag string
	From   uint64
	To     uint64
}
