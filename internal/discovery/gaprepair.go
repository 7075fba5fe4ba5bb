package discovery

import (
	"context"
	"sort"
	"time"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/logging"
)

// ScanCoverageReader reads back the recorded scan-window history used to
// find gaps. A gap is a hole between two recorded [from, to) windows for a
// given dex_tag — pool-creation events themselves are far too sparse on a
// real chain to stand in for scan continuity (spec.md §4.4).
type ScanCoverageReader interface {
	ScanWindowsSince(ctx context.Context, dexTag string, sinceBlock uint64) ([]chainmodel.ScanWindow, error)
}

// GapRepairer runs a low-frequency scan per DEX looking for abandoned block
// ranges in the scan-window history and, on finding one, rewinds the
// shared DexCursor into backfill mode so the forward-scanning Worker
// re-ingests the hole on its own next cycle (spec.md §4.4's gap-repair
// remedy). It is a separate goroutine from Worker, sharing only the
// cursor and scan-coverage stores.
type GapRepairer struct {
	dexTag   string
	coverage ScanCoverageReader
	cursors  CursorStore
	interval time.Duration
	log      logging.Logger
}

// NewGapRepairer constructs a gap repairer for one DEX tag.
func NewGapRepairer(dexTag string, coverage ScanCoverageReader, cursors CursorStore, interval time.Duration) *GapRepairer {
	return &GapRepairer{
		dexTag:   dexTag,
		coverage: coverage,
		cursors:  cursors,
		interval: interval,
		log:      logging.Component("gaprepair").With("dex", dexTag),
	}
}

// Run loops on its own ticker, independent of the forward-scan Worker's
// poll interval, until ctx is canceled.
func (g *GapRepairer) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.scan(ctx); err != nil {
				g.log.Error("gap scan failed", "err", err)
			}
		}
	}
}

// scan pulls recorded scan-window history, finds the earliest hole between
// two windows, and rewinds the dex's cursor to the hole's start in
// backfill mode. A cursor already in backfill mode is left untouched: a
// prior repair is still in flight and rewinding again would discard its
// progress.
func (g *GapRepairer) scan(ctx context.Context) error {
	windows, err := g.coverage.ScanWindowsSince(ctx, g.dexTag, 0)
	if err != nil {
		return err
	}
	if len(windows) < 2 {
		return nil
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].From < windows[j].From })

	var gapFrom uint64
	found := false
	for i := 1; i < len(windows); i++ {
		if windows[i].From > windows[i-1].To {
			gapFrom = windows[i-1].To
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	cursor, err := g.cursors.LoadCursor(ctx, g.dexTag)
	if err != nil {
		return err
	}
	if cursor.Mode == chainmodel.ModeBackfill {
		return nil
	}

	g.log.Warn("scan coverage gap detected, rewinding cursor into backfill", "gap_from", gapFrom, "previous_last_processed", cursor.LastProcessed)
	cursor.LastProcessed = gapFrom
	cursor.Mode = chainmodel.ModeBackfill
	cursor.UpdatedAt = time.Now()
	return g.cursors.SaveCursor(ctx, cursor)
}
