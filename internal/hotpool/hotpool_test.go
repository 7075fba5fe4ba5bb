package hotpool

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

func id(n byte) chainmodel.Identity {
	return chainmodel.Identity{ChainID: 1, Address: common.BytesToAddress([]byte{n})}
}

func TestConsiderRejectsBelowWHotMin(t *testing.T) {
	m := NewManager(Config{KHot: 2, WHotMin: 1000}, nil)
	m.Consider(id(1), 500, nil, chainmodel.QualityFresh)
	require.False(t, m.Contains(id(1)))
}

func TestConsiderAdmitsUpToKHot(t *testing.T) {
	m := NewManager(Config{KHot: 2, WHotMin: 100}, nil)
	m.Consider(id(1), 1000, nil, chainmodel.QualityFresh)
	m.Consider(id(2), 2000, nil, chainmodel.QualityFresh)
	require.True(t, m.Contains(id(1)))
	require.True(t, m.Contains(id(2)))
	require.Len(t, m.Snapshot(), 2)
}

func TestConsiderReplacesTailWhenHigherWeight(t *testing.T) {
	m := NewManager(Config{KHot: 2, WHotMin: 100}, nil)
	m.Consider(id(1), 1000, nil, chainmodel.QualityFresh)
	m.Consider(id(2), 2000, nil, chainmodel.QualityFresh)
	m.Consider(id(3), 3000, nil, chainmodel.QualityFresh)

	require.False(t, m.Contains(id(1)), "lowest-weight member must be evicted")
	require.True(t, m.Contains(id(2)))
	require.True(t, m.Contains(id(3)))
}

func TestConsiderDoesNotReplaceTailWhenLowerWeight(t *testing.T) {
	m := NewManager(Config{KHot: 2, WHotMin: 100}, nil)
	m.Consider(id(1), 1000, nil, chainmodel.QualityFresh)
	m.Consider(id(2), 2000, nil, chainmodel.QualityFresh)
	m.Consider(id(3), 500, nil, chainmodel.QualityFresh)

	require.True(t, m.Contains(id(1)))
	require.True(t, m.Contains(id(2)))
	require.False(t, m.Contains(id(3)))
}

func TestConsiderUpdatesExistingMemberWeight(t *testing.T) {
	m := NewManager(Config{KHot: 2, WHotMin: 100}, nil)
	m.Consider(id(1), 1000, nil, chainmodel.QualityFresh)
	m.Consider(id(1), 1500, nil, chainmodel.QualityFresh)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, 1500.0, snap[0].Weight)
}

func TestRefreshIntervalDecreasesWithWeight(t *testing.T) {
	m := NewManager(Config{KHot: 10, WHotMin: 1000, BaseInterval: 30 * time.Second}, nil)
	atFloor := m.RefreshInterval(1000)
	doubled := m.RefreshInterval(2000)
	quadrupled := m.RefreshInterval(4000)

	require.Equal(t, 30*time.Second, atFloor)
	require.Less(t, doubled, atFloor)
	require.Less(t, quadrupled, doubled)
}

func TestRefreshIntervalBelowFloorUsesBase(t *testing.T) {
	m := NewManager(Config{KHot: 10, WHotMin: 1000, BaseInterval: 30 * time.Second}, nil)
	require.Equal(t, 30*time.Second, m.RefreshInterval(500))
}
