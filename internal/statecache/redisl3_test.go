package statecache

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

func TestNewRedisL3RejectsMalformedURL(t *testing.T) {
	_, err := NewRedisL3("not-a-redis-url", time.Minute)
	require.Error(t, err)
}

func TestNewRedisL3DefaultsTTLWhenNonPositive(t *testing.T) {
	l3, err := NewRedisL3("redis://localhost:6379/0", 0)
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, l3.ttl)
}

func TestRedisKeyIsStableForSameIdentity(t *testing.T) {
	id := chainmodel.Identity{ChainID: 1, Address: common.HexToAddress("0x01")}
	require.Equal(t, redisKey(id), redisKey(id))
	require.Contains(t, redisKey(id), "dexgraph:state:1:")
}
