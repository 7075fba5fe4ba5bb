package onchainoracle

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPriceReturnsFalseForUnconfiguredToken(t *testing.T) {
	src, err := New(nil, map[common.Address]common.Address{})
	require.NoError(t, err)

	_, ok := src.Price(context.Background(), common.HexToAddress("0x01"))
	require.False(t, ok, "a token with no registered feed must never reach the RPC pool")
}

func TestNameReportsSourceIdentity(t *testing.T) {
	src, err := New(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "onchainoracle", src.Name())
}
