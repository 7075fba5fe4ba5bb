package tokenmeta

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDecimalsReturnsSeededDefaultWithoutRPC(t *testing.T) {
	weth := common.HexToAddress("0x01")
	r, err := New(nil, map[common.Address]int{weth: 18})
	require.NoError(t, err)

	dec, ok := r.Decimals(context.Background(), weth)
	require.True(t, ok)
	require.Equal(t, 18, dec)
}
