package rpcpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewProviderUnlimitedByDefault(t *testing.T) {
	p := newProvider("https://rpc.example.com", nil, DefaultBreakerConfig(), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.limiter.Wait(ctx))
	}
}

func TestNewProviderThrottlesAboveConfiguredRate(t *testing.T) {
	p := newProvider("https://rpc.example.com", nil, DefaultBreakerConfig(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	require.NoError(t, p.limiter.Wait(context.Background()))
	require.NoError(t, p.limiter.Wait(context.Background()))
	err := p.limiter.Wait(ctx)
	require.Error(t, err, "third call within the burst window must wait past the context deadline")
}

func TestIsLocalURLDetectsLoopback(t *testing.T) {
	require.True(t, isLocalURL("http://localhost:8545"))
	require.True(t, isLocalURL("http://127.0.0.1:8545"))
	require.False(t, isLocalURL("https://mainnet.infura.io/v3/key"))
}
