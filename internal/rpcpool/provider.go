package rpcpool

import (
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

// Provider is one configured chain-RPC endpoint. Local providers (loopback
// host) are preferred by the pool's selection order (spec.md §4.1).
type Provider struct {
	URL     string
	IsLocal bool

	rpc *rpc.Client
	eth *ethclient.Client

	breaker *breaker
	limiter *rate.Limiter

	mu          sync.Mutex
	lastLatency time.Duration
}

// newProvider builds a Provider. A non-positive requestsPerSecond disables
// client-side rate limiting for that endpoint (e.g. a local/trusted node),
// relying solely on the breaker for overload protection; a positive value
// throttles outgoing calls ahead of the provider's own limit so a single
// misbehaving consumer doesn't trip it and needlessly demote a healthy
// endpoint.
func newProvider(rawURL string, client *rpc.Client, cfg BreakerConfig, requestsPerSecond float64) *Provider {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Provider{
		URL:     rawURL,
		IsLocal: isLocalURL(rawURL),
		rpc:     client,
		eth:     ethclient.NewClient(client),
		breaker: newBreaker(cfg),
		limiter: rate.NewLimiter(limit, burst),
	}
}

func isLocalURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.HasPrefix(host, "127.")
}

func (p *Provider) recordLatency(d time.Duration) {
	p.mu.Lock()
	p.lastLatency = d
	p.mu.Unlock()
}

func (p *Provider) latency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLatency
}

// record folds a single call's outcome into the provider's breaker and
// latency tracker. success is false for any error; Fatal errors still count
// against the failure-rate window since a consistently misbehaving
// provider should still be demoted.
func (p *Provider) record(success bool, latency time.Duration) {
	p.recordLatency(latency)
	p.breaker.RecordResult(success, latency)
}
