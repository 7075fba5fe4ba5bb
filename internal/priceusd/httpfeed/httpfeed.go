// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package httpfeed is the price facade's off-chain source (spec.md §4.8):
// queried via plain net/http against a set of configured base URLs, tried
// in order until one answers. No HTTP client library in the corpus does
// anything net/http doesn't already do better for a single GET-with-
// timeout — this is the justified standard-library case.
package httpfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luxfi/dexgraph/internal/logging"
)

// Source queries a list of HTTP price endpoints, each expected to serve
// GET {baseURL}/price/{address} -> {"price_usd": float64}.
type Source struct {
	baseURLs []string
	client   *http.Client
	log      logging.Logger
}

// New builds an httpfeed source. timeout bounds every individual request.
// Price performs its HTTP requests inline: when the facade falls through to
// this source, the caller waits for them, up to timeout per base URL.
func New(baseURLs []string, timeout time.Duration) *Source {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Source{
		baseURLs: baseURLs,
		client:   &http.Client{Timeout: timeout},
		log:      logging.Component("priceusd.httpfeed"),
	}
}

func (s *Source) Name() string { return "httpfeed" }

type priceResponse struct {
	PriceUSD float64 `json:"price_usd"`
}

// Price tries each base URL in order, returning the first successful
// decode. A malformed or failing endpoint is logged and skipped, not
// treated as fatal.
func (s *Source) Price(ctx context.Context, token common.Address) (float64, bool) {
	for _, base := range s.baseURLs {
		url := fmt.Sprintf("%s/price/%s", strings.TrimRight(base, "/"), token.Hex())
		price, ok := s.fetchOne(ctx, url)
		if ok {
			return price, true
		}
	}
	return 0, false
}

func (s *Source) fetchOne(ctx context.Context, url string) (float64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("httpfeed request failed", "url", url, "err", err)
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.log.Warn("httpfeed non-200 response", "url", url, "status", resp.StatusCode)
		return 0, false
	}
	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.log.Warn("httpfeed decode failed", "url", url, "err", err)
		return 0, false
	}
	if body.PriceUSD <= 0 {
		return 0, false
	}
	return body.PriceUSD, true
}
