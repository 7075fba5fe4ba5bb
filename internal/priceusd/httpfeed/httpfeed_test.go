package httpfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPriceReturnsFirstSuccessfulBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(priceResponse{PriceUSD: 2500.5})
	}))
	defer srv.Close()

	s := New([]string{srv.URL}, time.Second)
	price, ok := s.Price(context.Background(), common.HexToAddress("0x01"))
	require.True(t, ok)
	require.Equal(t, 2500.5, price)
}

func TestPriceFallsThroughToNextBaseURLOnFailure(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(priceResponse{PriceUSD: 1.0})
	}))
	defer up.Close()

	s := New([]string{down.URL, up.URL}, time.Second)
	price, ok := s.Price(context.Background(), common.HexToAddress("0x01"))
	require.True(t, ok)
	require.Equal(t, 1.0, price)
}

func TestPriceReturnsFalseWhenEveryBaseURLFails(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer down.Close()

	s := New([]string{down.URL}, time.Second)
	_, ok := s.Price(context.Background(), common.HexToAddress("0x01"))
	require.False(t, ok)
}

func TestPriceRejectsNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(priceResponse{PriceUSD: 0})
	}))
	defer srv.Close()

	s := New([]string{srv.URL}, time.Second)
	_, ok := s.Price(context.Background(), common.HexToAddress("0x01"))
	require.False(t, ok)
}

func TestNewDefaultsTimeoutWhenNonPositive(t *testing.T) {
	s := New([]string{"http://example.invalid"}, 0)
	require.Equal(t, 3*time.Second, s.client.Timeout)
}
