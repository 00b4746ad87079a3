package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(timeout time.Duration) *UpstreamClient {
	return NewUpstreamClient(UpstreamClientConfig{
		Timeout:        timeout,
		RateLimitRPM:   60000,
		RateLimitBurst: 100,
	})
}

func TestUpstreamClient_Success(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"pairs":[{"priceUsd":"0.12","priceNative":"0.0002"}]}`))
	}))
	defer srv.Close()

	src := HTTPSource{SourceName: "dexscreener", URL: srv.URL, Parser: DexScreenerParser{}, Client: newTestClient(time.Second)}
	p, err := src.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, UserAgent, gotUA)
	assert.Equal(t, "dexscreener", p.Source)
	assert.InDelta(t, 0.12, p.USD, 1e-12)
}

func TestUpstreamClient_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	src := HTTPSource{SourceName: "pricebook", URL: srv.URL, Parser: PricebookParser{Symbol: "GCC"}, Client: newTestClient(time.Second)}
	_, err := src.Fetch(context.Background())

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadGateway, upErr.Status)
	assert.Equal(t, "pricebook", upErr.Source)
}

func TestUpstreamClient_BadSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pairs":[]}`))
	}))
	defer srv.Close()

	src := HTTPSource{SourceName: "dexscreener", URL: srv.URL, Parser: DexScreenerParser{}, Client: newTestClient(time.Second)}
	_, err := src.Fetch(context.Background())

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, ErrBadSchema)
}

func TestUpstreamClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src := HTTPSource{SourceName: "slow", URL: srv.URL, Parser: DexScreenerParser{}, Client: newTestClient(30 * time.Millisecond)}

	start := time.Now()
	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUpstreamClient_RateLimitedBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(time.Second)
	before := client.limiter.CurrentRate()

	src := HTTPSource{SourceName: "dexscreener", URL: srv.URL, Parser: DexScreenerParser{}, Client: client}
	_, err := src.Fetch(context.Background())

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusTooManyRequests, upErr.Status)
	assert.Less(t, client.limiter.CurrentRate(), before)
}

func TestUpstreamClient_MissingParser(t *testing.T) {
	src := HTTPSource{SourceName: "x", URL: "http://127.0.0.1:1", Client: newTestClient(time.Second)}
	_, err := src.Fetch(context.Background())
	var upErr *UpstreamError
	assert.ErrorAs(t, err, &upErr)
}

func TestService_PricebookWithoutFeaturedTokenFallsThrough(t *testing.T) {
	pricebook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tokens":[{"symbol":"WBNB","usd":600}]}`))
	}))
	defer pricebook.Close()
	dex := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pairs":[{"priceUsd":"0.12","priceNative":"0.0002"}]}`))
	}))
	defer dex.Close()

	client := newTestClient(time.Second)
	svc := newTestService(t, newFakeClock(),
		HTTPSource{SourceName: "pricebook", URL: pricebook.URL, Parser: PricebookParser{Symbol: "GCC"}, Client: client},
		HTTPSource{SourceName: "dexscreener", URL: dex.URL, Parser: DexScreenerParser{}, Client: client},
	)

	res, err := svc.GetPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dexscreener", res.Source)
	assert.False(t, res.Stale)
	assert.InDelta(t, 0.12, res.USD, 1e-12)
}
