package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agatticelli/safeswap-quoter/internal/platform/config"
	"github.com/agatticelli/safeswap-quoter/internal/pricefeed"
)

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestBuildSources_SkipsUnconfiguredWithWarning(t *testing.T) {
	cfg := &config.Config{Price: config.PriceConfig{
		Sources:         []string{"pricebook", "dexscreener", "coingecko"},
		DexScreenerURL:  "https://api.dexscreener.com/latest/dex/pairs/bsc/",
		DexScreenerPair: "0xpair",
	}}
	logger, logs := bufferLogger()
	upstream := pricefeed.NewUpstreamClient(pricefeed.UpstreamClientConfig{})

	sources, err := buildSources(cfg, config.DefaultRegistry(), config.TokenInfo{Symbol: "GCC"}, upstream, nil, logger)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "dexscreener", sources[0].Name())

	out := logs.String()
	assert.Contains(t, out, "skipping price source")
	assert.Contains(t, out, "source=pricebook")
	assert.Contains(t, out, "missing=price.pricebook_url")
	assert.Contains(t, out, "source=coingecko")
	assert.NotContains(t, out, "source=dexscreener")
}

func TestBuildSources_NothingUsable(t *testing.T) {
	cfg := &config.Config{Price: config.PriceConfig{Sources: []string{"pricebook"}}}
	logger, logs := bufferLogger()
	upstream := pricefeed.NewUpstreamClient(pricefeed.UpstreamClientConfig{})

	_, err := buildSources(cfg, config.DefaultRegistry(), config.TokenInfo{Symbol: "GCC"}, upstream, nil, logger)
	assert.ErrorContains(t, err, "no usable price source")
	assert.Contains(t, logs.String(), "source=pricebook")
}

func TestBuildSources_UnknownSource(t *testing.T) {
	cfg := &config.Config{Price: config.PriceConfig{Sources: []string{"binance"}}}
	logger, _ := bufferLogger()

	_, err := buildSources(cfg, config.DefaultRegistry(), config.TokenInfo{Symbol: "GCC"}, nil, nil, logger)
	assert.ErrorContains(t, err, "unknown price source: binance")
}
