package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	routers := cfg.Quote.Routers()
	require.Len(t, routers, 2)
	assert.Equal(t, "PANCAKE", routers[0].Name)
	assert.Equal(t, common.HexToAddress(PancakeRouterV2), routers[0].Address)
	assert.Equal(t, "APESWAP", routers[1].Name)

	reg := cfg.Registry()
	wbnb := reg.WrappedNative().Address
	usdt, _ := reg.Lookup("USDT")
	assert.Equal(t, []common.Address{wbnb, usdt.Address}, cfg.Quote.HopAddresses())

	forced := cfg.Quote.ForcedHopRules()
	require.Len(t, forced, 1)
	gcc, _ := reg.Lookup("GCC")
	assert.Equal(t, gcc.Address, forced[0].A)
	assert.Equal(t, wbnb, forced[0].Via)

	assert.Equal(t, 5*time.Second, cfg.Quote.CallTimeout)
	assert.Equal(t, int64(300), cfg.Quote.SlippageBps)
	assert.Equal(t, 3, cfg.Price.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Price.Retry.BaseDelay)
	assert.Equal(t, 5, cfg.Price.Circuit.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Price.Circuit.OpenFor)
	assert.Equal(t, 25*time.Second, cfg.Price.ReadThroughTTL)
	assert.Equal(t, "pricebook:last_good", cfg.Cache.PriceKey)
	assert.Equal(t, 24*time.Hour, cfg.Cache.PriceTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SAFESWAP_HTTP_PORT", "9999")
	t.Setenv("SAFESWAP_CACHE_DURABLE", "none")
	t.Setenv("SAFESWAP_PRICE_DEXSCREENER_PAIR", "0xabc")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.HTTP.Port)
	assert.Equal(t, "none", cfg.Cache.Durable)
	assert.Equal(t, "0xabc", cfg.Price.DexScreenerPair)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
quote:
  routers:
    - name: apeswap
      address: "0xC0788A3aD43d79aa53B09c2EaCc313A787d1d607"
  hops: ["BNB"]
tokens:
  - symbol: CAKE
    address: "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82"
    decimals: 18
cache:
  durable: dynamodb
  dynamo_table: prices
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Quote.Routers(), 1)
	assert.Equal(t, "APESWAP", cfg.Quote.Routers()[0].Name)
	// BNB hop is stored as WBNB
	assert.Equal(t, []common.Address{cfg.Registry().WrappedNative().Address}, cfg.Quote.HopAddresses())

	cake, ok := cfg.Registry().Lookup("cake")
	require.True(t, ok)
	assert.Equal(t, uint8(18), cake.Decimals)
	assert.Equal(t, "prices", cfg.Cache.DynamoTable)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad log level", env: map[string]string{"SAFESWAP_OBSERVABILITY_LOGGING_LEVEL": "loud"}},
		{name: "bad durable", env: map[string]string{"SAFESWAP_CACHE_DURABLE": "memcached"}},
		{name: "slippage out of range", env: map[string]string{"SAFESWAP_QUOTE_SLIPPAGE_BPS": "10000"}},
		{name: "zero attempts", env: map[string]string{"SAFESWAP_PRICE_RETRY_MAX_ATTEMPTS": "0"}},
		{name: "unknown featured token", env: map[string]string{"SAFESWAP_PRICE_FEATURED_TOKEN": "DOGE"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SAFESWAP_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("SAFESWAP_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("SAFESWAP_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("SAFESWAP_TEST_DOTENV"))
}
