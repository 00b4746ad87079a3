package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Well-known BSC mainnet addresses
const (
	PancakeRouterV2 = "0x10ED43C718714eb63d5aA57B78B54704E256024E"
	ApeSwapRouter   = "0xC0788A3aD43d79aa53B09c2EaCc313A787d1d607"

	// NativeSentinel stands in for BNB in token-address positions
	NativeSentinel = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
)

// TokenInfo contains token metadata
type TokenInfo struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
	Native   bool // BNB itself; swaps route through WBNB
	Stable   bool
}

// Registry maps symbols and addresses to tokens. Lookups are
// case-insensitive for both.
type Registry struct {
	mu        sync.RWMutex
	bySymbol  map[string]TokenInfo
	byAddress map[common.Address]TokenInfo
	wrapped   TokenInfo
}

var defaultTokens = []TokenInfo{
	{Symbol: "BNB", Address: common.HexToAddress(NativeSentinel), Decimals: 18, Native: true},
	{Symbol: "WBNB", Address: common.HexToAddress("0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"), Decimals: 18},
	{Symbol: "GCC", Address: common.HexToAddress("0x092aC429b9c3450c9909433eB0662c3b7c13cF9A"), Decimals: 18},
	{Symbol: "BTCB", Address: common.HexToAddress("0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c"), Decimals: 18},
	{Symbol: "USDT", Address: common.HexToAddress("0x55d398326f99059fF775485246999027B3197955"), Decimals: 18, Stable: true},
	{Symbol: "SOL", Address: common.HexToAddress("0x22ADBeC2ce1022060b2abe12A168B5AC0416dd6B"), Decimals: 18},
}

// DefaultRegistry returns a fresh registry seeded with the BSC tokens the
// quoter routes through
func DefaultRegistry() *Registry {
	r := &Registry{
		bySymbol:  make(map[string]TokenInfo),
		byAddress: make(map[common.Address]TokenInfo),
	}
	for _, t := range defaultTokens {
		r.Register(t)
	}
	r.wrapped = r.bySymbol["WBNB"]
	return r
}

// Register adds or replaces a token
func (r *Registry) Register(t TokenInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sym := strings.ToUpper(t.Symbol)
	if old, ok := r.bySymbol[sym]; ok {
		delete(r.byAddress, old.Address)
	}
	t.Symbol = sym
	r.bySymbol[sym] = t
	r.byAddress[t.Address] = t
}

// Lookup finds a token by symbol or hex address
func (r *Registry) Lookup(symbolOrAddress string) (TokenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := strings.TrimSpace(symbolOrAddress)
	if common.IsHexAddress(s) {
		t, ok := r.byAddress[common.HexToAddress(s)]
		return t, ok
	}
	t, ok := r.bySymbol[strings.ToUpper(s)]
	return t, ok
}

// LookupAddress finds a token by address
func (r *Registry) LookupAddress(addr common.Address) (TokenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAddress[addr]
	return t, ok
}

// Resolve is Lookup with an error for unknown symbols. Unknown but
// well-formed addresses resolve to a token with only Address set;
// callers fill decimals from chain.
func (r *Registry) Resolve(symbolOrAddress string) (TokenInfo, error) {
	if t, ok := r.Lookup(symbolOrAddress); ok {
		return t, nil
	}
	s := strings.TrimSpace(symbolOrAddress)
	if common.IsHexAddress(s) {
		return TokenInfo{Address: common.HexToAddress(s)}, nil
	}
	return TokenInfo{}, fmt.Errorf("unknown token: %s", symbolOrAddress)
}

// Wrapped maps the native token to WBNB and leaves everything else as is
func (r *Registry) Wrapped(t TokenInfo) TokenInfo {
	if t.Native {
		return r.wrapped
	}
	return t
}

// WrappedNative returns the WBNB entry
func (r *Registry) WrappedNative() TokenInfo {
	return r.wrapped
}

// All returns every registered token ordered by symbol
func (r *Registry) All() []TokenInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TokenInfo, 0, len(r.bySymbol))
	for _, t := range r.bySymbol {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
