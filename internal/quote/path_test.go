package quote

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

var (
	gcc  = common.HexToAddress("0x092aC429b9c3450c9909433eB0662c3b7c13cF9A")
	wbnb = common.HexToAddress("0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	btcb = common.HexToAddress("0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c")
	usdt = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	sol  = common.HexToAddress("0x22ADBeC2ce1022060b2abe12A168B5AC0416dd6B")
)

func defaultOpts() PathOptions {
	return PathOptions{
		WrappedNative: wbnb,
		ForcedHops:    []ForcedHop{{A: gcc, B: btcb, Via: wbnb}},
	}
}

func TestBuildPaths_DirectAlwaysFirst(t *testing.T) {
	hopSets := [][]common.Address{
		nil,
		{wbnb},
		{usdt, wbnb},
		{sol, usdt, wbnb, btcb},
	}
	pairs := [][2]common.Address{
		{gcc, usdt}, {usdt, gcc}, {gcc, btcb}, {btcb, gcc}, {sol, wbnb}, {NativeSentinel, gcc},
	}

	for _, hops := range hopSets {
		for _, pair := range pairs {
			paths := BuildPaths(pair[0], pair[1], hops, defaultOpts())
			if assert.NotEmpty(t, paths) {
				assert.Len(t, paths[0], 2, "first path must be direct")
			}
		}
	}
}

func TestBuildPaths_GenericHops(t *testing.T) {
	paths := BuildPaths(gcc, usdt, []common.Address{wbnb, usdt, sol}, defaultOpts())

	assert.Equal(t, []Path{
		{gcc, usdt},
		{gcc, wbnb, usdt},
		{gcc, sol, usdt}, // usdt skipped because it is the buy token
	}, paths)
}

func TestBuildPaths_ForcedHopAheadOfGeneric(t *testing.T) {
	for _, pair := range [][2]common.Address{{gcc, btcb}, {btcb, gcc}} {
		paths := BuildPaths(pair[0], pair[1], []common.Address{usdt, wbnb}, defaultOpts())

		assert.Equal(t, []Path{
			{pair[0], pair[1]},
			{pair[0], wbnb, pair[1]},
			{pair[0], usdt, pair[1]},
		}, paths, "forced WBNB hop then USDT, WBNB not duplicated")
	}
}

func TestBuildPaths_NativeNormalized(t *testing.T) {
	paths := BuildPaths(NativeSentinel, gcc, []common.Address{wbnb, usdt}, defaultOpts())

	assert.Equal(t, []Path{
		{wbnb, gcc},
		{wbnb, usdt, gcc},
	}, paths)
}

func TestBuildPaths_InvalidPairs(t *testing.T) {
	opts := defaultOpts()
	assert.Empty(t, BuildPaths(common.Address{}, gcc, nil, opts))
	assert.Empty(t, BuildPaths(gcc, common.Address{}, nil, opts))
	assert.Empty(t, BuildPaths(gcc, gcc, nil, opts))
	assert.Empty(t, BuildPaths(NativeSentinel, wbnb, nil, opts), "BNB and WBNB are the same token after wrapping")
}

func TestPathBuilder_CopiesInputs(t *testing.T) {
	hops := []common.Address{wbnb}
	b := NewPathBuilder(hops, defaultOpts())
	hops[0] = sol

	assert.Equal(t, []Path{{gcc, usdt}, {gcc, wbnb, usdt}}, b.Build(gcc, usdt))
	assert.Equal(t, wbnb, b.WrappedNative())
}

func TestPath_String(t *testing.T) {
	p := Path{gcc, wbnb}
	assert.Equal(t, "0x092a..cf9a>0xbb4c..095c", strings.ToLower(p.String()))
	assert.Equal(t, 1, p.Hops())
}
