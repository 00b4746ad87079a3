package quote

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuote_MinBuyAmount(t *testing.T) {
	q := newQuote(Router{Name: "PANCAKE"}, Path{gcc, usdt}, big.NewInt(100),
		[]*big.Int{big.NewInt(100), big.NewInt(1_000_000)}, time.Unix(0, 0))

	tests := []struct {
		name     string
		slippage int64
		pad      int64
		want     int64
	}{
		{name: "defaults", slippage: DefaultSlippageBps, pad: DefaultReflectionPadBps, want: 950_600},
		{name: "no guards", slippage: 0, pad: 0, want: 1_000_000},
		{name: "full slippage", slippage: 10_000, pad: 0, want: 0},
		{name: "negative clamps to zero", slippage: -5, pad: 0, want: 1_000_000},
		{name: "rounds down", slippage: 1, pad: 1, want: 999_800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, big.NewInt(tt.want), q.MinBuyAmount(tt.slippage, tt.pad))
		})
	}
}

func TestQuote_CopiesAmounts(t *testing.T) {
	sell := big.NewInt(100)
	amounts := []*big.Int{big.NewInt(100), big.NewInt(50), big.NewInt(200)}
	path := Path{gcc, wbnb, usdt}

	q := newQuote(Router{Name: "A"}, path, sell, amounts, time.Now())
	sell.SetInt64(1)
	amounts[2].SetInt64(1)
	path[1] = sol

	assert.Equal(t, int64(100), q.SellAmount.Int64())
	assert.Equal(t, int64(200), q.BuyAmount.Int64())
	assert.Equal(t, wbnb, q.Path[1])
	assert.NotEmpty(t, q.ID)
}
