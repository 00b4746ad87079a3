package quote

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const bpsDenominator = 10_000

// Default execution guards applied to the quoted output
const (
	DefaultSlippageBps      = 300
	DefaultReflectionPadBps = 200
)

// Quote is an executable route for a swap. Values are copied in on
// construction and must not be mutated afterwards.
type Quote struct {
	ID            string
	Router        string
	RouterAddress common.Address
	Path          Path
	SellAmount    *big.Int
	BuyAmount     *big.Int
	Amounts       []*big.Int // per-hop outputs, Amounts[0] == SellAmount
	Timestamp     time.Time
}

func newQuote(router Router, path Path, sellAmount *big.Int, amounts []*big.Int, now time.Time) *Quote {
	amts := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		amts[i] = new(big.Int).Set(a)
	}
	return &Quote{
		ID:            uuid.NewString(),
		Router:        router.Name,
		RouterAddress: router.Address,
		Path:          path.Clone(),
		SellAmount:    new(big.Int).Set(sellAmount),
		BuyAmount:     new(big.Int).Set(amts[len(amts)-1]),
		Amounts:       amts,
		Timestamp:     now,
	}
}

// MinBuyAmount applies slippage and then the transfer-tax pad to the quoted
// output, rounding down at each step. Out-of-range bps are clamped to
// [0, 10000].
func (q *Quote) MinBuyAmount(slippageBps, reflectionPadBps int64) *big.Int {
	out := new(big.Int).Set(q.BuyAmount)
	for _, bps := range []int64{slippageBps, reflectionPadBps} {
		bps = min(max(bps, 0), bpsDenominator)
		out.Mul(out, big.NewInt(bpsDenominator-bps))
		out.Quo(out, big.NewInt(bpsDenominator))
	}
	return out
}
