package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/agatticelli/safeswap-quoter/internal/quote"
)

// QuoteResolver is the part of quote.Resolver the on-chain source needs
type QuoteResolver interface {
	Resolve(ctx context.Context, sell, buy common.Address, sellAmount *big.Int) (*quote.Quote, error)
}

// OnChainToken is a token address with its decimals
type OnChainToken struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// OnChainSource prices one whole token by quoting it against a USD stable
// and the wrapped native token on the configured routers
type OnChainSource struct {
	resolver QuoteResolver
	token    OnChainToken
	stable   OnChainToken
	native   OnChainToken
}

// NewOnChainSource creates an on-chain price source
func NewOnChainSource(resolver QuoteResolver, token, stable, native OnChainToken) *OnChainSource {
	return &OnChainSource{resolver: resolver, token: token, stable: stable, native: native}
}

// Name implements Source.
func (s *OnChainSource) Name() string { return "onchain" }

type onChainDoc struct {
	Token     string `json:"token"`
	USD       string `json:"usd"`
	Native    string `json:"native,omitempty"`
	USDRouter string `json:"usdRouter"`
	USDPath   string `json:"usdPath"`
}

// Fetch implements Source. The USD leg is required; the native leg is
// reported when it resolves.
func (s *OnChainSource) Fetch(ctx context.Context) (PricePayload, error) {
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.token.Decimals)), nil)

	var usdQuote, nativeQuote *quote.Quote
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := s.resolver.Resolve(gctx, s.token.Address, s.stable.Address, one)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", s.token.Symbol, s.stable.Symbol, err)
		}
		usdQuote = q
		return nil
	})
	g.Go(func() error {
		q, err := s.resolver.Resolve(gctx, s.token.Address, s.native.Address, one)
		if err == nil {
			nativeQuote = q
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return PricePayload{}, &UpstreamError{Source: s.Name(), Err: err}
	}

	usd := decimal.NewFromBigInt(usdQuote.BuyAmount, -int32(s.stable.Decimals))
	doc := onChainDoc{
		Token:     s.token.Symbol,
		USD:       usd.String(),
		USDRouter: usdQuote.Router,
		USDPath:   usdQuote.Path.String(),
	}
	p := PricePayload{
		USD:         usd.InexactFloat64(),
		Source:      s.Name(),
		SchemaValid: true,
	}
	if nativeQuote != nil {
		native := decimal.NewFromBigInt(nativeQuote.BuyAmount, -int32(s.native.Decimals))
		doc.Native = native.String()
		p.Native, p.HasNative = native.InexactFloat64(), true
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return PricePayload{}, &UpstreamError{Source: s.Name(), Err: err}
	}
	p.Data = data
	return p, nil
}
