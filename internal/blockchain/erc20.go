package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/agatticelli/safeswap-quoter/internal/platform/cache"
	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
)

const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

// metadataReadTimeout bounds one shared chain read of a token's metadata
const metadataReadTimeout = 10 * time.Second

// ContractCaller performs read-only contract calls
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenMetadata is what the quoter needs to convert human amounts
type TokenMetadata struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// TokenReader reads ERC20 decimals and symbol, caching results.
// Token metadata is immutable in practice, so cached entries are trusted
// for the full TTL.
type TokenReader struct {
	caller ContractCaller
	cache  cache.Cache
	ttl    time.Duration
	abi    abi.ABI
	group  singleflight.Group
	logger *slog.Logger
}

// NewTokenReader creates a reader. c may be nil to disable caching.
func NewTokenReader(caller ContractCaller, c cache.Cache, ttl time.Duration, logger *slog.Logger) (*TokenReader, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TokenReader{
		caller: caller,
		cache:  c,
		ttl:    ttl,
		abi:    parsed,
		logger: logger.With("component", "token_reader"),
	}, nil
}

func tokenCacheKey(addr common.Address) string {
	return "token:meta:" + strings.ToLower(addr.Hex())
}

// Metadata returns decimals and symbol for addr. Concurrent lookups of the
// same address share one chain read.
func (r *TokenReader) Metadata(ctx context.Context, addr common.Address) (TokenMetadata, error) {
	key := tokenCacheKey(addr)

	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, key); err == nil {
			var md TokenMetadata
			if err := json.Unmarshal(raw, &md); err == nil {
				return md, nil
			}
			r.logger.WarnContext(ctx, "discarding corrupt token metadata", "token", addr.Hex())
		} else if !errors.Is(err, cache.ErrNotFound) {
			r.logger.WarnContext(ctx, "token metadata cache read failed", "token", addr.Hex(), "error", err)
		}
	}

	// the read is shared, so it must not die with the caller that started it
	ch := r.group.DoChan(key, func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metadataReadTimeout)
		defer cancel()
		return r.readChain(readCtx, addr)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return TokenMetadata{}, ctx.Err()
	}
	if res.Err != nil {
		return TokenMetadata{}, res.Err
	}
	md := res.Val.(TokenMetadata)

	if r.cache != nil {
		if raw, err := json.Marshal(md); err == nil {
			if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
				r.logger.WarnContext(ctx, "token metadata cache write failed", "token", addr.Hex(), "error", err)
			}
		}
	}
	return md, nil
}

func (r *TokenReader) readChain(ctx context.Context, addr common.Address) (TokenMetadata, error) {
	md := TokenMetadata{Address: addr}

	out, err := r.call(ctx, addr, "decimals")
	if err != nil {
		return md, fmt.Errorf("decimals() on %s: %w", addr.Hex(), err)
	}
	vals, err := r.abi.Unpack("decimals", out)
	if err != nil {
		return md, fmt.Errorf("decode decimals() on %s: %w", addr.Hex(), err)
	}
	if len(vals) != 1 {
		return md, fmt.Errorf("decode decimals() on %s: expected 1 value, got %d", addr.Hex(), len(vals))
	}
	dec, ok := vals[0].(uint8)
	if !ok {
		return md, fmt.Errorf("decode decimals() on %s: unexpected type %T", addr.Hex(), vals[0])
	}
	md.Decimals = dec

	// symbol is cosmetic; a token without it still quotes
	if out, err := r.call(ctx, addr, "symbol"); err == nil {
		md.Symbol = r.decodeSymbol(out)
	} else if ctx.Err() != nil {
		return md, ctx.Err()
	}

	return md, nil
}

func (r *TokenReader) call(ctx context.Context, addr common.Address, method string) ([]byte, error) {
	data, err := r.abi.Pack(method)
	if err != nil {
		return nil, err
	}
	return r.caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
}

// decodeSymbol accepts both string and legacy bytes32 encodings
func (r *TokenReader) decodeSymbol(out []byte) string {
	if vals, err := r.abi.Unpack("symbol", out); err == nil && len(vals) == 1 {
		if s, ok := vals[0].(string); ok {
			return s
		}
	}
	if len(out) == 32 {
		return string(bytes.TrimRight(out, "\x00"))
	}
	return ""
}
