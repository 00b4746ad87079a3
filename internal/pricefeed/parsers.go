package pricefeed

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrBadSchema marks an upstream document missing a required numeric field
var ErrBadSchema = errors.New("bad schema")

// Parser extracts a PricePayload from an upstream response body
type Parser interface {
	Parse(body []byte) (PricePayload, error)
}

// DexScreenerParser reads the pair-stats shape:
//
//	{"pairs":[{"priceUsd":"0.12","priceNative":"0.0002"}]}
type DexScreenerParser struct{}

// Parse implements Parser.
func (DexScreenerParser) Parse(body []byte) (PricePayload, error) {
	if !gjson.ValidBytes(body) {
		return PricePayload{}, fmt.Errorf("%w: invalid json", ErrBadSchema)
	}
	pair := gjson.GetBytes(body, "pairs.0")
	if !pair.Exists() {
		return PricePayload{}, fmt.Errorf("%w: no pair", ErrBadSchema)
	}

	usd, err := number(pair.Get("priceUsd"))
	if err != nil {
		return PricePayload{}, fmt.Errorf("%w: priceUsd: %v", ErrBadSchema, err)
	}
	p := PricePayload{
		Data:        bytes.Clone(body),
		USD:         usd,
		SchemaValid: true,
	}
	if native, err := number(pair.Get("priceNative")); err == nil {
		p.Native, p.HasNative = native, true
	} else {
		p.SchemaValid = false
	}
	return p, nil
}

// SymbolParser reads the symbol-keyed shape: {"<id>":{"usd":0.12,"bnb":0.0002}}
type SymbolParser struct {
	ID        string
	NativeKey string // defaults to "bnb"
}

// Parse implements Parser.
func (s SymbolParser) Parse(body []byte) (PricePayload, error) {
	if !gjson.ValidBytes(body) {
		return PricePayload{}, fmt.Errorf("%w: invalid json", ErrBadSchema)
	}
	entry := gjson.GetBytes(body, gjson.Escape(s.ID))
	if !entry.Exists() {
		return PricePayload{}, fmt.Errorf("%w: no entry for %q", ErrBadSchema, s.ID)
	}
	usd, err := number(entry.Get("usd"))
	if err != nil {
		return PricePayload{}, fmt.Errorf("%w: usd: %v", ErrBadSchema, err)
	}

	nativeKey := s.NativeKey
	if nativeKey == "" {
		nativeKey = "bnb"
	}
	p := PricePayload{Data: bytes.Clone(body), USD: usd, SchemaValid: true}
	if native, err := number(entry.Get(gjson.Escape(nativeKey))); err == nil {
		p.Native, p.HasNative = native, true
	}
	return p, nil
}

// PricebookParser reads a pricebook document with a top-level tokens array.
// A document without the array is still returned, with SchemaValid unset.
// When the array is present the featured token and its usd price are
// required.
type PricebookParser struct {
	Symbol string
}

// Parse implements Parser.
func (pb PricebookParser) Parse(body []byte) (PricePayload, error) {
	if !gjson.ValidBytes(body) {
		return PricePayload{}, fmt.Errorf("%w: invalid json", ErrBadSchema)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return PricePayload{}, fmt.Errorf("%w: not an object", ErrBadSchema)
	}

	p := PricePayload{Data: bytes.Clone(body)}
	tokens := doc.Get("tokens")
	if !tokens.IsArray() {
		return p, nil
	}
	var (
		found  bool
		usdErr error
	)
	tokens.ForEach(func(_, tok gjson.Result) bool {
		if !strings.EqualFold(tok.Get("symbol").String(), pb.Symbol) {
			return true
		}
		found = true
		p.USD, usdErr = number(firstOf(tok, "usd", "priceUsd"))
		if native, err := number(firstOf(tok, "native", "priceNative", "bnb")); err == nil {
			p.Native, p.HasNative = native, true
		}
		return false
	})
	if !found {
		return PricePayload{}, fmt.Errorf("%w: no %s entry in tokens", ErrBadSchema, pb.Symbol)
	}
	if usdErr != nil {
		return PricePayload{}, fmt.Errorf("%w: %s usd: %v", ErrBadSchema, pb.Symbol, usdErr)
	}
	p.SchemaValid = true
	return p, nil
}

func firstOf(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// number accepts JSON numbers and numeric strings, rejecting anything
// negative or non-finite
func number(r gjson.Result) (float64, error) {
	var (
		v   float64
		err error
	)
	switch r.Type {
	case gjson.Number:
		v = r.Num
	case gjson.String:
		v, err = strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", r.Str)
		}
	case gjson.Null:
		if !r.Exists() {
			return 0, errors.New("missing")
		}
		return 0, errors.New("null")
	default:
		return 0, fmt.Errorf("unexpected %s", r.Type)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("out of range: %v", v)
	}
	return v, nil
}
