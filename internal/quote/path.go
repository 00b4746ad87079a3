// Package quote resolves executable swap quotes across V2-style routers.
package quote

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeSentinel is the placeholder address wallets use for BNB
var NativeSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Path is an ordered token route: [sell, buy] or [sell, hop, buy]
type Path []common.Address

// String renders the path as short hex addresses joined by ">"
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, a := range p {
		h := a.Hex()
		parts[i] = h[:6] + ".." + h[len(h)-4:]
	}
	return strings.Join(parts, ">")
}

// Hops returns the number of swaps along the path
func (p Path) Hops() int {
	if len(p) < 2 {
		return 0
	}
	return len(p) - 1
}

// Clone returns a copy that shares no backing array with p
func (p Path) Clone() Path {
	return append(Path(nil), p...)
}

func (p Path) equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// ForcedHop pins Via as the intermediate token for the unordered pair {A, B}
type ForcedHop struct {
	A, B, Via common.Address
}

func (f ForcedHop) matches(sell, buy common.Address) bool {
	return (f.A == sell && f.B == buy) || (f.A == buy && f.B == sell)
}

// PathOptions carries the static routing inputs besides the hop list
type PathOptions struct {
	WrappedNative common.Address
	ForcedHops    []ForcedHop
}

// BuildPaths returns candidate paths in the order they should be tried:
// direct first, then forced hops for the pair, then each generic hop.
// The native sentinel is replaced by the wrapped native token. An empty
// result means the pair itself is unusable.
func BuildPaths(sell, buy common.Address, hops []common.Address, opts PathOptions) []Path {
	sell = normalize(sell, opts.WrappedNative)
	buy = normalize(buy, opts.WrappedNative)

	if sell == (common.Address{}) || buy == (common.Address{}) || sell == buy {
		return nil
	}

	paths := []Path{{sell, buy}}
	add := func(hop common.Address) {
		hop = normalize(hop, opts.WrappedNative)
		if hop == (common.Address{}) || hop == sell || hop == buy {
			return
		}
		candidate := Path{sell, hop, buy}
		for _, p := range paths {
			if p.equal(candidate) {
				return
			}
		}
		paths = append(paths, candidate)
	}

	for _, f := range opts.ForcedHops {
		f.A, f.B = normalize(f.A, opts.WrappedNative), normalize(f.B, opts.WrappedNative)
		if f.matches(sell, buy) {
			add(f.Via)
		}
	}
	for _, hop := range hops {
		add(hop)
	}
	return paths
}

func normalize(token, wrapped common.Address) common.Address {
	if token == NativeSentinel && wrapped != (common.Address{}) {
		return wrapped
	}
	return token
}

// PathBuilder binds a hop list and rule table to BuildPaths
type PathBuilder struct {
	hops []common.Address
	opts PathOptions
}

// NewPathBuilder creates a builder. Rules may name WBNB or the sentinel;
// both match the same pair.
func NewPathBuilder(hops []common.Address, opts PathOptions) *PathBuilder {
	opts.ForcedHops = append([]ForcedHop(nil), opts.ForcedHops...)
	return &PathBuilder{
		hops: append([]common.Address(nil), hops...),
		opts: opts,
	}
}

// Build returns candidate paths for a pair
func (b *PathBuilder) Build(sell, buy common.Address) []Path {
	return BuildPaths(sell, buy, b.hops, b.opts)
}

// WrappedNative returns the token the native sentinel maps to
func (b *PathBuilder) WrappedNative() common.Address {
	return b.opts.WrappedNative
}
